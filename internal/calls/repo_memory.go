package calls

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests, the CLI dry runs and single-node demos.
// Records are copied on the way in and out, so callers never alias stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	calls map[string]Call
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: map[string]Call{}, clock: time.Now}
}

func (s *MemoryStore) Save(ctx context.Context, c Call) error {
	if c.ID == "" {
		return errors.New("calls: id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; ok {
		return ErrDuplicateID
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.calls[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, p Patch) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if !p.allows(cur.Status) {
		return cur.Clone(), ErrStatusConflict
	}
	if p.IsEmpty() {
		return cur.Clone(), nil
	}
	next := p.apply(cur, s.clock())
	s.calls[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]Call, error) {
	f = f.withDefaults()
	s.mu.RLock()
	rows := make([]Call, 0, len(s.calls))
	for _, c := range s.calls {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		rows = append(rows, c.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(rows)
	if f.Offset >= len(rows) {
		return []Call{}, nil
	}
	rows = rows[f.Offset:]
	if len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, cutoff time.Time, statuses []Status) ([]Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, 0)
	for _, c := range s.calls {
		if !c.CreatedAt.Before(cutoff) {
			continue
		}
		if !slices.Contains(statuses, c.Status) {
			continue
		}
		out = append(out, c.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst orders by creation time descending, id as a stable tie-break.
func sortNewestFirst(rows []Call) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}
