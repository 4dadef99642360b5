package calls

import (
	"context"
	"slices"
	"time"
)

// Store is the single source of truth for call state.
//
// Rules:
// - Only the orchestrator writes; everything else reads.
// - Update applies a partial merge atomically with respect to readers of the same record.
// - List returns newest-created first.
type Store interface {
	Save(ctx context.Context, c Call) error
	Update(ctx context.Context, id string, p Patch) (Call, error)
	Get(ctx context.Context, id string) (Call, error)
	List(ctx context.Context, f ListFilter) ([]Call, error)

	// ListStale returns calls in one of statuses created strictly before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, statuses []Status) ([]Call, error)
}

// ListFilter selects a page of calls. Zero Limit means DefaultListLimit.
type ListFilter struct {
	Limit  int
	Offset int
	Status Status
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

func (f ListFilter) withDefaults() ListFilter {
	out := f
	if out.Limit <= 0 {
		out.Limit = DefaultListLimit
	}
	if out.Limit > MaxListLimit {
		out.Limit = MaxListLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

// Patch is a partial update. Nil fields are absent and keep their prior value.
type Patch struct {
	Status          *Status
	ProviderCallID  *string
	CompletedAt     *time.Time
	DurationSeconds *int
	Transcript      *string
	Success         *bool
	ErrorMessage    *string

	// Metadata is merged key by key into the stored map.
	Metadata map[string]any

	// IfStatus, when set, makes the patch conditional on the current status
	// being one of these. A mismatch yields ErrStatusConflict and nothing is written.
	IfStatus []Status
}

// IsEmpty reports whether the patch carries no field changes.
// IfStatus alone does not count as a change.
func (p Patch) IsEmpty() bool {
	return p.Status == nil &&
		p.ProviderCallID == nil &&
		p.CompletedAt == nil &&
		p.DurationSeconds == nil &&
		p.Transcript == nil &&
		p.Success == nil &&
		p.ErrorMessage == nil &&
		len(p.Metadata) == 0
}

// allows reports whether the guard admits the current status.
func (p Patch) allows(current Status) bool {
	return len(p.IfStatus) == 0 || slices.Contains(p.IfStatus, current)
}

// apply merges p into c and returns the result. c is not modified.
func (p Patch) apply(c Call, now time.Time) Call {
	out := c.Clone()
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.ProviderCallID != nil {
		out.ProviderCallID = *p.ProviderCallID
	}
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		out.CompletedAt = &t
	}
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		out.DurationSeconds = &d
	}
	if p.Transcript != nil {
		s := *p.Transcript
		out.Transcript = &s
	}
	if p.Success != nil {
		b := *p.Success
		out.Success = &b
	}
	if p.ErrorMessage != nil {
		s := *p.ErrorMessage
		out.ErrorMessage = &s
	}
	if len(p.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	out.UpdatedAt = now.UTC()
	return out
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }
