package reporting

import (
	"context"
	"errors"
	"time"

	"callpilot/internal/calls"
)

const defaultPageSize = 500

// StoreRepo reads reporting rows from a calls.Store by paging through List,
// which returns newest-created first, and stopping at the first row older than the range.
type StoreRepo struct {
	Store    calls.Store
	PageSize int
}

func NewStoreRepo(s calls.Store) *StoreRepo { return &StoreRepo{Store: s} }

func (r *StoreRepo) ListCalls(ctx context.Context, from, to time.Time) ([]calls.Call, error) {
	if r.Store == nil {
		return nil, errors.New("reporting: store not configured")
	}
	size := r.PageSize
	if size <= 0 || size > calls.MaxListLimit {
		size = defaultPageSize
	}

	out := make([]calls.Call, 0)
	for offset := 0; ; offset += size {
		page, err := r.Store.List(ctx, calls.ListFilter{Limit: size, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			if c.CreatedAt.Before(from) {
				return out, nil
			}
			if c.CreatedAt.Before(to) {
				out = append(out, c)
			}
		}
		if len(page) < size {
			return out, nil
		}
	}
}
