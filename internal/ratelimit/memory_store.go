package ratelimit

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"formgate/internal/constants"
)

// MemoryStore keeps windows in process memory. Map.Compute holds the
// bucket lock for the key while fn runs, which gives per-key atomicity
// without a global lock.
type MemoryStore struct {
	windows *xsync.Map[string, []int64]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: xsync.NewMap[string, []int64](),
	}
}

func (s *MemoryStore) Name() string {
	return constants.StoreTypeMemory
}

func (s *MemoryStore) LoadAndUpdate(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.windows.Compute(key, func(old []int64, loaded bool) ([]int64, xsync.ComputeOp) {
		next := fn(append([]int64(nil), old...))
		if len(next) == 0 {
			if loaded {
				return old, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		}
		return append([]int64(nil), next...), xsync.UpdateOp
	})
	return nil
}

func (s *MemoryStore) Reclaim(ctx context.Context, cutoff time.Time) (int, error) {
	limit := cutoff.Unix()
	removed := 0

	s.windows.Range(func(key string, _ []int64) bool {
		if ctx.Err() != nil {
			return false
		}
		s.windows.Compute(key, func(current []int64, loaded bool) ([]int64, xsync.ComputeOp) {
			if loaded && newest(current) < limit {
				removed++
				return current, xsync.DeleteOp
			}
			return current, xsync.CancelOp
		})
		return true
	})

	return removed, ctx.Err()
}

// Len reports the number of tracked identities.
func (s *MemoryStore) Len() int {
	return s.windows.Size()
}
