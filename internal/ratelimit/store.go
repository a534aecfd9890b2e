package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"formgate/pkg/metrics"
)

// UpdateFunc receives the current timestamps for a key and returns the set
// to persist. An empty result allows the store to drop the record.
type UpdateFunc func(timestamps []int64) []int64

// Store persists one timestamp window per sanitized identity key.
//
// LoadAndUpdate must be atomic per key: no other update of the same key may
// interleave between the read handed to fn and the write of its result.
// Corrupt or unreadable records are handed to fn as an empty window.
// Optimistic stores may call fn more than once; only the result of the
// last call is persisted.
type Store interface {
	LoadAndUpdate(ctx context.Context, key string, fn UpdateFunc) error
	Name() string
}

// Window is the outcome of one sliding-window step for a key.
type Window struct {
	Allowed bool
	Hits    int
	Oldest  int64
}

// WindowStore is implemented by stores that run the whole sliding-window
// step on their own side in one atomic operation. The limiter prefers it to
// LoadAndUpdate. now and window are in seconds.
type WindowStore interface {
	Store
	RecordHit(ctx context.Context, key string, now, window int64, maxHits int) (Window, error)
}

// Reclaimer is implemented by stores that can drop whole records whose
// newest timestamp is older than cutoff.
type Reclaimer interface {
	Reclaim(ctx context.Context, cutoff time.Time) (int, error)
}

// decodeWindow parses the persisted JSON list. A record that is not a list
// is an empty window; list entries that are not integers are dropped one by
// one.
func decodeWindow(data []byte) []int64 {
	if len(data) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	timestamps := make([]int64, 0, len(entries))
	for _, entry := range entries {
		var ts int64
		if err := json.Unmarshal(entry, &ts); err != nil {
			continue
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps
}

// recordHit runs one sliding-window step against store. When the step could
// not run at all the returned Window is the one computed from an empty
// window; on ErrContention it is whatever the last attempt saw.
func recordHit(ctx context.Context, store Store, key string, now, window int64, maxHits int) (Window, error) {
	if ws, ok := store.(WindowStore); ok {
		w, err := ws.RecordHit(ctx, key, now, window, maxHits)
		if err != nil && !errors.Is(err, ErrContention) {
			w, _ = slideWindow(nil, now, window, maxHits)
		}
		return w, err
	}

	var (
		w       Window
		visited bool
	)
	err := store.LoadAndUpdate(ctx, key, func(timestamps []int64) []int64 {
		visited = true
		var kept []int64
		w, kept = slideWindow(timestamps, now, window, maxHits)
		return kept
	})
	if err != nil && !visited {
		w, _ = slideWindow(nil, now, window, maxHits)
	}
	return w, err
}

// slideWindow drops timestamps that left the window and appends now when a
// slot is free. The returned slice is what the store persists.
func slideWindow(timestamps []int64, now, window int64, maxHits int) (Window, []int64) {
	kept := make([]int64, 0, len(timestamps)+1)
	var oldest int64
	for _, ts := range timestamps {
		if now-ts < window {
			kept = append(kept, ts)
			if oldest == 0 || ts < oldest {
				oldest = ts
			}
		}
	}

	if len(kept) >= maxHits {
		return Window{Allowed: false, Hits: len(kept), Oldest: oldest}, kept
	}

	kept = append(kept, now)
	return Window{Allowed: true, Hits: len(kept), Oldest: oldest}, kept
}

func encodeWindow(timestamps []int64) ([]byte, error) {
	if timestamps == nil {
		timestamps = []int64{}
	}
	return json.Marshal(timestamps)
}

func newest(timestamps []int64) int64 {
	var n int64
	for _, ts := range timestamps {
		if ts > n {
			n = ts
		}
	}
	return n
}

func observeStore(store string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveRateLimitStore(store, status, time.Since(start))
}
