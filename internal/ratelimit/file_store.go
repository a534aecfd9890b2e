package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"formgate/internal/constants"
)

const (
	fileStoreStripes = 64
	windowFileSuffix = ".json"
)

// FileStore keeps one JSON file per key under dir. Updates of a key are
// serialized through a striped mutex and written with a temp-file rename,
// so readers never observe a partial file. Locking is per process only.
type FileStore struct {
	dir     string
	seed    maphash.Seed
	stripes [fileStoreStripes]sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create rate limit dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, seed: maphash.MakeSeed()}, nil
}

func (s *FileStore) Name() string {
	return constants.StoreTypeFile
}

func (s *FileStore) lock(key string) *sync.Mutex {
	return &s.stripes[maphash.String(s.seed, key)%fileStoreStripes]
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+windowFileSuffix)
}

func (s *FileStore) LoadAndUpdate(ctx context.Context, key string, fn UpdateFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observeStore(s.Name(), start, err) }()

	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	path := s.path(key)
	data, readErr := os.ReadFile(path)
	if errors.Is(readErr, fs.ErrNotExist) {
		readErr = nil
	}

	next := fn(decodeWindow(data))

	if len(next) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove window %s: %w", key, err)
		}
	} else if err := s.write(key, next); err != nil {
		return err
	}

	if readErr != nil {
		return fmt.Errorf("failed to read window %s: %w", key, readErr)
	}
	return nil
}

func (s *FileStore) write(key string, timestamps []int64) error {
	data, err := encodeWindow(timestamps)
	if err != nil {
		return fmt.Errorf("failed to encode window %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write window %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close window %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace window %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Reclaim(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list rate limit dir: %w", err)
	}

	limit := cutoff.Unix()
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, windowFileSuffix) {
			continue
		}
		key := strings.TrimSuffix(name, windowFileSuffix)

		if s.reclaimKey(key, limit) {
			removed++
		}
	}
	return removed, nil
}

func (s *FileStore) reclaimKey(key string, limit int64) bool {
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return false
	}
	if newest(decodeWindow(data)) >= limit {
		return false
	}
	return os.Remove(s.path(key)) == nil
}
