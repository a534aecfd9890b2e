package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"formgate/internal/constants"
)

// ErrContention is returned when an optimistic update lost every retry to
// concurrent writers of the same key.
var ErrContention = errors.New("rate limit window contended")

// slidingWindowLuaScript filters, decides and appends in one server-side
// step, so concurrent hits on a key are serialized by Redis itself.
// Entries that are not integers are dropped.
const slidingWindowLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local maxHits = tonumber(ARGV[3])
local ttlMs = tonumber(ARGV[4])

local kept = {}
local oldest = 0
local raw = redis.call("GET", key)
if raw then
    local ok, decoded = pcall(cjson.decode, raw)
    if ok and type(decoded) == "table" then
        for _, ts in ipairs(decoded) do
            if type(ts) == "number" and ts == math.floor(ts) and now - ts < window then
                table.insert(kept, ts)
                if oldest == 0 or ts < oldest then
                    oldest = ts
                end
            end
        end
    end
end

local allowed = 0
if #kept < maxHits then
    table.insert(kept, now)
    allowed = 1
end

if #kept == 0 then
    redis.call("DEL", key)
else
    redis.call("SET", key, cjson.encode(kept), "PX", ttlMs)
end

return {allowed, #kept, oldest}
`

// RedisStore keeps each window as a JSON list under prefix+key. Limiter
// hits run as one Lua script; generic updates use WATCH/MULTI so a
// concurrent writer of the same key aborts the transaction and the update
// is replayed against fresh state.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries int
	script     *redis.Script
}

// NewRedisStore expires records ttl after their last update; pass the
// limiter window so stale identities clean themselves up.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     constants.RateLimitKeyPrefix,
		ttl:        ttl,
		maxRetries: constants.RedisWatchRetries,
		script:     redis.NewScript(slidingWindowLuaScript),
	}
}

func (s *RedisStore) Name() string {
	return constants.StoreTypeRedis
}

func (s *RedisStore) RecordHit(ctx context.Context, key string, now, window int64, maxHits int) (w Window, err error) {
	start := time.Now()
	defer func() { observeStore(s.Name(), start, err) }()

	ttlMs := s.ttl.Milliseconds()
	if ttlMs < 1 {
		ttlMs = window * 1000
	}

	vals, err := s.script.Run(ctx, s.client, []string{s.prefix + key},
		now, window, maxHits, ttlMs,
	).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("redis sliding window script failed: %w", err)
	}
	if len(vals) != 3 {
		return Window{}, fmt.Errorf("redis sliding window script returned %d values", len(vals))
	}

	return Window{
		Allowed: vals[0] == 1,
		Hits:    int(vals[1]),
		Oldest:  vals[2],
	}, nil
}

func (s *RedisStore) LoadAndUpdate(ctx context.Context, key string, fn UpdateFunc) (err error) {
	start := time.Now()
	defer func() { observeStore(s.Name(), start, err) }()

	rkey := s.prefix + key

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rkey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get failed: %w", err)
		}

		next := fn(decodeWindow(data))

		var encoded []byte
		if len(next) > 0 {
			if encoded, err = encodeWindow(next); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(next) == 0 {
				pipe.Del(ctx, rkey)
				return nil
			}
			pipe.Set(ctx, rkey, encoded, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, rkey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrContention
}
