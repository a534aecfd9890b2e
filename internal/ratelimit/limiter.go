// Package ratelimit enforces a sliding-window quota of accepted submissions
// per caller identity on top of a pluggable Store.
package ratelimit

import (
	"context"
	"errors"
	"regexp"
	"time"

	"formgate/internal/constants"
	"formgate/internal/logger"
	"formgate/pkg/metrics"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeKey maps an identity onto a storage-safe key. Every character
// outside [A-Za-z0-9_.-] becomes '_'; the mapping is idempotent.
func SanitizeKey(identity string) string {
	return unsafeKeyChars.ReplaceAllString(identity, "_")
}

type Config struct {
	Window  time.Duration
	MaxHits int
}

func DefaultConfig() Config {
	return Config{
		Window:  constants.DefaultRateLimitWindow,
		MaxHits: constants.DefaultRateLimitMaxHits,
	}
}

// Result is the outcome of one CheckAndRecord call.
//
// Degraded reports that the store failed during the call. The decision is
// still the one computed from whatever state was visible, which is the empty
// window when the read itself failed.
type Result struct {
	Allowed    bool
	Degraded   bool
	Hits       int
	RetryAfter time.Duration
	Err        error
}

func (r Result) Status() string {
	switch {
	case r.Degraded:
		return "degraded"
	case r.Allowed:
		return "allowed"
	default:
		return "limited"
	}
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(l *Limiter) {
		l.logger = log
	}
}

type Limiter struct {
	cfg    Config
	store  Store
	now    func() time.Time
	logger logger.Logger
}

func NewLimiter(cfg Config, store Store, opts ...Option) *Limiter {
	d := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.MaxHits <= 0 {
		cfg.MaxHits = d.MaxHits
	}

	l := &Limiter{
		cfg:    cfg,
		store:  store,
		now:    time.Now,
		logger: logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Config() Config {
	return l.cfg
}

// CheckAndRecord decides whether identity may submit now and, when it may,
// records the attempt. Store failures never surface as errors. A call that
// lost every race for its key is rejected rather than admitted unrecorded.
func (l *Limiter) CheckAndRecord(ctx context.Context, identity string) Result {
	key := SanitizeKey(identity)
	nowSec := l.now().Unix()
	window := int64(l.cfg.Window / time.Second)
	if window < 1 {
		window = 1
	}

	w, err := recordHit(ctx, l.store, key, nowSec, window, l.cfg.MaxHits)

	var res Result
	switch {
	case err == nil:
		res = l.result(w, nowSec, window)
	case errors.Is(err, ErrContention):
		res = Result{Allowed: false, Hits: w.Hits, RetryAfter: time.Second, Err: err}
		l.logger.InfowCtx(ctx, "Rate limit window contended, rejecting attempt",
			"key", key,
			"hits", w.Hits,
		)
	default:
		res = l.result(w, nowSec, window)
		res.Degraded = true
		res.Err = err
		l.logger.WarnwCtx(ctx, "Rate limit store unavailable, decision computed from local view",
			"key", key,
			"allowed", res.Allowed,
			"error", err,
		)
	}

	metrics.IncRateLimitDecision(res.Status())
	return res
}

func (l *Limiter) result(w Window, nowSec, window int64) Result {
	if w.Allowed {
		return Result{Allowed: true, Hits: w.Hits}
	}
	retry := time.Duration(w.Oldest+window-nowSec) * time.Second
	if retry < 0 {
		retry = 0
	}
	return Result{Allowed: false, Hits: w.Hits, RetryAfter: retry}
}
