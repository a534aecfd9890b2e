// Package submission runs the ordered anti-abuse gate chain over one form
// submission and hands the assembled message to a Sender.
package submission

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/logger"
	"formgate/internal/ratelimit"
	apperrors "formgate/pkg/errors"
	"formgate/pkg/metrics"
	"formgate/pkg/tracing"
)

const (
	tracerName          = "submission-pipeline"
	bodySeparator       = "----------------------------------------"
	defaultSubjectField = constants.DefaultSubjectField
)

type RateLimiter interface {
	CheckAndRecord(ctx context.Context, identity string) ratelimit.Result
}

// ChallengeVerifier checks a human-verification token. Any non-nil error is
// a failed verification.
type ChallengeVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Result is the single outcome of Process.
type Result struct {
	Success    bool
	Message    string
	Reason     Reason
	Gate       string
	RetryAfter time.Duration
	MessageID  string
}

type Option func(*Pipeline)

// WithChallengeVerifier enables the challenge gate. Without it the gate
// accepts every submission.
func WithChallengeVerifier(v ChallengeVerifier) Option {
	return func(p *Pipeline) {
		p.verifier = v
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

type Pipeline struct {
	cfg      config.GateConfig
	limiter  RateLimiter
	verifier ChallengeVerifier
	sender   Sender
	logger   logger.Logger
	now      func() time.Time
	gates    []Gate
}

func NewPipeline(cfg config.GateConfig, limiter RateLimiter, sender Sender, log logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.NopLogger()
	}

	p := &Pipeline{
		cfg:     withGateDefaults(cfg),
		limiter: limiter,
		sender:  sender,
		logger:  log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.gates = p.buildGates()
	return p
}

func withGateDefaults(cfg config.GateConfig) config.GateConfig {
	if cfg.MinElapsed <= 0 {
		cfg.MinElapsed = constants.DefaultMinElapsed
	}
	if cfg.UserAgentBlacklist == nil {
		cfg.UserAgentBlacklist = constants.DefaultUserAgentBlacklist
	}
	blacklist := make([]string, 0, len(cfg.UserAgentBlacklist))
	for _, term := range cfg.UserAgentBlacklist {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			blacklist = append(blacklist, term)
		}
	}
	cfg.UserAgentBlacklist = blacklist

	if cfg.HoneypotField == "" {
		cfg.HoneypotField = constants.DefaultHoneypotField
	}
	if cfg.StartTimeField == "" {
		cfg.StartTimeField = constants.DefaultStartTimeField
	}
	if cfg.CSRFField == "" {
		cfg.CSRFField = constants.DefaultCSRFField
	}
	if cfg.ChallengeField == "" {
		cfg.ChallengeField = constants.DefaultChallengeField
	}
	if !SupportedLocale(cfg.Locale) {
		cfg.Locale = constants.DefaultLocale
	}
	return cfg
}

// Gates returns the gate names in evaluation order.
func (p *Pipeline) Gates() []string {
	names := make([]string, len(p.gates))
	for i, g := range p.gates {
		names[i] = g.Name
	}
	return names
}

// Process evaluates raw against cfg. It never panics and never returns an
// error: every exit is a Result.
func (p *Pipeline) Process(ctx context.Context, cfg SubmissionConfig, raw RawSubmission) (res Result) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "submission.process")
	defer span.End()
	span.SetAttributes(attribute.String("site.id", cfg.SiteID))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Submission pipeline panicked", "error", err)
			span.RecordError(err)
			res = p.rejection("", &Rejection{Reason: ReasonInternal, Err: err})
		}

		span.SetAttributes(
			attribute.Bool("submission.success", res.Success),
			attribute.String("submission.reason", string(res.Reason)),
		)
		if !res.Success {
			span.SetStatus(codes.Error, string(res.Reason))
		}
		metrics.ObserveSubmission(time.Since(start), resultLabel(res), string(res.Reason))
	}()

	if strings.TrimSpace(raw.Identity) == "" {
		raw.Identity = constants.UnknownClientIP
	}
	if raw.Fields == nil {
		raw.Fields = map[string]FieldValue{}
	}

	st := &State{
		Config: cfg,
		Raw:    raw,
		Now:    p.now(),
	}

	for _, gate := range p.gates {
		if rej := gate.Check(ctx, st); rej != nil {
			metrics.IncGateRejection(gate.Name)
			p.logRejection(ctx, gate.Name, rej)
			res = p.rejection(gate.Name, rej)
			if rej.Reason == ReasonRateLimited {
				res.RetryAfter = st.RateLimit.RetryAfter
			}
			return res
		}
	}

	return Result{
		Success:   true,
		Message:   MessageFor(p.cfg.Locale, ReasonOK),
		Reason:    ReasonOK,
		MessageID: st.Message.ID,
	}
}

func (p *Pipeline) rejection(gate string, rej *Rejection) Result {
	return Result{
		Success: false,
		Message: MessageFor(p.cfg.Locale, rej.Reason),
		Reason:  rej.Reason,
		Gate:    gate,
	}
}

func (p *Pipeline) logRejection(ctx context.Context, gate string, rej *Rejection) {
	kv := []interface{}{"gate", gate, "reason", string(rej.Reason)}
	if rej.Err != nil {
		kv = append(kv, "error", rej.Err)
	}

	switch {
	case rej.Reason.OperatorFault():
		p.logger.ErrorwCtx(ctx, "Submission rejected by operator fault", kv...)
	case rej.Err != nil:
		p.logger.WarnwCtx(ctx, "Submission rejected", kv...)
	default:
		p.logger.InfowCtx(ctx, "Submission rejected", kv...)
	}
}

func resultLabel(res Result) string {
	if res.Success {
		return "accepted"
	}
	return "rejected"
}
