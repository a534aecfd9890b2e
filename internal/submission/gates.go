package submission

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"formgate/internal/ratelimit"
	"formgate/pkg/logging"
)

// State is the evolving per-request context passed through the gates.
type State struct {
	Config    SubmissionConfig
	Raw       RawSubmission
	Now       time.Time
	Clean     *CleanSubmission
	Message   Message
	RateLimit ratelimit.Result
}

// Rejection terminates the pipeline. Err carries operator detail that is
// logged but never shown to the caller.
type Rejection struct {
	Reason Reason
	Err    error
}

func reject(reason Reason) *Rejection {
	return &Rejection{Reason: reason}
}

type Gate struct {
	Name  string
	Check func(ctx context.Context, st *State) *Rejection
}

const (
	GateMethod      = "method"
	GateUserAgent   = "user_agent"
	GateRateLimit   = "rate_limit"
	GateHoneypot    = "honeypot"
	GateTiming      = "timing"
	GateCSRF        = "csrf"
	GateChallenge   = "challenge"
	GateFields      = "fields"
	GateFieldFormat = "field_format"
	GateAssemble    = "assemble"
	GateDeliver     = "deliver"
)

func (p *Pipeline) buildGates() []Gate {
	return []Gate{
		{Name: GateMethod, Check: p.checkMethod},
		{Name: GateUserAgent, Check: p.checkUserAgent},
		{Name: GateRateLimit, Check: p.checkRateLimit},
		{Name: GateHoneypot, Check: p.checkHoneypot},
		{Name: GateTiming, Check: p.checkTiming},
		{Name: GateCSRF, Check: p.checkCSRF},
		{Name: GateChallenge, Check: p.checkChallenge},
		{Name: GateFields, Check: p.normalizeFields},
		{Name: GateFieldFormat, Check: p.checkFieldFormats},
		{Name: GateAssemble, Check: p.assemble},
		{Name: GateDeliver, Check: p.deliver},
	}
}

func (p *Pipeline) checkMethod(_ context.Context, st *State) *Rejection {
	if st.Raw.Method != http.MethodPost {
		return reject(ReasonMethod)
	}
	return nil
}

func (p *Pipeline) checkUserAgent(_ context.Context, st *State) *Rejection {
	if SuspiciousUserAgent(st.Raw.UserAgent, p.cfg.UserAgentBlacklist) {
		return reject(ReasonUserAgent)
	}
	return nil
}

func (p *Pipeline) checkRateLimit(ctx context.Context, st *State) *Rejection {
	st.RateLimit = p.limiter.CheckAndRecord(ctx, st.Raw.Identity)
	if !st.RateLimit.Allowed {
		return reject(ReasonRateLimited)
	}
	return nil
}

func (p *Pipeline) checkHoneypot(_ context.Context, st *State) *Rejection {
	trap := st.Raw.Field(p.cfg.HoneypotField)
	if trap.Composite || !trap.IsEmpty() {
		return reject(ReasonHoneypot)
	}
	return nil
}

func (p *Pipeline) checkTiming(_ context.Context, st *State) *Rejection {
	raw, _ := st.Raw.Field(p.cfg.StartTimeField).Scalar()
	startMs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || startMs <= 0 {
		return reject(ReasonTimingInvalid)
	}

	elapsed := st.Now.UnixMilli() - startMs
	if elapsed < p.cfg.MinElapsed.Milliseconds() {
		return reject(ReasonTooFast)
	}
	return nil
}

func (p *Pipeline) checkCSRF(_ context.Context, st *State) *Rejection {
	submitted, _ := st.Raw.Field(p.cfg.CSRFField).Scalar()
	if !TokensEqual(strings.TrimSpace(st.Raw.CSRFCookie), strings.TrimSpace(submitted)) {
		return reject(ReasonCSRF)
	}
	return nil
}

func (p *Pipeline) checkChallenge(ctx context.Context, st *State) *Rejection {
	if p.verifier == nil {
		p.logger.DebugwCtx(ctx, "Challenge secret not configured, token not verified")
		return nil
	}

	token, _ := st.Raw.Field(p.cfg.ChallengeField).Scalar()
	token = strings.TrimSpace(token)
	if token == "" {
		return reject(ReasonChallenge)
	}

	if err := p.verifier.Verify(ctx, token, st.Raw.Identity); err != nil {
		return &Rejection{Reason: ReasonChallenge, Err: err}
	}
	return nil
}

func (p *Pipeline) normalizeFields(_ context.Context, st *State) *Rejection {
	st.Clean = NewCleanSubmission()

	for _, field := range st.Config.Fields {
		raw, ok := st.Raw.Field(field).Scalar()
		if !ok {
			return reject(ReasonInvalidFormat)
		}

		value := strings.TrimSpace(raw)
		if value == "" && st.Config.IsRequired(field) {
			return reject(ReasonRequiredMissing)
		}
		if value != "" && HasUnsafeContent(value) {
			return reject(ReasonUnsafeContent)
		}
		st.Clean.Set(field, value)
	}
	return nil
}

func (p *Pipeline) checkFieldFormats(_ context.Context, st *State) *Rejection {
	checks := []struct {
		field  string
		valid  func(string) bool
		reason Reason
	}{
		{st.Config.EmailField, ValidEmail, ReasonInvalidEmail},
		{st.Config.PhoneField, ValidPhone, ReasonInvalidPhone},
		{st.Config.NameField, ValidName, ReasonInvalidName},
	}

	for _, c := range checks {
		if c.field == "" {
			continue
		}
		if value := st.Clean.Get(c.field); value != "" && !c.valid(value) {
			return reject(c.reason)
		}
	}
	return nil
}

func (p *Pipeline) assemble(_ context.Context, st *State) *Rejection {
	cfg := st.Config
	if strings.TrimSpace(cfg.Recipient) == "" {
		return reject(ReasonMissingRecipient)
	}

	cat := catalogFor(p.cfg.Locale)
	siteName := SanitizeHeader(cfg.SiteName)

	prefix := SanitizeHeader(cfg.SubjectPrefix)
	subjectField := cfg.SubjectField
	if subjectField == "" {
		subjectField = defaultSubjectField
	}
	subjectBase := st.Clean.Get(subjectField)
	if subjectBase == "" {
		subjectBase = cat.subject
	}

	lines := []string{cat.introLine(siteName), bodySeparator}
	fields := make(map[string]string, st.Clean.Len())
	for _, name := range st.Clean.Names() {
		value := st.Clean.Get(name)
		if value == "" {
			continue
		}
		fields[name] = value
		lines = append(lines, Label(name)+": "+value)
	}
	lines = append(lines,
		bodySeparator,
		"IP: "+st.Raw.Identity,
		"User-Agent: "+strings.TrimSpace(st.Raw.UserAgent),
	)

	from := cfg.Recipient
	var replyTo string
	if cfg.EmailField != "" {
		if email := st.Clean.Get(cfg.EmailField); email != "" {
			from = email
			replyTo = email
		}
	}

	st.Message = Message{
		ID:          uuid.NewString(),
		SiteID:      cfg.SiteID,
		To:          cfg.Recipient,
		Subject:     SanitizeHeader(prefix + " " + subjectBase),
		Body:        strings.Join(lines, "\n"),
		FromName:    siteName,
		From:        SanitizeHeader(from),
		ReplyTo:     SanitizeHeader(replyTo),
		ClientIP:    st.Raw.Identity,
		UserAgent:   strings.TrimSpace(st.Raw.UserAgent),
		Fields:      fields,
		SubmittedAt: st.Now,
	}
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, st *State) *Rejection {
	if err := p.sender.Send(ctx, st.Message); err != nil {
		return &Rejection{Reason: ReasonDeliveryFailed, Err: err}
	}
	p.logger.InfowCtx(ctx, "Submission delivered",
		"message_id", st.Message.ID,
		"recipient", logging.RedactEmail(st.Message.To),
	)
	return nil
}
