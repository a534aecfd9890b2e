package submission

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formgate/internal/config"
	"formgate/internal/ratelimit"
)

var testNow = time.Unix(1_700_000_000, 0)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func (s *recordingSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubVerifier struct {
	err    error
	tokens []string
	ips    []string
}

func (v *stubVerifier) Verify(_ context.Context, token, remoteIP string) error {
	v.tokens = append(v.tokens, token)
	v.ips = append(v.ips, remoteIP)
	return v.err
}

type stubLimiter struct {
	result ratelimit.Result
	calls  int
}

func (l *stubLimiter) CheckAndRecord(context.Context, string) ratelimit.Result {
	l.calls++
	return l.result
}

type panickingSender struct{}

func (panickingSender) Send(context.Context, Message) error {
	panic("sender exploded")
}

func contactConfig() SubmissionConfig {
	return SubmissionConfig{
		SiteID:        "main",
		SiteName:      "Example Studio",
		Recipient:     "owner@example.com",
		SubjectPrefix: "[Example]",
		Fields:        []string{"name", "email", "phone", "subject", "message"},
		Required:      []string{"name", "email", "message"},
		EmailField:    "email",
		PhoneField:    "phone",
		NameField:     "name",
		SubjectField:  "subject",
	}
}

func validSubmission() RawSubmission {
	return RawSubmission{
		Method:     http.MethodPost,
		Identity:   "203.0.113.9",
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		CSRFCookie: "tok-123",
		Fields: map[string]FieldValue{
			"name":       scalar("Ana Souza"),
			"email":      scalar("a@b.com"),
			"message":    scalar("Hello there"),
			"website":    scalar(""),
			"start_time": scalar(strconv.FormatInt(testNow.UnixMilli()-5000, 10)),
			"csrf_token": scalar("tok-123"),
		},
	}
}

func scalar(v string) FieldValue {
	return FieldValue{Values: []string{v}}
}

func newTestPipeline(t *testing.T, sender Sender, opts ...Option) *Pipeline {
	t.Helper()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(), ratelimit.NewMemoryStore(),
		ratelimit.WithClock(func() time.Time { return testNow }))
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewPipeline(config.GateConfig{}, limiter, sender, nil, opts...)
}

func TestPipeline_GateOrder(t *testing.T) {
	p := newTestPipeline(t, &recordingSender{})
	assert.Equal(t, []string{
		"method", "user_agent", "rate_limit", "honeypot", "timing", "csrf",
		"challenge", "fields", "field_format", "assemble", "deliver",
	}, p.Gates())
}

func TestPipeline_AcceptsValidSubmission(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	res := p.Process(context.Background(), contactConfig(), validSubmission())

	assert.Equal(t, Result{
		Success:   true,
		Message:   "message sent successfully!",
		Reason:    ReasonOK,
		MessageID: res.MessageID,
	}, res)
	require.Equal(t, 1, sender.calls())

	msg := sender.sent[0]
	assert.Equal(t, "a@b.com", msg.From)
	assert.Equal(t, "a@b.com", msg.ReplyTo)
	assert.Equal(t, "owner@example.com", msg.To)
	assert.Equal(t, "[Example] new contact", msg.Subject)
	assert.Equal(t, res.MessageID, msg.ID)
}

func TestPipeline_HoneypotAlwaysRejects(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	raw := validSubmission()
	raw.Fields["website"] = scalar("http://spam.example")
	res := p.Process(context.Background(), contactConfig(), raw)

	assert.False(t, res.Success)
	assert.Equal(t, "invalid submission", res.Message)
	assert.Equal(t, GateHoneypot, res.Gate)
	assert.Zero(t, sender.calls())
}

func TestPipeline_EmptyCompositeHoneypotRejects(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	raw := validSubmission()
	raw.Fields["website"] = FieldValue{Values: []string{""}, Composite: true}
	res := p.Process(context.Background(), contactConfig(), raw)

	assert.False(t, res.Success)
	assert.Equal(t, GateHoneypot, res.Gate)
	assert.Zero(t, sender.calls())
}

func TestPipeline_SixthSubmissionRateLimited(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	for i := 0; i < 5; i++ {
		res := p.Process(context.Background(), contactConfig(), validSubmission())
		require.True(t, res.Success, "submission %d", i+1)
	}

	res := p.Process(context.Background(), contactConfig(), validSubmission())
	assert.False(t, res.Success)
	assert.Equal(t, "too many attempts in a short period, try again later.", res.Message)
	assert.Equal(t, ReasonRateLimited, res.Reason)
	assert.Equal(t, 300*time.Second, res.RetryAfter)
	assert.Equal(t, 5, sender.calls())
}

func TestPipeline_ArrayFieldRejected(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	raw := validSubmission()
	raw.Fields["message"] = FieldValue{Values: []string{"a", "b"}, Composite: true}
	res := p.Process(context.Background(), contactConfig(), raw)

	assert.False(t, res.Success)
	assert.Equal(t, "invalid data format", res.Message)
	assert.Zero(t, sender.calls())
}

func TestPipeline_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *SubmissionConfig, raw *RawSubmission)
		message string
		gate    string
	}{
		{
			name:    "get method",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Method = http.MethodGet },
			message: "invalid request method.",
			gate:    GateMethod,
		},
		{
			name:    "empty user agent",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.UserAgent = "   " },
			message: "invalid or suspicious user agent.",
			gate:    GateUserAgent,
		},
		{
			name:    "scripted user agent",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.UserAgent = "python-requests/2.31" },
			message: "invalid or suspicious user agent.",
			gate:    GateUserAgent,
		},
		{
			name:    "missing start time",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { delete(raw.Fields, "start_time") },
			message: "invalid timing data",
			gate:    GateTiming,
		},
		{
			name:    "non numeric start time",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["start_time"] = scalar("soon") },
			message: "invalid timing data",
			gate:    GateTiming,
		},
		{
			name: "submitted too fast",
			mutate: func(_ *SubmissionConfig, raw *RawSubmission) {
				raw.Fields["start_time"] = scalar(strconv.FormatInt(testNow.UnixMilli()-2999, 10))
			},
			message: "submitted too fast, please try again.",
			gate:    GateTiming,
		},
		{
			name:    "missing csrf cookie",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.CSRFCookie = "" },
			message: "security token validation failed.",
			gate:    GateCSRF,
		},
		{
			name:    "csrf mismatch",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["csrf_token"] = scalar("tok-124") },
			message: "security token validation failed.",
			gate:    GateCSRF,
		},
		{
			name:    "missing required field",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["message"] = scalar("   ") },
			message: "fill all required fields",
			gate:    GateFields,
		},
		{
			name:    "script in message",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["message"] = scalar("hi <script>x()</script>") },
			message: "invalid content detected in form.",
			gate:    GateFields,
		},
		{
			name:    "markup in optional field",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["subject"] = scalar("<b>hi</b>") },
			message: "invalid content detected in form.",
			gate:    GateFields,
		},
		{
			name:    "invalid email",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["email"] = scalar("not-an-email") },
			message: "invalid email.",
			gate:    GateFieldFormat,
		},
		{
			name:    "invalid phone",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["phone"] = scalar("12-34") },
			message: "invalid phone.",
			gate:    GateFieldFormat,
		},
		{
			name:    "invalid name",
			mutate:  func(_ *SubmissionConfig, raw *RawSubmission) { raw.Fields["name"] = scalar("R2D2") },
			message: "invalid name.",
			gate:    GateFieldFormat,
		},
		{
			name:    "missing recipient",
			mutate:  func(cfg *SubmissionConfig, _ *RawSubmission) { cfg.Recipient = "" },
			message: "missing email destination configuration",
			gate:    GateAssemble,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			p := newTestPipeline(t, sender)

			cfg := contactConfig()
			raw := validSubmission()
			tt.mutate(&cfg, &raw)

			res := p.Process(context.Background(), cfg, raw)

			assert.False(t, res.Success)
			assert.Equal(t, tt.message, res.Message)
			assert.Equal(t, tt.gate, res.Gate)
			assert.Zero(t, sender.calls())
		})
	}
}

func TestPipeline_TimingThresholdIsInclusive(t *testing.T) {
	p := newTestPipeline(t, &recordingSender{})

	raw := validSubmission()
	raw.Fields["start_time"] = scalar(strconv.FormatInt(testNow.UnixMilli()-3000, 10))

	assert.True(t, p.Process(context.Background(), contactConfig(), raw).Success)
}

func TestPipeline_FirstFailingGateWins(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: true}}
	sender := &recordingSender{}
	p := NewPipeline(config.GateConfig{}, limiter, sender, nil, WithClock(func() time.Time { return testNow }))

	raw := validSubmission()
	raw.UserAgent = "curl/8.0"
	raw.Fields["website"] = scalar("x")

	res := p.Process(context.Background(), contactConfig(), raw)

	assert.Equal(t, GateUserAgent, res.Gate)
	assert.Zero(t, limiter.calls, "rate limit slot is not spent on a rejected agent")
}

func TestPipeline_DegradedLimiterStillAccepts(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Allowed: true, Degraded: true, Err: errors.New("disk full")}}
	sender := &recordingSender{}
	p := NewPipeline(config.GateConfig{}, limiter, sender, nil, WithClock(func() time.Time { return testNow }))

	res := p.Process(context.Background(), contactConfig(), validSubmission())

	assert.True(t, res.Success)
	assert.Equal(t, 1, sender.calls())
}

func TestPipeline_Challenge(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		err      error
		success  bool
		verified bool
	}{
		{name: "verified token", token: "ok-token", success: true, verified: true},
		{name: "empty token", token: "", success: false, verified: false},
		{name: "verifier failure", token: "bad-token", err: errors.New("timeout"), success: false, verified: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &stubVerifier{err: tt.err}
			p := newTestPipeline(t, &recordingSender{}, WithChallengeVerifier(verifier))

			raw := validSubmission()
			raw.Fields["cf-turnstile-response"] = scalar(tt.token)
			res := p.Process(context.Background(), contactConfig(), raw)

			assert.Equal(t, tt.success, res.Success)
			if !tt.success {
				assert.Equal(t, "security validation failed, reload the page and try again.", res.Message)
			}
			if tt.verified {
				assert.Equal(t, []string{tt.token}, verifier.tokens)
				assert.Equal(t, []string{"203.0.113.9"}, verifier.ips)
			} else {
				assert.Empty(t, verifier.tokens)
			}
		})
	}
}

func TestPipeline_NoVerifierSkipsChallenge(t *testing.T) {
	p := newTestPipeline(t, &recordingSender{})

	res := p.Process(context.Background(), contactConfig(), validSubmission())
	assert.True(t, res.Success)
}

func TestPipeline_SenderFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("connection refused")}
	p := newTestPipeline(t, sender)

	res := p.Process(context.Background(), contactConfig(), validSubmission())

	assert.False(t, res.Success)
	assert.Equal(t, "could not send your message right now, try again later", res.Message)
	assert.Equal(t, ReasonDeliveryFailed, res.Reason)
	assert.Equal(t, 1, sender.calls())
}

func TestPipeline_RecoversPanics(t *testing.T) {
	p := newTestPipeline(t, panickingSender{})

	var res Result
	require.NotPanics(t, func() {
		res = p.Process(context.Background(), contactConfig(), validSubmission())
	})
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInternal, res.Reason)
}

func TestPipeline_LocalizedMessages(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(), ratelimit.NewMemoryStore())
	p := NewPipeline(config.GateConfig{Locale: "pt-BR"}, limiter, &recordingSender{}, nil)

	raw := validSubmission()
	raw.Method = http.MethodPut

	res := p.Process(context.Background(), contactConfig(), raw)
	assert.Equal(t, "Método de requisição inválido.", res.Message)
}

func TestPipeline_MessageBody(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	cfg := contactConfig()
	cfg.Fields = append(cfg.Fields, "company_name")
	raw := validSubmission()
	raw.Fields["subject"] = scalar("Booking\r\nBcc: victim@example.com")
	raw.Fields["company_name"] = scalar("  Acme  ")

	res := p.Process(context.Background(), cfg, raw)
	require.True(t, res.Success)

	msg := sender.sent[0]
	assert.Equal(t, "[Example] Booking Bcc: victim@example.com", msg.Subject)
	assert.Equal(t, strings.Join([]string{
		"New contact received through the site Example Studio:",
		"----------------------------------------",
		"Name: Ana Souza",
		"Email: a@b.com",
		"Subject: Booking\r\nBcc: victim@example.com",
		"Message: Hello there",
		"Company Name: Acme",
		"----------------------------------------",
		"IP: 203.0.113.9",
		"User-Agent: Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
	}, "\n"), msg.Body)
	assert.Equal(t, map[string]string{
		"name":         "Ana Souza",
		"email":        "a@b.com",
		"subject":      "Booking\r\nBcc: victim@example.com",
		"message":      "Hello there",
		"company_name": "Acme",
	}, msg.Fields)
}

func TestPipeline_FromFallsBackToRecipient(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	cfg := contactConfig()
	cfg.Required = []string{"message"}
	cfg.SubjectPrefix = ""
	raw := validSubmission()
	delete(raw.Fields, "email")

	res := p.Process(context.Background(), cfg, raw)
	require.True(t, res.Success)

	msg := sender.sent[0]
	assert.Equal(t, "owner@example.com", msg.From)
	assert.Empty(t, msg.ReplyTo)
	assert.Equal(t, "new contact", msg.Subject, "an empty prefix leaves the subject bare")
	assert.Equal(t, []string{
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"From: Example Studio <owner@example.com>",
	}, msg.Headers())
}

func TestPipeline_UnknownIdentityDefaults(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(t, sender)

	raw := validSubmission()
	raw.Identity = ""
	res := p.Process(context.Background(), contactConfig(), raw)

	require.True(t, res.Success)
	assert.Contains(t, sender.sent[0].Body, "IP: 0.0.0.0")
}
