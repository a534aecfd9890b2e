// Package challenge verifies human-verification tokens against the
// Cloudflare Turnstile siteverify endpoint.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/logger"
	apperrors "formgate/pkg/errors"
	"formgate/pkg/metrics"
)

var ErrEmptyToken = errors.New("challenge token is empty")

const maxResponseBytes = 64 << 10

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
	Action     string   `json:"action"`
}

type TurnstileVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
	logger    logger.Logger
}

// NewTurnstileVerifier returns nil when no secret is configured, which
// leaves the challenge gate disabled.
func NewTurnstileVerifier(cfg config.ChallengeConfig, log logger.Logger) *TurnstileVerifier {
	if cfg.Secret == "" {
		return nil
	}
	if log == nil {
		log = logger.NopLogger()
	}

	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = constants.DefaultChallengeURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultChallengeTimeout
	}

	return &TurnstileVerifier{
		secret:    cfg.Secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
		logger:    log,
	}
}

// Verify posts the token to siteverify. Transport failures, non-200
// answers and undecodable bodies are errors, as is a reported failure.
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveChallenge(verifyStatus(err), time.Since(start))
	}()

	if token == "" {
		return ErrEmptyToken
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.WarnwCtx(ctx, "Failed to reach challenge verifier", "error", err)
		return apperrors.ErrServiceUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.ErrServiceUnavailable.WithCause(fmt.Errorf("failed to read siteverify response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		v.logger.WarnwCtx(ctx, "Unexpected challenge verifier status", "status", resp.StatusCode)
		return apperrors.ErrServiceUnavailable.WithCause(fmt.Errorf("siteverify returned HTTP %d", resp.StatusCode))
	}

	var result siteverifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return apperrors.ErrServiceUnavailable.WithCause(fmt.Errorf("failed to decode siteverify response: %w", err))
	}

	if !result.Success {
		v.logger.InfowCtx(ctx, "Challenge token rejected", "error_codes", result.ErrorCodes)
		return apperrors.ErrChallengeFailed.WithDetail("error_codes", result.ErrorCodes)
	}
	return nil
}

func verifyStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEmptyToken), errors.Is(err, apperrors.ErrChallengeFailed):
		return "rejected"
	default:
		return "error"
	}
}
