package llmadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const (
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "PROVIDER_UNAVAILABLE"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeQuotaExceeded = "QUOTA_EXCEEDED"
	ErrCodeInvalidModel  = "INVALID_MODEL"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeConnection    = "CONNECTION_FAILED"
	ErrCodeUnknown       = "UNKNOWN"
)

// ProviderError is a provider failure classified from its message. SDK errors
// rarely expose typed status codes, so the message is the only signal.
type ProviderError struct {
	Provider   string
	Code       string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Provider, e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Code {
	case ErrCodeRateLimited, ErrCodeUnavailable, ErrCodeTimeout, ErrCodeConnection:
		return true
	}
	return false
}

var statusRe = regexp.MustCompile(`(?i)(?:status(?: code)?:?|http|error|code)\s*(\d{3})\b`)

var patterns = []struct {
	code  string
	parts []string
}{
	{ErrCodeQuotaExceeded, []string{"insufficient_quota", "quota exceeded", "quota_exceeded"}},
	{ErrCodeRateLimited, []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "throttl"}},
	{ErrCodeUnavailable, []string{"service unavailable", "temporarily unavailable", "overloaded", "try again later"}},
	{ErrCodeUnauthorized, []string{"unauthorized", "invalid api key", "invalid_api_key", "authentication"}},
	{ErrCodeInvalidModel, []string{"invalid model", "model not found", "model_not_found"}},
	{ErrCodeTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrCodeConnection, []string{"connection reset", "connection refused", "no such host", "eof"}},
}

// ClassifyError maps a raw provider error to a ProviderError. A context
// cancellation from the caller is returned unchanged.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) || errors.Is(err, context.Canceled) {
		return err
	}
	out := &ProviderError{Provider: provider, Code: ErrCodeUnknown, Err: err}
	msg := strings.ToLower(err.Error())
	if m := statusRe.FindStringSubmatch(msg); m != nil {
		if status, convErr := strconv.Atoi(m[1]); convErr == nil && status >= 400 && status < 600 {
			out.StatusCode = status
			out.Code = codeForStatus(status)
		}
	}
	if out.Code != ErrCodeUnknown && out.Code != ErrCodeUnavailable {
		return out
	}
	for _, p := range patterns {
		for _, part := range p.parts {
			if strings.Contains(msg, part) {
				out.Code = p.code
				return out
			}
		}
	}
	return out
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeUnauthorized
	case status == http.StatusNotFound:
		return ErrCodeInvalidModel
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status >= http.StatusInternalServerError:
		return ErrCodeUnavailable
	default:
		return ErrCodeUnknown
	}
}
