// ABOUTME: Provider error classification: rate limits versus terminal status errors
// ABOUTME: Extracts server-directed retry delays from google.rpc.RetryInfo details
package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// RateLimitError means the provider throttled the request; RetryAfter is zero when
// the server suggested no delay
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %v): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// StatusError is any other provider failure carrying a status code
type StatusError struct {
	Code    int
	Status  string
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider error %d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate limit and returns the suggested delay
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// classifyStatus maps a provider status to a typed error
func classifyStatus(code int, status, message string, details []map[string]any, cause error) error {
	if code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED" {
		return &RateLimitError{
			RetryAfter: retryDelayFromDetails(details),
			Message:    message,
			Err:        cause,
		}
	}
	return &StatusError{Code: code, Status: status, Message: message, Err: cause}
}

// retryDelayFromDetails finds a RetryInfo detail and parses its retryDelay ("30s", "1.5s")
func retryDelayFromDetails(details []map[string]any) time.Duration {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		switch v := d["retryDelay"].(type) {
		case string:
			if dur, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && dur > 0 {
				return dur
			}
		case map[string]any:
			// proto Duration rendered as an object
			if secs, ok := v["seconds"].(float64); ok && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return 0
}
