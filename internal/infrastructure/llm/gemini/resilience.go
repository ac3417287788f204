package gemini

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/resilience"
)

func classifyGeminiError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if isQuotaError(err) {
		// Retry lands on the next key after rotation.
		return resilience.ErrorClassification{Retryable: true, RecordFailure: false}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		retryable := statusErr.StatusCode >= http.StatusInternalServerError
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// isQuotaError detects rate-limit and quota exhaustion responses.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		body := strings.ToLower(statusErr.Body)
		return strings.Contains(body, "quota") || strings.Contains(body, "resource_exhausted")
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "429")
}
