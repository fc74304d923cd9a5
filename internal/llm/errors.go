package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks annotator errors that will not resolve on their own:
// exhausted credit, billing problems, bad or unauthorized credentials.
// Callers use errors.Is to decide whether retrying is pointless.
var ErrFatalAPI = errors.New("fatal annotator API error")

var fatalPatterns = []string{
	"credit balance",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// rateLimitPatterns match throttling responses. These clear on their own, so
// they get retried with a longer wait instead of failing the call.
var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"quota",
	"resource_exhausted",
	"resource exhausted",
}

// isFatalAPIError reports whether err matches a known non-retryable API
// failure. Matching is substring-based because providers return these as
// free-text messages.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError wraps fatal API errors with ErrFatalAPI and passes all
// other errors through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}

// isRateLimitError reports whether err is provider throttling worth waiting
// out.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// isServerError reports whether err looks like a transient upstream failure
// worth retrying.
func isServerError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "server_error") ||
		strings.Contains(msg, "overloaded")
}
