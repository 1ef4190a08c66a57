// Package llm provides LLM provider implementations and utilities.
package llm

import (
	"strconv"
	"strings"
)

// ErrorKind is the closed taxonomy every provider error is classified into.
// The classifier is pure: no side effects, no allocation beyond the result.
// It is used identically by the resilient-call retry policy and the
// fallback engine.
type ErrorKind string

const (
	ErrorKindRateLimit      ErrorKind = "RATE_LIMIT"
	ErrorKindServerError    ErrorKind = "SERVER_ERROR"
	ErrorKindTimeout        ErrorKind = "TIMEOUT"
	ErrorKindAuth           ErrorKind = "AUTH_ERROR"
	ErrorKindQuotaExhausted ErrorKind = "QUOTA_EXHAUSTED"
	ErrorKindNetwork        ErrorKind = "NETWORK"
	ErrorKindEmptyResponse  ErrorKind = "EMPTY_RESPONSE"
	ErrorKindUnknown        ErrorKind = "UNKNOWN"
)

// TransientKinds are retried (same provider once, then fallback walk).
var TransientKinds = map[ErrorKind]bool{
	ErrorKindRateLimit:     true,
	ErrorKindServerError:   true,
	ErrorKindTimeout:       true,
	ErrorKindNetwork:       true,
	ErrorKindEmptyResponse: true,
}

// PermanentKinds never retry the same provider; they go straight to the
// fallback walk with a long cooldown on the failed provider.
var PermanentKinds = map[ErrorKind]bool{
	ErrorKindAuth:           true,
	ErrorKindQuotaExhausted: true,
}

// IsTransient reports whether kind should be retried on the same provider
// before walking the fallback chain.
func IsTransient(kind ErrorKind) bool { return TransientKinds[kind] }

// IsFailoverError reports whether kind should trigger a fallback-chain
// walk at all (every kind does under this taxonomy; kept as a named
// predicate for readability at call sites).
func IsFailoverError(kind ErrorKind) bool { return true }

// ClassifyError maps a raw error payload (HTTP status plus response body or
// exception text) to an ErrorKind. Matching is pattern-based over a
// lowercased view of the text, ordered so the most specific kind wins.
// statusCode may be 0 when no HTTP status is available (e.g. a local
// exception or connection failure); it is consulted as an additional
// signal alongside the text patterns, not in place of them.
func ClassifyError(text string, statusCode int) ErrorKind {
	low := strings.ToLower(text)

	if statusCode == 429 || containsAny(low, rateLimitPatterns) {
		return ErrorKindRateLimit
	}
	if statusCode == 500 || statusCode == 502 || statusCode == 503 || containsAny(low, serverErrorPatterns) {
		return ErrorKindServerError
	}
	if containsAny(low, timeoutPatterns) {
		return ErrorKindTimeout
	}
	if statusCode == 401 || statusCode == 403 || containsAny(low, authPatterns) {
		return ErrorKindAuth
	}
	if statusCode == 402 || containsAny(low, quotaPatterns) {
		return ErrorKindQuotaExhausted
	}
	if containsAny(low, networkPatterns) {
		return ErrorKindNetwork
	}
	if containsAny(low, emptyResponsePatterns) {
		return ErrorKindEmptyResponse
	}
	return ErrorKindUnknown
}

// containsAny reports whether low contains any of the needles. low is
// assumed already lowercased; needles must be lowercase literals.
func containsAny(low string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(low, n) {
			return true
		}
	}
	return false
}

var rateLimitPatterns = []string{
	"429", "rate_limit", "rate limit", "too many requests",
	"exceeded your current quota", "quota exceeded", "resource_exhausted",
	"resource has been exhausted", "usage limit", "requests per minute",
	"requests per day",
}

var serverErrorPatterns = []string{
	"500", "502", "503", "server error", "service unavailable",
	"overloaded", "internal error", "bad gateway",
}

var timeoutPatterns = []string{
	"timed out", "timeout", "timeoutexception", "readtimeout", "connecttimeout",
	"deadline exceeded",
}

var authPatterns = []string{
	"401", "403", "invalid api key", "invalid_api_key", "incorrect api key",
	"unauthorized", "forbidden", "access denied", "token has expired",
	"authentication", "no api key found", "api key not found",
	"invalid credentials",
}

var quotaPatterns = []string{
	"402", "payment required", "billing", "insufficient", "credit",
	"exceeded your", "insufficient_quota",
}

var networkPatterns = []string{
	"connection refused", "connection reset", "dns", "ssl", "network",
	"unreachable", "reset by peer", "econnrefused", "no route to host",
}

var emptyResponsePatterns = []string{
	"empty response", "no content", "empty reply", "empty result",
	"no candidates", "generated no",
}

// FormatErrorForUser renders a user-facing message for a classified error,
// matching the register of the final surfaced-failure messages spec §7
// requires ("All N models in the fallback chain failed...", etc.) for the
// single-error (non-exhausted-chain) case.
func FormatErrorForUser(kind ErrorKind, raw string) string {
	switch kind {
	case ErrorKindRateLimit:
		return "The model provider is rate-limiting requests right now."
	case ErrorKindServerError:
		return "The model provider is temporarily overloaded."
	case ErrorKindTimeout:
		return "The model took too long to respond."
	case ErrorKindAuth:
		return "The configured API key was rejected."
	case ErrorKindQuotaExhausted:
		return "The account's billing quota is exhausted."
	case ErrorKindNetwork:
		return "Could not reach the model provider's network."
	case ErrorKindEmptyResponse:
		return "The model returned an empty response."
	default:
		if raw == "" {
			return "An unknown error occurred."
		}
		return "An unexpected error occurred: " + truncate(raw, 200)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// statusFromPrefix extracts a leading HTTP status-like number ("429: ...")
// from a raw error string, or 0 when the text before the first colon is
// not a number. The fallback engine's classify uses it for errors that
// arrive without an ErrorKind.
func statusFromPrefix(raw string) int {
	i := strings.IndexByte(raw, ':')
	if i <= 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw[:i]))
	if err != nil {
		return 0
	}
	return n
}
