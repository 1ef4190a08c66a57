package llm

import "testing"

func TestClassifyErrorOrdering(t *testing.T) {
	cases := []struct {
		name string
		text string
		code int
		want ErrorKind
	}{
		{"rate limit status", "", 429, ErrorKindRateLimit},
		{"rate limit text", "Error: rate limit exceeded, try again later", 0, ErrorKindRateLimit},
		{"quota text", "resource_exhausted: quota exceeded for this project", 0, ErrorKindRateLimit},
		{"server error status", "", 503, ErrorKindServerError},
		{"server error text", "upstream returned internal server error", 0, ErrorKindServerError},
		{"timeout text", "context deadline exceeded while waiting for response", 0, ErrorKindTimeout},
		{"auth status", "", 401, ErrorKindAuth},
		{"auth text", "invalid api key provided", 0, ErrorKindAuth},
		{"quota exhausted status", "", 402, ErrorKindQuotaExhausted},
		{"network text", "dial tcp: connection refused", 0, ErrorKindNetwork},
		{"empty response text", "received empty response from model", 0, ErrorKindEmptyResponse},
		{"unknown", "something bizarre happened", 0, ErrorKindUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifyError(c.text, c.code); got != c.want {
				t.Errorf("ClassifyError(%q, %d) = %s, want %s", c.text, c.code, got, c.want)
			}
		})
	}
}

func TestIsTransientPartitionsClosedSet(t *testing.T) {
	all := []ErrorKind{
		ErrorKindRateLimit, ErrorKindServerError, ErrorKindTimeout, ErrorKindAuth,
		ErrorKindQuotaExhausted, ErrorKindNetwork, ErrorKindEmptyResponse, ErrorKindUnknown,
	}
	for _, k := range all {
		if IsTransient(k) && PermanentKinds[k] {
			t.Errorf("%s marked both transient and permanent", k)
		}
	}
	if !IsTransient(ErrorKindRateLimit) {
		t.Error("RATE_LIMIT must be transient")
	}
	if IsTransient(ErrorKindAuth) {
		t.Error("AUTH_ERROR must not be transient")
	}
}
