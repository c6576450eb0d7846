package llm

import (
	"regexp"
	"strings"
	"time"
)

// rateLimitMarkers are the substrings that identify a rate-limit-shaped
// upstream failure. Matching is textual because the upstream error surface
// is not stable enough to type-switch on.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"status code: 429",
	"quota",
}

// retryAfterPattern matches the wait hint Groq embeds in 429 bodies,
// e.g. "Please try again in 2m59.56s".
var retryAfterPattern = regexp.MustCompile(`try again in (\d+)m([\d.]+)s`)

// IsRateLimited reports whether the error text looks like an upstream
// rate-limit rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ParseRetryAfter extracts the "try again in <m>m<s>s" wait hint from an
// upstream error, if present.
func ParseRetryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	m := retryAfterPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	minutes, perr := time.ParseDuration(m[1] + "m")
	if perr != nil {
		return 0, false
	}
	seconds, perr := time.ParseDuration(m[2] + "s")
	if perr != nil {
		return 0, false
	}
	return minutes + seconds, true
}
