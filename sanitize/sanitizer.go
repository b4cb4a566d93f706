package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"shadowrunner/capture"
)

const mask = "[REDACTED]"

// Headers whose values are masked regardless of pattern configuration.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
}

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Built-in rules keep surrounding structure intact so redacted JSON bodies
// still parse.
func defaultRules() []rule {
	return []rule{
		{
			re:          regexp.MustCompile(`(?i)("(?:password|passwd|secret|token|api_key|apikey|access_token|refresh_token)"\s*:\s*)"[^"]*"`),
			replacement: `${1}"` + mask + `"`,
		},
		{
			re:          regexp.MustCompile(`(?i)((?:password|secret|token|api_key)=)[^&\s"']+`),
			replacement: `${1}` + mask,
		},
		{
			re:          regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9._\-]+`),
			replacement: `${1}` + mask,
		},
	}
}

// Sanitizer masks sensitive material in captured interactions before they
// reach session storage. It is a pass-through transform: input interactions
// are never modified, callers receive redacted copies.
type Sanitizer struct {
	rules []rule
}

// New builds a sanitizer from the built-in rules plus any extra patterns.
// Extra patterns mask their whole match; an invalid pattern is a
// configuration error and rejected outright.
func New(extraPatterns []string) (*Sanitizer, error) {
	rules := defaultRules()
	for _, pattern := range extraPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile redact pattern %q: %w", pattern, err)
		}
		rules = append(rules, rule{re: re, replacement: mask})
	}
	return &Sanitizer{rules: rules}, nil
}

// Sanitize returns a redacted deep copy of ix. Sensitive headers are masked
// by name; URL, bodies and remaining header values run through every rule.
func (s *Sanitizer) Sanitize(ix *capture.CapturedInteraction) *capture.CapturedInteraction {
	if ix == nil {
		return nil
	}
	dup := ix.Clone()
	if dup.Request != nil {
		dup.Request.Headers = s.sanitizeHeaders(dup.Request.Headers)
		dup.Request.Body = s.sanitizeText(dup.Request.Body)
		dup.Request.URL = s.sanitizeText(dup.Request.URL)
	}
	if dup.Response != nil {
		dup.Response.Headers = s.sanitizeHeaders(dup.Response.Headers)
		dup.Response.Body = s.sanitizeText(dup.Response.Body)
	}
	return dup
}

func (s *Sanitizer) sanitizeHeaders(headers map[string]string) map[string]string {
	for name := range headers {
		if sensitiveHeaders[strings.ToLower(name)] {
			headers[name] = mask
		} else {
			headers[name] = s.sanitizeText(headers[name])
		}
	}
	return headers
}

func (s *Sanitizer) sanitizeText(text string) string {
	result := text
	for _, r := range s.rules {
		result = r.re.ReplaceAllString(result, r.replacement)
	}
	return result
}
