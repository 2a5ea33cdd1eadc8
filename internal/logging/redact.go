package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// Field names whose values are never logged.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"credential",
	"private_key",
	"access_key",
	"jwt",
}

type secretPattern struct {
	re   *regexp.Regexp
	repl string
}

// Value patterns that look like credentials wherever they appear.
var secretPatterns = []secretPattern{
	// Bearer tokens
	{re: regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`), repl: RedactedValue},

	// Bare JWTs (header.payload.signature)
	{re: regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]+`), repl: RedactedValue},

	// AWS access key ids
	{re: regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`), repl: RedactedValue},

	// Credentials embedded in redis:// or rediss:// URLs keep the user name.
	{re: regexp.MustCompile(`(rediss?://[^:/@\s]*:)[^@\s]+@`), repl: "${1}" + RedactedValue + "@"},

	// key=value style secrets
	{re: regexp.MustCompile(`(?i)(secret|password|token)[=:]["']?([a-zA-Z0-9+/=_-]{16,})["']?`), repl: RedactedValue},
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.re.ReplaceAllString(result, pattern.repl)
	}
	return result
}

// RedactQuery redacts sensitive parameters of a raw URL query string.
func RedactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Redact(raw)
	}
	for key, vals := range values {
		for i := range vals {
			if IsSensitiveField(key) {
				vals[i] = RedactedValue
			} else {
				vals[i] = Redact(vals[i])
			}
		}
	}
	return values.Encode()
}

// RedactMap redacts sensitive fields in a map.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))

	for k, v := range m {
		switch typed := v.(type) {
		case map[string]any:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = RedactMap(typed)
			}
		case string:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = Redact(typed)
			}
		default:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = v
			}
		}
	}

	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
