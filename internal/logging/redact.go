// Package logging keeps credentials and exam-subject PII out of log output.
package logging

import (
	"log/slog"
	"strings"
)

// sensitiveKeys are attribute names whose values are never logged verbatim.
// Matching is substring-based on the lowercased key, so "sasl_password" and
// "redis_password" are both caught by "password".
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
}

// Masked replaces redacted values in log output.
const Masked = "[REDACTED]"

// IsSensitiveKey reports whether an attribute name must be redacted.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactAttr is a slog ReplaceAttr hook that masks sensitive attribute
// values. Group names are left alone; only leaf values are rewritten.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if IsSensitiveKey(a.Key) {
		a.Value = slog.StringValue(Masked)
	}
	return a
}

// MaskKey shows only the first and last four characters of an API key,
// enough to identify which key without exposing it.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return Masked
	}
	return key[:4] + "****" + key[len(key)-4:]
}
