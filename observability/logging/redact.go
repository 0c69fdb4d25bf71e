package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces payment secrets in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys name values that would let a reader claim an in-flight HTLC
// or call the API.
var sensitiveKeys = map[string]struct{}{
	"preimage":       {},
	"payment_secret": {},
	"secret":         {},
	"auth_token":     {},
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute whose value is redacted when key is
// sensitive. Empty values pass through unchanged.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

const shortHashLen = 16

// ShortHash abbreviates a hex digest for log lines.
func ShortHash(key, hex string) slog.Attr {
	if len(hex) <= shortHashLen {
		return slog.String(key, hex)
	}
	return slog.String(key, hex[:shortHashLen])
}
