package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder emitted in place of secret material.
const RedactedValue = "[REDACTED]"

// SecretAttr builds a slog attribute for a secret such as a wallet key or the
// status auth token. Only presence is logged, never the value.
func SecretAttr(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, "")
	}
	return slog.String(key, RedactedValue)
}
