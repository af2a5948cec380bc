// Package security provides validation, sanitization, and limits for the routeopt package.
package security

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mkrausse/routeopt/pkg/core"
)

// Limits and clamp bounds
const (
	// MaxIDLength is the maximum length for any single identifier
	MaxIDLength = 64

	// MaxIDListSize is the maximum number of IDs in one request list
	MaxIDListSize = 10000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MinJobTimeout is the lowest accepted wall-clock budget
	MinJobTimeout = time.Second

	// MaxJobTimeout is the highest accepted wall-clock budget
	MaxJobTimeout = 10 * time.Minute
)

// validID matches alphanumeric, hyphens, underscores, and dots
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateID validates a single opaque identifier
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength {
		return core.ErrInvalidID
	}
	if !validID.MatchString(id) {
		return core.ErrInvalidID
	}
	return nil
}

// ValidateIDList validates every ID in a list and its overall size
func ValidateIDList(ids []string) error {
	if len(ids) > MaxIDListSize {
		return core.ErrIDListTooLarge
	}
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampTimeout bounds a caller-supplied timeout to the accepted range.
// A zero or negative value falls back to the given default.
func ClampTimeout(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		d = fallback
	}
	if d < MinJobTimeout {
		return MinJobTimeout
	}
	if d > MaxJobTimeout {
		return MaxJobTimeout
	}
	return d
}

// ClampProgress bounds a progress report to [0,100]
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
