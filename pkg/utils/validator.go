package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	identifierRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)
)

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// ValidateIdentifier checks an externally supplied id such as a customer or
// payment id
func ValidateIdentifier(field, id string) error {
	if !identifierRe.MatchString(id) {
		return fmt.Errorf("%s must be 1-128 characters of letters, digits, '.', '_', ':' or '-'", field)
	}
	return nil
}

// ParseTTLSeconds parses a positive number of seconds. An empty value returns
// def.
func ParseTTLSeconds(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("ttl must be a positive number of seconds: %q", raw)
	}
	return time.Duration(n) * time.Second, nil
}
