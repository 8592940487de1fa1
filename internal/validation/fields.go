// Package validation holds boundary checks for caller-supplied values.
package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Column limits of the request tables.
const (
	// MaxFieldBytes bounds any single string value accepted from a caller, items included.
	MaxFieldBytes = 512
	MaxSiteBytes  = 128
	MaxGroupBytes = 64
	// MaxCopies is the largest replica count num_copies can hold.
	MaxCopies = math.MaxInt32
)

// ValidateFieldString rejects values that are too long, not UTF-8, or carry control characters.
func ValidateFieldString(field, value string) error {
	if len(value) > MaxFieldBytes {
		return fmt.Errorf("field %q exceeds %d bytes", field, MaxFieldBytes)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("field %q is not valid UTF-8", field)
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return fmt.Errorf("field %q contains control characters", field)
		}
	}
	return nil
}

// ValidateMaxBytes rejects values longer than max bytes.
func ValidateMaxBytes(field, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("field %q exceeds %d bytes", field, max)
	}
	return nil
}

// ParseIntInRange parses a base-10 integer within [min, max].
func ParseIntInRange(field, value string, min, max int) (int, error) {
	n, err := ParsePositiveInt(field, value, min)
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, fmt.Errorf("field %q must be at most %d", field, max)
	}
	return n, nil
}

// ParsePositiveInt parses a base-10 integer no smaller than min.
func ParsePositiveInt(field, value string, min int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("field %q must be an integer", field)
	}
	if n < min {
		return 0, fmt.Errorf("field %q must be at least %d", field, min)
	}
	return n, nil
}

// SplitItems turns a comma-separated item list into its members. Leading and
// trailing commas are ignored, members are trimmed and empty ones dropped.
func SplitItems(raw string) []string {
	return CleanItems(strings.Split(strings.Trim(raw, ","), ","))
}

// CleanItems trims each member and drops empty ones.
func CleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
