package goodreads

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Accepted date layouts, in priority order
var dateLayouts = []string{
	"2006/01/02", // YYYY/MM/DD
	"01/02/2006", // MM/DD/YYYY
	"02/01/2006", // DD/MM/YYYY
	"2006-01-02", // YYYY-MM-DD
}

// ParseDate parses a read date strictly. The first layout that matches the
// whole string wins; anything else yields nil.
func ParseDate(value string, loc *time.Location) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return &t
		}
	}
	return nil
}

// parseTimestamp accepts the calendar layouts plus RFC 3339, the form the
// envelope is serialized in
func parseTimestamp(value string, loc *time.Location) *time.Time {
	if t := ParseDate(value, loc); t != nil {
		return t
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return nil
	}
	return &t
}

// ParseInt mirrors loose base-10 parsing: leading whitespace and sign are
// allowed, digits are read until the first non-digit. ok is false when no
// digit was found.
func ParseInt(value string) (int, bool) {
	s := strings.TrimSpace(value)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

func coercePages(value string) int {
	n, ok := ParseInt(value)
	if !ok || n < 0 {
		return 0
	}
	return n
}

func coerceRating(value string) int {
	n, ok := ParseInt(value)
	if !ok || n < 0 || n > 5 {
		return 0
	}
	return n
}

func coerceYear(value string) *int {
	n, ok := ParseInt(value)
	if !ok || n <= 0 {
		return nil
	}
	return &n
}

func cleanString(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// cleanISBN strips the ="..." wrapping Goodreads uses to keep spreadsheets
// from mangling ISBNs
func cleanISBN(value string) string {
	s := strings.TrimSpace(value)
	s = strings.TrimPrefix(s, "=")
	s = strings.Trim(s, `"`)
	return strings.TrimSpace(s)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// anyToString renders a decoded JSON scalar as text
func anyToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}

// anyToInt coerces a decoded JSON scalar to an integer, truncating numbers
func anyToInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) || math.Abs(val) > math.MaxInt32 {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	case string:
		return ParseInt(val)
	default:
		return 0, false
	}
}
