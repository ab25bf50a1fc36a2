package store

import (
	"fmt"
	"strconv"
)

// External identifiers are decimal numeric strings up to 19 digits.
// Malformed identifiers are rejected here, before reaching the core.

// ParseID parses an external identifier string.
func ParseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("id: empty identifier")
	}
	if len(s) > 19 {
		return 0, fmt.Errorf("id: identifier %q exceeds 19 digits", s)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("id: malformed identifier %q", s)
	}
	return id, nil
}

// FormatID renders an identifier in its external decimal form.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
