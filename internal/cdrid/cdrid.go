// Package cdrid converts between numeric document ids and their canonical
// CDR string form.
package cdrid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidID = errors.New("invalid CDR document id")

// Format renders an id as CDR followed by ten digits.
func Format(id uint) string {
	return fmt.Sprintf("CDR%010d", id)
}

// Parse extracts the numeric id from any CDR id form ("CDR0000000042",
// "CDR42", "42", "CDR0000000042#_3"). Non-digit characters before the
// fragment are ignored.
func Parse(s string) (uint, error) {
	id, _, err := Split(s)
	return id, err
}

// Split separates the numeric id from the optional fragment id.
func Split(s string) (uint, string, error) {
	base, frag, _ := strings.Cut(strings.TrimSpace(s), "#")

	var digits strings.Builder
	for _, r := range base {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}

	n, err := strconv.ParseUint(digits.String(), 10, 64)
	if err != nil || n == 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}

	return uint(n), frag, nil
}

// Normalize returns the canonical form of an id, keeping any fragment.
func Normalize(s string) (string, error) {
	id, frag, err := Split(s)
	if err != nil {
		return "", err
	}
	if frag != "" {
		return Format(id) + "#" + frag, nil
	}
	return Format(id), nil
}
