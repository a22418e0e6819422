// Package core holds the domain types and the pure aggregation logic.
//
// This file contains parsing for whole-yen amounts. Amounts are stored
// minor-unit-free, so there is no decimal handling or rounding.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseYen converts a whole-yen string to an int64 amount.
//
// Thousands separators (",") are tolerated. Signs, decimals and any other
// non-digit input are rejected. Zero parses successfully: it is a
// structurally legal value that Entry.Validate refuses at save time.
func ParseYen(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}
