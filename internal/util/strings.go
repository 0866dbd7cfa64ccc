// Package util provides shared utility functions used across the codebase.
package util

import "strings"

// SplitCSV splits a comma-separated string into a slice, trimming whitespace.
// Returns nil for empty strings.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// PadMonth zero-pads a month value to two digits ("5" -> "05").
func PadMonth(m string) string {
	m = strings.TrimSpace(m)
	if len(m) == 1 {
		return "0" + m
	}
	return m
}
