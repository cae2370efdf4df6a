// Package strings handles the comma-separated lists used for key scopes and
// restrictions.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated list. Entries are trimmed; empty and
// repeated entries are dropped and order is preserved. A list with no usable
// entries yields nil, which callers treat as unrestricted.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, ","))
}

// SplitAll applies SplitList to each value and concatenates the results, so a
// stored list may arrive either as one joined string or as separate entries.
func SplitAll(values []string) []string {
	var parts []string
	for _, v := range values {
		parts = append(parts, strings.Split(v, ",")...)
	}
	return DedupeAndTrim(parts)
}

// JoinList is the inverse of SplitList.
func JoinList(values []string) string {
	return strings.Join(DedupeAndTrim(values), ",")
}

// DedupeAndTrim trims each value and drops empty and repeated ones, keeping
// first occurrences in order. It returns nil when nothing remains.
func DedupeAndTrim(values []string) []string {
	var result []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
