package utils

import (
	"strings"
	"unicode/utf8"
)

// Dedup trims every entry, drops empty ones and keeps the first occurrence of each value.
func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// SplitList splits a comma separated list and dedups the result.
func SplitList(list string) []string {
	if list == "" {
		return nil
	}
	return Dedup(strings.Split(list, ","))
}

// Truncate cuts s to at most max runes. It never splits a multi-byte character.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
