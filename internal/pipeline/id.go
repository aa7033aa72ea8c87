package pipeline

import "strings"

// DeterministicToolID derives a stable tool-call id from its inputs so the
// same synthesis on the same story yields the same ids and the frontend can
// dedupe replays.
func DeterministicToolID(prefix string, parts ...string) string {
	pieces := make([]string, 0, len(parts)+1)
	pieces = append(pieces, prefix)
	for _, p := range parts {
		p = strings.ReplaceAll(p, "\n", " ")
		p = truncateRunes(p, 120)
		pieces = append(pieces, p)
	}
	return truncateRunes(strings.Join(pieces, "|"), 220)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
