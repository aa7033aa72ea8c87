// Package articulation recovers machine-readable payloads from model text:
// embedded action blocks, structured-output JSON and loosely fenced objects.
package articulation

// ScanJSONObject finds the first balanced JSON object at or after start and
// returns its text plus the index just past the closing brace.
//
// It uses a byte-level state machine that skips string contents so braces
// inside values never unbalance the scan. Both double and single quotes are
// treated as string delimiters because models frequently emit relaxed JSON.
//
// Note: it is safe to iterate bytes for ASCII delimiters ({, }, ", ', \)
// because UTF-8 guarantees ASCII bytes never appear inside a multi-byte
// sequence.
func ScanJSONObject(s string, start int) (string, int, bool) {
	if start < 0 {
		start = 0
	}
	open := -1
	for i := start; i < len(s); i++ {
		if s[i] == '{' {
			open = i
			break
		}
	}
	if open < 0 {
		return "", 0, false
	}

	var depth int
	var inString bool
	var quote byte

	for i := open; i < len(s); i++ {
		b := s[i]
		if inString {
			if b == '\\' {
				i++
				continue
			}
			if b == quote {
				inString = false
			}
			continue
		}
		switch b {
		case '"', '\'':
			inString = true
			quote = b
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[open : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}

// FindJSONCandidates scans the input for top-level JSON object candidates.
// Used to recover structured output when a provider wraps or prefixes the
// JSON it was asked to return.
func FindJSONCandidates(s string) []string {
	var candidates []string
	next := 0
	for next < len(s) {
		obj, end, ok := ScanJSONObject(s, next)
		if !ok {
			break
		}
		candidates = append(candidates, obj)
		next = end
	}
	return candidates
}
