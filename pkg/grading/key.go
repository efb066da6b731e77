package grading

import (
	"strconv"
	"strings"
)

// CacheKey derives a short, stable key from the semantic content of a request.
// Formatting noise (case, punctuation, whitespace runs) does not affect the key.
// An empty question or student answer yields "", which callers treat as a
// request to skip caching. The key is a 32-bit rolling hash folded to base-36;
// consumers re-validate the tier stored alongside the entry, so the hash does
// not need to be collision-proof.
func CacheKey(req Request) string {
	q := normalize(req.QuestionText)
	a := normalize(req.StudentAnswer)
	if q == "" || a == "" {
		return ""
	}

	parts := []string{
		q,
		a,
		normalize(req.CorrectAnswer),
		normalize(req.Subject),
		strconv.Itoa(req.GradeLevel),
		normalize(req.SkillName),
	}
	joined := strings.Join(parts, "|")

	var h uint32
	for _, r := range joined {
		h = h*31 + uint32(r)
	}
	return strconv.FormatUint(uint64(h), 36)
}

// normalize lowercases, strips everything except letters, digits and spaces,
// and collapses whitespace runs to a single space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ', r == '\t', r == '\n', r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// punctuation and symbols are dropped entirely
		}
	}
	return strings.TrimRight(b.String(), " ")
}
