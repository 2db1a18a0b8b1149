package monitor

import (
	"strings"
)

const DefaultDelimiter = "_"

var DefaultAlternates = []string{"-", "/"}

// Canonicalizer maps raw instrument spellings onto one registry key.
type Canonicalizer struct {
	replacer *strings.Replacer
}

// NewCanonicalizer builds a canonicalizer that rewrites every alternate
// delimiter to canonical. An empty canonical delimiter selects "_".
func NewCanonicalizer(canonical string, alternates []string) Canonicalizer {
	if canonical == "" {
		canonical = DefaultDelimiter
	}
	pairs := make([]string, 0, len(alternates)*2)
	for _, alt := range alternates {
		if alt == "" || alt == canonical {
			continue
		}
		pairs = append(pairs, alt, canonical)
	}
	return Canonicalizer{replacer: strings.NewReplacer(pairs...)}
}

// Canonical returns the registry key for raw, or "" if raw is blank.
func (c Canonicalizer) Canonical(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if c.replacer == nil {
		return s
	}
	return c.replacer.Replace(s)
}

// CanonicalAll canonicalizes and de-duplicates ids, dropping blanks.
func (c Canonicalizer) CanonicalAll(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		s := c.Canonical(id)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
