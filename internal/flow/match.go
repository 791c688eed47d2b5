package flow

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// Matches reports whether text fires a chatbot configured with triggers.
// Comparison is case-insensitive; "contains" mode matches a trigger anywhere
// in the text, "exact" mode the whole trimmed text.
func Matches(triggers []string, mode, text string) bool {
	folder := cases.Fold()
	t := folder.String(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, trig := range triggers {
		k := folder.String(strings.TrimSpace(trig))
		if k == "" {
			continue
		}
		if mode == domain.MatchContains {
			if strings.Contains(t, k) {
				return true
			}
		} else if t == k {
			return true
		}
	}
	return false
}
