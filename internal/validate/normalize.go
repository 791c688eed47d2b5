package validate

import (
	"sort"
	"strings"
	"unicode"
)

// Phone numbers are stored as bare digits (E.164 without the '+').
const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// NormalizePhone strips everything but digits and reports whether the
// result has an acceptable length.
func NormalizePhone(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	return out, len(out) >= minPhoneDigits && len(out) <= maxPhoneDigits
}

// NormalizeLabels trims, lower-cases, de-duplicates and sorts labels,
// dropping empty entries. It never returns nil.
func NormalizeLabels(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// SplitPhones parses a free-form recipient list (commas, semicolons,
// whitespace or newlines) into normalized, de-duplicated numbers in input
// order. Tokens that are not valid numbers are returned in rejected.
func SplitPhones(s string) (phones, rejected []string) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r' || r == '\t'
	})
	seen := map[string]struct{}{}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		// "55 11 91234 5678" is one number; "5511... 5521..." are two.
		for _, tok := range splitSpaced(f) {
			p, ok := NormalizePhone(tok)
			if !ok {
				rejected = append(rejected, tok)
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			phones = append(phones, p)
		}
	}
	return phones, rejected
}

// splitSpaced keeps a space-separated field whole when its digits form one
// valid number, otherwise splits it on whitespace.
func splitSpaced(f string) []string {
	if _, ok := NormalizePhone(f); ok {
		return []string{f}
	}
	parts := strings.FieldsFunc(f, unicode.IsSpace)
	if len(parts) == 0 {
		return nil
	}
	return parts
}
