// Package search ranks short canned texts against what an agent is typing.
// It backs quick-reply suggestions in the inbox composer.
//
// An Index is immutable once built and safe for concurrent use. Matching is
// on Unicode case-folded words; the last word of the query also matches as
// a prefix, so "refu" already finds "refund" before the agent finishes it.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// DefaultLimit is used when Search is called with k <= 0.
const DefaultLimit = 5

// minPrefixRunes is the shortest trailing word that matches as a prefix.
const minPrefixRunes = 2

// titleBoost is added per query word found in a document title, scaled by
// the query length.
const titleBoost = 0.25

// DefaultStopwords is a short English list suited to chat text.
var DefaultStopwords = []string{"a", "an", "the", "is", "are", "to", "of", "and", "or", "in", "on", "for", "it", "my", "your", "do", "you", "i"}

// Document is one searchable text. Title words (a quick reply's title and
// shortcut) rank above words that only occur in Text.
type Document struct {
	ID    string
	Title string
	Text  string
}

// Result is a ranked document ID.
type Result struct {
	ID    string
	Score float64
}

type wordSet map[string]struct{}

func (s wordSet) has(w string) bool {
	_, ok := s[w]
	return ok
}

// hasPrefix reports whether any word in s starts with p.
func (s wordSet) hasPrefix(p string) bool {
	for w := range s {
		if strings.HasPrefix(w, p) {
			return true
		}
	}
	return false
}

type entry struct {
	id    string
	title wordSet
	all   wordSet
}

// Index is an immutable set of documents.
type Index struct {
	stop    wordSet
	entries []entry
}

// Option customizes New.
type Option func(*Index)

// WithStopwords drops the given words from documents and queries.
func WithStopwords(words ...string) Option {
	return func(ix *Index) {
		for _, w := range words {
			if w = fold(strings.TrimSpace(w)); w != "" {
				if ix.stop == nil {
					ix.stop = wordSet{}
				}
				ix.stop[w] = struct{}{}
			}
		}
	}
}

// New indexes docs. Documents without a single searchable word are skipped.
func New(docs []Document, opts ...Option) *Index {
	ix := &Index{}
	for _, o := range opts {
		o(ix)
	}
	ix.entries = make([]entry, 0, len(docs))
	for _, d := range docs {
		title := ix.words(d.Title)
		all := ix.words(d.Text)
		for w := range title {
			all[w] = struct{}{}
		}
		if len(all) == 0 {
			continue
		}
		ix.entries = append(ix.entries, entry{id: d.ID, title: title, all: all})
	}
	return ix
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.entries) }

// Search returns up to k documents sharing a word with q, best first. The
// base score is the Jaccard similarity of the word sets, so it favours
// short, focused replies; title hits add a bonus. Ties go to the smaller
// document, then the lower ID. No match yields nil.
func (ix *Index) Search(q string, k int) []Result {
	if k <= 0 {
		k = DefaultLimit
	}
	words := ix.orderedWords(q)
	if len(words) == 0 || len(ix.entries) == 0 {
		return nil
	}
	// A trailing word still being typed may be a prefix.
	partial := ""
	if last := words[len(words)-1]; !endsWithSpace(q) && utf8.RuneCountInString(last) >= minPrefixRunes {
		partial = last
	}
	uniq := make(wordSet, len(words))
	for _, w := range words {
		uniq[w] = struct{}{}
	}

	type scored struct {
		e     *entry
		score float64
	}
	var hits []scored
	for i := range ix.entries {
		e := &ix.entries[i]
		matched, inTitle := 0, 0
		for w := range uniq {
			switch {
			case e.all.has(w):
				matched++
				if e.title.has(w) {
					inTitle++
				}
			case w == partial && e.all.hasPrefix(w):
				matched++
				if e.title.hasPrefix(w) {
					inTitle++
				}
			}
		}
		if matched == 0 {
			continue
		}
		jaccard := float64(matched) / float64(len(uniq)+len(e.all)-matched)
		hits = append(hits, scored{e: e, score: jaccard + titleBoost*float64(inTitle)/float64(len(uniq))})
	}

	sort.Slice(hits, func(a, b int) bool {
		x, y := hits[a], hits[b]
		switch {
		case x.score != y.score:
			return x.score > y.score
		case len(x.e.all) != len(y.e.all):
			return len(x.e.all) < len(y.e.all)
		default:
			return x.e.id < y.e.id
		}
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	var out []Result
	for _, h := range hits {
		out = append(out, Result{ID: h.e.id, Score: h.score})
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// fold applies Unicode case folding so "STRASSE" and "straße" compare equal.
func fold(s string) string { return cases.Fold().String(s) }

// orderedWords splits s into folded words in order, minus stop words.
func (ix *Index) orderedWords(s string) []string {
	var out []string
	for _, w := range wordRE.FindAllString(fold(s), -1) {
		if !ix.stop.has(w) {
			out = append(out, w)
		}
	}
	return out
}

func (ix *Index) words(s string) wordSet {
	set := wordSet{}
	for _, w := range ix.orderedWords(s) {
		set[w] = struct{}{}
	}
	return set
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}
