package search

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func replies() []Document {
	return []Document{
		{ID: "hours", Title: "Opening hours", Text: "We are open Monday to Friday 9 to 5"},
		{ID: "price", Title: "Pricing", Text: "The basic plan costs 10 dollars per month"},
		{ID: "refund", Title: "Refunds", Text: "Refunds are processed within 5 business days"},
		{ID: "blank", Title: "  ", Text: "the a"},
	}
}

func ids(rs []Result) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestNew_SkipsDocumentsWithoutWords(t *testing.T) {
	if n := New(replies(), WithStopwords(DefaultStopwords...)).Len(); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
	// Without stop words the "blank" reply has two words.
	if n := New(replies()).Len(); n != 4 {
		t.Fatalf("Len = %d, want 4", n)
	}
}

func TestWithStopwords_FoldsAndTrims(t *testing.T) {
	ix := New(nil, WithStopwords("  The ", "", "AN"))
	if diff := cmp.Diff(wordSet{"the": {}, "an": {}}, ix.stop); diff != "" {
		t.Fatalf("stop words (-want +got):\n%s", diff)
	}
	if New(nil, WithStopwords()).stop != nil {
		t.Fatal("empty list should leave stop words unset")
	}
}

func TestSearch_Ranking(t *testing.T) {
	ix := New(replies(), WithStopwords(DefaultStopwords...))

	got := ix.Search("what are your opening HOURS ", 5)
	if diff := cmp.Diff([]string{"hours"}, ids(got)); diff != "" {
		t.Fatalf("hours query:\n%s", diff)
	}

	got = ix.Search("refunds pricing", 5)
	if diff := cmp.Diff([]string{"refund", "price"}, ids(got)); diff != "" {
		t.Fatalf("two-word query:\n%s", diff)
	}
	if got[0].Score < got[1].Score {
		t.Fatalf("results not sorted: %+v", got)
	}
	if got := ix.Search("refunds pricing", 1); len(got) != 1 {
		t.Fatalf("k=1 returned %d results", len(got))
	}
}

func TestSearch_TitleOutranksBody(t *testing.T) {
	ix := New([]Document{
		{ID: "a", Title: "Delivery", Text: "ask about the invoice"},
		{ID: "b", Title: "Invoice", Text: "ask about the delivery"},
	})
	if diff := cmp.Diff([]string{"b", "a"}, ids(ix.Search("invoice ", 5))); diff != "" {
		t.Fatalf("order:\n%s", diff)
	}
}

func TestSearch_TrailingPrefix(t *testing.T) {
	ix := New(replies(), WithStopwords(DefaultStopwords...))

	if diff := cmp.Diff([]string{"refund"}, ids(ix.Search("refu", 5))); diff != "" {
		t.Fatalf("prefix while typing:\n%s", diff)
	}
	// A finished word (trailing space) must match exactly.
	if got := ix.Search("refu ", 5); got != nil {
		t.Fatalf("finished partial word matched: %+v", got)
	}
	// Single runes are too short to be a prefix.
	if got := ix.Search("r", 5); got != nil {
		t.Fatalf("one-rune prefix matched: %+v", got)
	}
	// Only the last word is treated as a prefix.
	if got := ix.Search("refu days", 5); len(got) != 1 || got[0].ID != "refund" {
		t.Fatalf("inner partial word: %+v", got)
	}
}

func TestSearch_NoMatch(t *testing.T) {
	ix := New(replies(), WithStopwords(DefaultStopwords...))
	for _, q := range []string{"", "   ", "the a an", "zzz"} {
		if got := ix.Search(q, 5); got != nil {
			t.Fatalf("Search(%q) = %+v, want nil", q, got)
		}
	}
	if got := New(nil).Search("hours", 5); got != nil {
		t.Fatalf("empty index returned %+v", got)
	}
}

func TestSearch_CaseFoldingAndTies(t *testing.T) {
	ix := New([]Document{
		{ID: "d1", Text: "Straße closed"},
		{ID: "d2", Text: "strasse open"},
		{ID: "d4", Text: "zeta alpha"},
		{ID: "d3", Text: "alpha zeta"},
	})
	if got := ix.Search("STRASSE ", 5); len(got) != 2 {
		t.Fatalf("case folding: %+v", got)
	}
	if diff := cmp.Diff([]string{"d3", "d4"}, ids(ix.Search("alpha ", 0))); diff != "" {
		t.Fatalf("tie order:\n%s", diff)
	}
}

func TestSearch_ConcurrentReads(t *testing.T) {
	ix := New(replies())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := ix.Search("refunds processed", 3); len(got) == 0 {
				t.Errorf("no results")
			}
		}()
	}
	wg.Wait()
}
