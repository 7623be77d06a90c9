package stats

import (
	"strings"
	"testing"
)

func TestResetFoldsIntoTotal(t *testing.T) {
	a := New()
	a.Current.Fetched = 3
	a.Current.FetchedBytes = 1024

	a.Reset()

	if !a.Current.Zero() {
		t.Fatalf("current slice not cleared: %+v", a.Current)
	}
	total := a.Total()
	if total.Fetched != 3 || total.FetchedBytes != 1024 {
		t.Fatalf("total lost the folded slice: %+v", total)
	}

	a.Current.Fetched = 2
	if got := a.Total().Fetched; got != 5 {
		t.Fatalf("total must include the live slice, got %d", got)
	}
}

func TestMerge(t *testing.T) {
	a := New()
	a.Current.AddedToStore = 1
	a.Reset()
	a.Current.AddedToIndex = 2

	b := New()
	b.Current.AddedToStore = 4
	b.Current.Skipped = 1

	a.Merge(b)
	total := a.Total()
	if total.AddedToStore != 5 || total.AddedToIndex != 2 || total.Skipped != 1 {
		t.Fatalf("merge wrong: %+v", total)
	}
}

func TestSummary(t *testing.T) {
	c := Counters{
		Discovered:   14,
		Fetched:      5,
		FetchedBytes: 2 * 1024 * 1024,
		AddedToStore: 5,
		AddedToIndex: 1,
		Skipped:      9,
	}
	s := c.Summary()
	for _, want := range []string{"14 urls", "5 downloads", "2.0 MB", "5 annex updates", "1 git update", "9 skipped"} {
		if !strings.Contains(s, want) {
			t.Fatalf("summary %q missing %q", s, want)
		}
	}
}

func TestSummaryEmpty(t *testing.T) {
	if got := (Counters{}).Summary(); got != "no activity" {
		t.Fatalf("empty summary: %q", got)
	}
}

func TestSingularForms(t *testing.T) {
	c := Counters{Discovered: 1, Merges: 1}
	s := c.Summary()
	if !strings.Contains(s, "1 url") || strings.Contains(s, "1 urls") {
		t.Fatalf("singular form wrong: %q", s)
	}
	if !strings.Contains(s, "1 merge") || strings.Contains(s, "1 merges") {
		t.Fatalf("singular merge wrong: %q", s)
	}
}
