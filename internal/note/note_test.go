package note

import (
	"testing"
	"time"
)

func TestHashContent(t *testing.T) {
	a := HashContent("same text")
	b := HashContent("same text")
	if a != b {
		t.Error("Identical content must hash identically")
	}
	if a == HashContent("different text") {
		t.Error("Different content must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}
}

func TestNewFillsHash(t *testing.T) {
	now := time.Now()
	n := New("id", "content", now, now)
	if n.Hash != HashContent("content") {
		t.Error("New must fill the content hash")
	}
	if n.Virtual || n.SourceRef != "" {
		t.Error("Notes are file-backed unless marked otherwise")
	}
}

func TestSortedIDs(t *testing.T) {
	c := &Corpus{Notes: []Note{{ID: "c"}, {ID: "a"}, {ID: "b"}}}
	ids := c.SortedIDs()
	if ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("Expected lexicographic order, got %v", ids)
	}
}
