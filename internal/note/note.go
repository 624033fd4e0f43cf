// Package note defines the immutable note snapshot model shared by the
// embedding, storage and analysis layers. Notes are produced by an ingestion
// source once per session; content changes yield a new content hash, never a
// mutation of history.
package note

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Note is one analyzable text unit as seen at ingestion time.
type Note struct {
	ID       string    `json:"id"` // stable path or derived id
	Content  string    `json:"content"`
	Hash     string    `json:"hash"` // sha256 of Content
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Virtual notes are derived from a single container file (e.g. one
	// section of a daily log) rather than backed by their own file.
	Virtual   bool   `json:"virtual,omitempty"`
	SourceRef string `json:"source_ref,omitempty"` // container note ID for virtual notes
}

// Link is a directed edge between two notes. Link extraction is owned by the
// ingestion layer; the engine consumes the edge set read-only.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Corpus is the full note set plus link set handed to one analysis session.
type Corpus struct {
	Notes []Note
	Links []Link
}

// Source provides a corpus snapshot. Implementations live at the ingestion
// boundary (vault walker, test fixtures); the engine never walks files itself.
type Source interface {
	Load() (*Corpus, error)
}

// HashContent returns the content hash used as the semantic cache key.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// New builds a note with its content hash filled in.
func New(id, content string, created, modified time.Time) Note {
	return Note{
		ID:       id,
		Content:  content,
		Hash:     HashContent(content),
		Created:  created,
		Modified: modified,
	}
}

// SortedIDs returns the note IDs in lexicographic order. Every aggregation in
// the engine iterates notes in this order so replays are byte-identical.
func (c *Corpus) SortedIDs() []string {
	ids := make([]string, len(c.Notes))
	for i, n := range c.Notes {
		ids[i] = n.ID
	}
	sort.Strings(ids)
	return ids
}

// ByID returns a lookup map over the corpus notes.
func (c *Corpus) ByID() map[string]Note {
	m := make(map[string]Note, len(c.Notes))
	for _, n := range c.Notes {
		m[n.ID] = n
	}
	return m
}
