// Package vault ingests a Markdown note collection into a note.Corpus. It is
// the external-collaborator boundary of the engine: everything downstream
// consumes only the Corpus snapshot this package produces.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/note"
)

// wikilinkRe matches [[target]] and [[target|alias]], capturing the target.
var wikilinkRe = regexp.MustCompile(`\[\[([^\]\|#]+)(?:[#\|][^\]]*)?\]\]`)

// headingRe splits a container file into sections at level-2 headings.
var headingRe = regexp.MustCompile(`(?m)^## +(.+)$`)

// Vault reads notes from a directory tree of Markdown files.
type Vault struct {
	root string
	// containerFile, when set, names a vault-relative file whose level-2
	// sections become derived virtual notes instead of one monolithic note.
	containerFile string
}

// New creates a Vault rooted at dir. containerFile may be empty.
func New(dir, containerFile string) *Vault {
	return &Vault{root: dir, containerFile: containerFile}
}

// Load walks the vault and returns the corpus snapshot. Note ids are
// vault-relative paths without the .md extension, which is also what
// wikilinks resolve against.
func (v *Vault) Load() (*note.Corpus, error) {
	corpus := &note.Corpus{}
	byName := make(map[string]string) // base name -> note id, for short wikilinks

	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != v.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		id := strings.TrimSuffix(filepath.ToSlash(rel), ".md")
		created := createdTime(string(content), info.ModTime())

		if filepath.ToSlash(rel) == v.containerFile {
			virtuals := splitContainer(id, string(content), created, info.ModTime())
			corpus.Notes = append(corpus.Notes, virtuals...)
			for _, n := range virtuals {
				byName[filepath.Base(n.ID)] = n.ID
			}
			return nil
		}

		n := note.New(id, string(content), created, info.ModTime())
		corpus.Notes = append(corpus.Notes, n)
		byName[filepath.Base(id)] = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk vault %s: %w", v.root, err)
	}

	corpus.Links = extractLinks(corpus.Notes, byName)
	logging.Info("vault", "loaded %d notes, %d links from %s",
		len(corpus.Notes), len(corpus.Links), v.root)
	return corpus, nil
}

// splitContainer derives one virtual note per level-2 section of a container
// file. Section ids are container-id#heading so replays are stable as long as
// headings are.
func splitContainer(containerID, content string, created, modified time.Time) []note.Note {
	locs := headingRe.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return []note.Note{note.New(containerID, content, created, modified)}
	}

	var notes []note.Note
	for i, loc := range locs {
		heading := strings.TrimSpace(content[loc[2]:loc[3]])
		start := loc[1]
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(content[start:end])
		if body == "" {
			continue
		}
		n := note.New(containerID+"#"+heading, body, created, modified)
		n.Virtual = true
		n.SourceRef = containerID
		notes = append(notes, n)
	}
	return notes
}

// extractLinks resolves [[wikilinks]] in every note against the corpus.
// Links to notes outside the corpus are dropped; the graph only covers notes
// the session will embed.
func extractLinks(notes []note.Note, byName map[string]string) []note.Link {
	ids := make(map[string]bool, len(notes))
	for _, n := range notes {
		ids[n.ID] = true
	}

	var links []note.Link
	seen := make(map[note.Link]bool)
	for _, n := range notes {
		for _, m := range wikilinkRe.FindAllStringSubmatch(n.Content, -1) {
			target := strings.TrimSpace(m[1])
			resolved := target
			if !ids[resolved] {
				resolved = byName[target]
			}
			if resolved == "" || !ids[resolved] || resolved == n.ID {
				continue
			}
			l := note.Link{Source: n.ID, Target: resolved}
			if !seen[l] {
				seen[l] = true
				links = append(links, l)
			}
		}
	}
	return links
}

// createdTime reads an ISO date from a "created:" frontmatter line, falling
// back to the file modification time when absent or unparseable.
func createdTime(content string, fallback time.Time) time.Time {
	for _, line := range strings.SplitN(content, "\n", 20) {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(trimmed), "created:") {
			continue
		}
		value := strings.TrimSpace(trimmed[len("created:"):])
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if t, err := time.Parse(layout, value); err == nil {
				return t
			}
		}
	}
	return fallback
}
