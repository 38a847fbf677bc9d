// Package deck collects report sections written by task code and renders
// them as a single HTML page stored next to the task outputs.
package deck

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// FileName is the rendered deck stored in the engine directory.
const FileName = "deck.html"

type Section struct {
	Title    string
	Markdown string
}

// Deck is safe for concurrent use.
type Deck struct {
	mu       sync.Mutex
	name     string
	sections []Section
}

func New(name string) *Deck {
	return &Deck{name: name}
}

func (d *Deck) Name() string { return d.name }

// Add appends a markdown section.
func (d *Deck) Add(title, markdown string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sections = append(d.sections, Section{Title: title, Markdown: markdown})
}

func (d *Deck) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sections)
}

func (d *Deck) Sections() []Section {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Section(nil), d.sections...)
}

type Renderer interface {
	Render(w io.Writer, d *Deck) error
}

// Markdown renders sections with goldmark and GitHub flavored extensions.
// Raw HTML inside sections is escaped.
type Markdown struct {
	md goldmark.Markdown
}

func NewMarkdown() *Markdown {
	return &Markdown{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (m *Markdown) Render(w io.Writer, d *Deck) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n",
		html.EscapeString(d.Name()))
	for i, s := range d.Sections() {
		fmt.Fprintf(&buf, "<section id=\"section-%d\">\n", i)
		if s.Title != "" {
			fmt.Fprintf(&buf, "<h2>%s</h2>\n", html.EscapeString(s.Title))
		}
		if err := m.md.Convert([]byte(s.Markdown), &buf); err != nil {
			return fmt.Errorf("render section %q: %w", s.Title, err)
		}
		buf.WriteString("</section>\n")
	}
	buf.WriteString("</body>\n</html>\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteFile renders d into dir/FileName. Empty decks write nothing and
// return an empty path.
func WriteFile(dir string, d *Deck, r Renderer) (string, error) {
	if d == nil || d.Len() == 0 {
		return "", nil
	}
	if r == nil {
		r = NewMarkdown()
	}
	path := filepath.Join(dir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create deck: %w", err)
	}
	if err := r.Render(f, d); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close deck: %w", err)
	}
	return path, nil
}
