package deck

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestMarkdownRender(t *testing.T) {
	d := New("train <v2>")
	d.Add("Summary", "# Loss\n\n| epoch | loss |\n|---|---|\n| 1 | 0.5 |\n")
	d.Add("", "plain *text* <script>alert(1)</script>")

	var sb strings.Builder
	if err := NewMarkdown().Render(&sb, d); err != nil {
		t.Fatalf("Render() err=%v", err)
	}
	out := sb.String()
	for _, want := range []string{
		"<title>train &lt;v2&gt;</title>",
		"<h2>Summary</h2>",
		"<h1>Loss</h1>",
		"<table>",
		"<em>text</em>",
		`<section id="section-1">`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("Render() missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("Render() kept raw html:\n%s", out)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFile(dir, New("empty"), nil)
	if err != nil || path != "" {
		t.Fatalf("WriteFile(empty)=%q,%v, want no file", path, err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(err) {
		t.Fatalf("empty deck wrote a file: %v", err)
	}

	d := New("t")
	d.Add("a", "hello")
	path, err = WriteFile(dir, d, nil)
	if err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read deck: %v", err)
	}
	if !strings.Contains(string(b), "<p>hello</p>") {
		t.Fatalf("deck=%s", b)
	}
}

func TestDeckConcurrentAdd(t *testing.T) {
	d := New("t")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Add("s", "x")
		}()
	}
	wg.Wait()
	if d.Len() != 20 {
		t.Fatalf("Len()=%d, want 20", d.Len())
	}
}
