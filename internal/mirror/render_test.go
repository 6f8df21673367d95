package mirror

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/crates-mirror/crates-mirror/internal/crates"
)

// plainRenderer echoes the source, keeping markup assertions simple.
type plainRenderer struct{}

func (plainRenderer) Render(src []byte) []byte { return src }

func TestRenderVersionPage(t *testing.T) {
	t.Parallel()

	rel := crates.Release{Name: "demo", Version: "1.2.3"}
	page := string(renderVersionPage(rel, plainRenderer{}, []byte("the readme body")))

	if !strings.Contains(page, "<title>demo version 1.2.3</title>") {
		t.Error("page lacks the title")
	}
	if !strings.Contains(page, "the readme body") {
		t.Error("page lacks the rendered readme")
	}
}

func TestRenderVersionPageInvalidUTF8(t *testing.T) {
	t.Parallel()

	rel := crates.Release{Name: "demo", Version: "1.2.3"}
	page := string(renderVersionPage(rel, plainRenderer{}, []byte{0xff, 0xfe, 0xfd}))

	if !strings.Contains(page, "<h1>demo</h1><p>Failed to generate description: readme is not valid UTF-8</p>") {
		t.Errorf("invalid readme must render the diagnostic, got %q", page)
	}
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	out := string(MarkdownRenderer{}.Render([]byte("# Heading\n\nparagraph\n")))
	if !strings.Contains(out, "Heading</h1>") {
		t.Errorf("markdown heading not rendered: %q", out)
	}
}

func TestRenderPackagePage(t *testing.T) {
	t.Parallel()

	releases := []crates.Release{
		{Name: "demo", Version: "0.1.0"},
		{Name: "demo", Version: "0.2.0"},
	}
	page := string(renderPackagePage("demo", releases))

	if !strings.Contains(page, "<title>demo</title>") {
		t.Error("page lacks the title")
	}
	first := strings.Index(page, `<a href="./0.1.0/">0.1.0</a>`)
	second := strings.Index(page, `<a href="./0.2.0/">0.2.0</a>`)
	if first < 0 || second < 0 || first > second {
		t.Errorf("version links missing or out of order: %q", page)
	}
}

func TestRenderCatalog(t *testing.T) {
	t.Parallel()

	results := []PackageResult{
		{Name: "demo", Description: "a demo"},
		{Name: "broken", Err: errors.New("boom")},
		{Name: "other", Description: "No description"},
	}
	page := string(renderCatalog(results))

	if !strings.Contains(page, `<dt><a href="crates/demo/">demo</a></dt>`) {
		t.Error("catalog lacks the demo entry")
	}
	if !strings.Contains(page, "<dd>a demo</dd>") {
		t.Error("catalog lacks the demo description")
	}
	if strings.Contains(page, "broken") {
		t.Error("failed packages must not appear in the catalog")
	}
	if !strings.Contains(page, `<dt><a href="crates/other/">other</a></dt>`) {
		t.Error("catalog lacks the other entry")
	}
}
