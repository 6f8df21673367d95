package mirror

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/russross/blackfriday/v2"

	"github.com/crates-mirror/crates-mirror/internal/crates"
)

// TextRenderer converts readme source text to display markup.  It is an
// interface so page generation can be tested with a trivial renderer.
type TextRenderer interface {
	Render(src []byte) []byte
}

// MarkdownRenderer renders markdown, the de-facto readme format on
// crates.io.
type MarkdownRenderer struct{}

// Render implements TextRenderer.
func (MarkdownRenderer) Render(src []byte) []byte {
	return blackfriday.Run(src)
}

// renderVersionPage builds the per-version display page.  A readme that is
// not valid text produces a diagnostic fragment instead of aborting the
// package.
func renderVersionPage(rel crates.Release, renderer TextRenderer, readme []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><title>%s version %s</title></head><body>\n",
		rel.Name, rel.Version)
	if utf8.Valid(readme) {
		b.Write(renderer.Render(readme))
	} else {
		fmt.Fprintf(&b, "<h1>%s</h1><p>Failed to generate description: readme is not valid UTF-8</p>", rel.Name)
	}
	b.WriteString("\n</body></html>")
	return b.Bytes()
}

// renderPackagePage builds the per-package display page linking every
// version, downloaded or not.
func renderPackagePage(name string, releases []crates.Release) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><title>%s</title></head><body><ul>\n", name)
	for _, rel := range releases {
		fmt.Fprintf(&b, "<li><a href=\"./%s/\">%s</a></li>\n", rel.Version, rel.Version)
	}
	b.WriteString("</ul></body></html>")
	return b.Bytes()
}

// renderCatalog builds the top-level catalog from completed package
// results, in the order they finished.
func renderCatalog(results []PackageResult) []byte {
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html><html><head><title>Crates</title></head><body><dl>\n")
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		fmt.Fprintf(&b, "<dt><a href=\"crates/%s/\">%s</a></dt>\n<dd>%s</dd>\n\n",
			res.Name, res.Name, res.Description)
	}
	b.WriteString("</dl></body></html>")
	return b.Bytes()
}
