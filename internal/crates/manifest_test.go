package crates

import (
	"sort"
	"strings"
	"testing"
)

// fakeArchive is an in-memory MemberReader.
type fakeArchive struct {
	members map[string]string
	scanErr error
}

func (f *fakeArchive) Member(name string) ([]byte, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	if data, ok := f.members[name]; ok {
		return []byte(data), nil
	}
	return nil, ErrMemberNotFound
}

func (f *fakeArchive) MemberWithPrefix(prefix string) (string, []byte, error) {
	if f.scanErr != nil {
		return "", nil, f.scanErr
	}
	names := make([]string, 0, len(f.members))
	for name := range f.members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			return name, []byte(f.members[name]), nil
		}
	}
	return "", nil, ErrMemberNotFound
}

func TestExtractManifest(t *testing.T) {
	t.Parallel()

	arc := &fakeArchive{members: map[string]string{
		"demo-1.0.0/Cargo.toml": `
[package]
name = "demo"
description = "a demonstration"
license = "MIT"
readme = "README.md"
`,
	}}

	m := ExtractManifest(arc, "demo-1.0.0")
	if m.Package.Description != "a demonstration" {
		t.Errorf("unexpected description: %q", m.Package.Description)
	}
	if !m.HasLicense() || m.Package.License != "MIT" {
		t.Errorf("unexpected license: %q", m.Package.License)
	}
	readme := m.Package.Readme
	if !readme.Declared || readme.Invalid || readme.Path != "README.md" {
		t.Errorf("unexpected readme field: %+v", readme)
	}
}

func TestExtractManifestDegraded(t *testing.T) {
	t.Parallel()

	// Missing manifest member.
	m := ExtractManifest(&fakeArchive{members: map[string]string{}}, "demo-1.0.0")
	if m.Package.Description != "" || m.HasLicense() {
		t.Errorf("missing manifest should yield the zero value: %+v", m)
	}

	// Undecodable TOML.
	arc := &fakeArchive{members: map[string]string{
		"demo-1.0.0/Cargo.toml": "[package\nnot toml",
	}}
	m = ExtractManifest(arc, "demo-1.0.0")
	if m.Package.Description != "" {
		t.Errorf("broken manifest should yield the zero value: %+v", m)
	}

	// Truncated archive.
	m = ExtractManifest(&fakeArchive{scanErr: ErrTruncated}, "demo-1.0.0")
	if m.Package.Description != "" {
		t.Errorf("truncated archive should yield the zero value: %+v", m)
	}
}

func TestExtractManifestReadmeFalse(t *testing.T) {
	t.Parallel()

	arc := &fakeArchive{members: map[string]string{
		"demo-1.0.0/Cargo.toml": "[package]\nreadme = false\n",
	}}
	m := ExtractManifest(arc, "demo-1.0.0")
	readme := m.Package.Readme
	if !readme.Declared || !readme.Invalid {
		t.Errorf("non-string readme should be declared and invalid: %+v", readme)
	}
}

func TestReadmeTextDeclared(t *testing.T) {
	t.Parallel()

	arc := &fakeArchive{members: map[string]string{
		"demo-1.0.0/docs/intro.md": "declared readme",
	}}
	m := Manifest{}
	m.Package.Readme = ReadmeField{Declared: true, Path: "./docs/intro.md"}

	got := ReadmeText(arc, "demo-1.0.0", m)
	if string(got) != "declared readme" {
		t.Errorf("unexpected readme: %q", got)
	}
}

func TestReadmeTextDiagnostics(t *testing.T) {
	t.Parallel()

	empty := &fakeArchive{members: map[string]string{}}

	var m Manifest
	m.Package.Readme = ReadmeField{Declared: true, Invalid: true}
	if got := string(ReadmeText(empty, "demo-1.0.0", m)); got != `"readme" key in Cargo.toml, but invalid value type` {
		t.Errorf("unexpected diagnostic: %q", got)
	}

	m = Manifest{}
	m.Package.Readme = ReadmeField{Declared: true, Path: "GONE.md"}
	if got := string(ReadmeText(empty, "demo-1.0.0", m)); got != `"readme" key in Cargo.toml, but no file with that name.` {
		t.Errorf("unexpected diagnostic: %q", got)
	}

	truncated := &fakeArchive{scanErr: ErrTruncated}
	if got := string(ReadmeText(truncated, "demo-1.0.0", m)); got != "EOF while scanning crate." {
		t.Errorf("unexpected diagnostic: %q", got)
	}

	if got := string(ReadmeText(empty, "demo-1.0.0", Manifest{})); got != "No README found." {
		t.Errorf("unexpected diagnostic: %q", got)
	}
	if got := string(ReadmeText(truncated, "demo-1.0.0", Manifest{})); got != "EOF while scanning crate." {
		t.Errorf("unexpected diagnostic: %q", got)
	}
}

func TestReadmeTextFallbackPrefix(t *testing.T) {
	t.Parallel()

	arc := &fakeArchive{members: map[string]string{
		"demo-1.0.0/Cargo.toml": "[package]\n",
		"demo-1.0.0/README.rst": "fallback readme",
	}}
	got := ReadmeText(arc, "demo-1.0.0", Manifest{})
	if string(got) != "fallback readme" {
		t.Errorf("unexpected readme: %q", got)
	}
}
