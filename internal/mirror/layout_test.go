package mirror

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsValidCrateName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"serde", "serde_json", "tokio-util", "a", "B2"} {
		if !IsValidCrateName(name) {
			t.Errorf("%q should be valid", name)
		}
	}
	for _, name := range []string{"", "..", "a/b", "a.b", "a b", "crate\x00"} {
		if IsValidCrateName(name) {
			t.Errorf("%q should be invalid", name)
		}
	}
}

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	l := NewLayout("/srv/mirror/")
	cases := []struct {
		got, want string
	}{
		{l.Root(), "/srv/mirror"},
		{l.CrateDir("serde"), "/srv/mirror/crates/serde"},
		{l.CratePath("serde", "1.0.0"), "/srv/mirror/crates/serde/serde-1.0.0.crate"},
		{l.VersionDir("serde", "1.0.0"), "/srv/mirror/crates/serde/1.0.0"},
		{l.VersionHTML("serde", "1.0.0"), "/srv/mirror/crates/serde/1.0.0/index.html"},
		{l.PackageHTML("serde"), "/srv/mirror/crates/serde/index.html"},
		{l.CatalogHTML(), "/srv/mirror/index.html"},
		{l.APIPackageDir("serde"), "/srv/mirror/api/v1/crates/serde"},
		{l.APIVersionDir("serde", "1.0.0"), "/srv/mirror/api/v1/crates/serde/1.0.0"},
		{l.PackageJSON("serde"), "/srv/mirror/api/v1/crates/serde/index.json"},
		{l.VersionJSON("serde", "1.0.0"), "/srv/mirror/api/v1/crates/serde/1.0.0/index.json"},
		{l.DownloadLink("serde", "1.0.0"), "/srv/mirror/api/v1/crates/serde/1.0.0/download"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %s, want %s", tc.got, tc.want)
		}
	}
}

func TestReplaceFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.html")

	if err := replaceFile(path, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := replaceFile(path, []byte("second")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("content not replaced: %q", data)
	}
}
