package mirror

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/cockroachdb/errors"
)

var validCrateName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsValidCrateName checks if the given package name is valid.
//
// Names come from index file names; validating them here guarantees every
// path built by Layout stays inside the package's own subtree.
func IsValidCrateName(name string) bool {
	return validCrateName.MatchString(name)
}

// Layout computes every path of the mirror tree.
//
// All artifact and document paths for one package live under
// crates/<name> and api/v1/crates/<name>, so concurrent workers
// operating on different packages never share a write target.
type Layout struct {
	root string
}

// NewLayout constructs a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{root: filepath.Clean(dir)}
}

// Root returns the mirror root directory.
func (l Layout) Root() string {
	return l.root
}

// CrateDir returns the package's artifact directory, crates/<name>.
func (l Layout) CrateDir(name string) string {
	return filepath.Join(l.root, "crates", name)
}

// CratePath returns the artifact path, crates/<name>/<name>-<version>.crate.
// Existence of this file is the sole idempotency marker for a download.
func (l Layout) CratePath(name, version string) string {
	return filepath.Join(l.CrateDir(name), name+"-"+version+".crate")
}

// VersionDir returns the per-version display directory.
func (l Layout) VersionDir(name, version string) string {
	return filepath.Join(l.CrateDir(name), version)
}

// VersionHTML returns the per-version page path.
func (l Layout) VersionHTML(name, version string) string {
	return filepath.Join(l.VersionDir(name, version), "index.html")
}

// PackageHTML returns the per-package page path.
func (l Layout) PackageHTML(name string) string {
	return filepath.Join(l.CrateDir(name), "index.html")
}

// CatalogHTML returns the top-level catalog path.
func (l Layout) CatalogHTML() string {
	return filepath.Join(l.root, "index.html")
}

// APIPackageDir returns the per-package API directory.
func (l Layout) APIPackageDir(name string) string {
	return filepath.Join(l.root, "api", "v1", "crates", name)
}

// APIVersionDir returns the per-version API directory.
func (l Layout) APIVersionDir(name, version string) string {
	return filepath.Join(l.APIPackageDir(name), version)
}

// PackageJSON returns the per-package API document path.
func (l Layout) PackageJSON(name string) string {
	return filepath.Join(l.APIPackageDir(name), "index.json")
}

// VersionJSON returns the per-version API document path.
func (l Layout) VersionJSON(name, version string) string {
	return filepath.Join(l.APIVersionDir(name, version), "index.json")
}

// DownloadLink returns the path of the symlink through which the API tree
// serves the artifact.
func (l Layout) DownloadLink(name, version string) string {
	return filepath.Join(l.APIVersionDir(name, version), "download")
}

// replaceFile writes a derived document by total replacement: the old
// content is removed before the new is written, never merged.
func replaceFile(path string, data []byte) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "replaceFile")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "replaceFile")
	}
	return nil
}
