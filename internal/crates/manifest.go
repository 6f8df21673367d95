package crates

import (
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// Diagnostic strings substituted for a readme that cannot be extracted.
// They are rendered into the page body instead of failing the package.
const (
	readmeInvalidType = `"readme" key in Cargo.toml, but invalid value type`
	readmeMissingFile = `"readme" key in Cargo.toml, but no file with that name.`
	readmeScanEOF     = "EOF while scanning crate."
	readmeNotFound    = "No README found."
)

const manifestFilename = "Cargo.toml"

// Manifest is the package-description file embedded inside a crate.
type Manifest struct {
	Package ManifestPackage `toml:"package"`
}

// ManifestPackage holds the [package] table fields the mirror cares about.
type ManifestPackage struct {
	Description string      `toml:"description"`
	License     string      `toml:"license"`
	Readme      ReadmeField `toml:"readme"`
}

// ReadmeField decodes the manifest's "readme" key, which may be a relative
// path, false (no readme), or junk.  A missing key leaves the zero value.
type ReadmeField struct {
	Path     string
	Declared bool
	Invalid  bool
}

// UnmarshalTOML implements toml.Unmarshaler.
func (r *ReadmeField) UnmarshalTOML(v interface{}) error {
	r.Declared = true
	s, ok := v.(string)
	if !ok {
		r.Invalid = true
		return nil
	}
	r.Path = s
	return nil
}

// HasLicense returns true if the manifest declares a license.
func (m *Manifest) HasLicense() bool {
	return m.Package.License != ""
}

// ExtractManifest reads and parses <dir>/Cargo.toml from the archive.
//
// A missing member, a truncated archive, or undecodable TOML all yield an
// empty manifest: the artifact is still mirrored, it just has no metadata.
func ExtractManifest(arc MemberReader, dir string) Manifest {
	var m Manifest
	data, err := arc.Member(path.Join(dir, manifestFilename))
	if err != nil {
		return Manifest{}
	}
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}
	}
	return m
}

// ReadmeText locates the human-readable description document for a release.
//
// If the manifest declares a readme path, that exact member is read.
// Otherwise the first member under dir whose base name starts with README
// is used.  Every failure mode degrades to a diagnostic string so that a
// bad crate never aborts its package.
func ReadmeText(arc MemberReader, dir string, m Manifest) []byte {
	readme := m.Package.Readme
	if readme.Declared {
		if readme.Invalid {
			return []byte(readmeInvalidType)
		}
		member := path.Join(dir, strings.TrimPrefix(readme.Path, "./"))
		data, err := arc.Member(member)
		switch {
		case err == nil:
			return data
		case errors.Is(err, ErrMemberNotFound):
			return []byte(readmeMissingFile)
		default:
			return []byte(readmeScanEOF)
		}
	}

	_, data, err := arc.MemberWithPrefix(path.Join(dir, "README"))
	switch {
	case err == nil:
		return data
	case errors.Is(err, ErrMemberNotFound):
		return []byte(readmeNotFound)
	default:
		return []byte(readmeScanEOF)
	}
}
