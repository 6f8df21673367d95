package mirror

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"

	"github.com/crates-mirror/crates-mirror/internal/crates"
)

const (
	noDescription = "No description"
	// licenseSkipped marks a per-version document whose archive was not
	// opened this pass; decompressing a crate just for the license field
	// is not worth it when the page is fresh.
	licenseSkipped = "<skipped>"
)

// VersionDoc is the registry-compatible per-version API document.
type VersionDoc struct {
	Version VersionInfo `json:"version"`
}

// VersionInfo mirrors the crates.io version object fields the mirror serves.
type VersionInfo struct {
	ID         string              `json:"id"`
	Crate      string              `json:"crate"`
	Num        string              `json:"num"`
	ReadmePath string              `json:"readme_path"`
	DlPath     string              `json:"dl_path"`
	Features   map[string][]string `json:"features"`
	Yanked     bool                `json:"yanked"`
	License    *string             `json:"license"`
	Links      map[string]any      `json:"links"`
}

// PackageDoc is the registry-compatible per-package API document.
type PackageDoc struct {
	Crate    CrateInfo     `json:"crate"`
	Versions []*VersionDoc `json:"versions"`
}

// CrateInfo is the crate object of the per-package document.
type CrateInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Versions    []string `json:"versions"`
	MaxVersion  string   `json:"max_version"`
	Description string   `json:"description"`
}

// Generator regenerates derived documents from downloaded artifacts.
type Generator struct {
	layout    Layout
	renderer  TextRenderer
	buildTime time.Time
}

// NewGenerator constructs a Generator.
func NewGenerator(layout Layout, renderer TextRenderer) *Generator {
	return &Generator{
		layout:    layout,
		renderer:  renderer,
		buildTime: buildTimestamp(),
	}
}

// buildTimestamp returns the modification time of the running executable.
// Output older than the generator itself is considered stale, so upgrading
// the binary invalidates all prior pages without explicit versioning.
func buildTimestamp() time.Time {
	exe, err := os.Executable()
	if err != nil {
		return time.Now()
	}
	st, err := os.Stat(exe)
	if err != nil {
		return time.Now()
	}
	return st.ModTime()
}

// fileTimestamp returns the file's modification time, or the zero time if
// it does not exist (so a missing document is always stale).
func fileTimestamp(path string) time.Time {
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return st.ModTime()
}

// GenerateRelease regenerates one release's derived documents.
//
// The HTML page is staleness-gated; the JSON document is cheap and is
// rewritten every pass the release is visited.  isLatest forces the archive
// open even when the page is fresh, because the newest release supplies the
// package-level description.
//
// Returns the manifest's description (or a default) and the per-version
// document, or ("", nil, nil) when the artifact archive could not be opened.
func (g *Generator) GenerateRelease(rel crates.Release, isLatest bool) (string, *VersionDoc, error) {
	name, version := rel.Name, rel.Version
	cratePath := g.layout.CratePath(name, version)

	if err := os.MkdirAll(g.layout.VersionDir(name, version), 0750); err != nil {
		return "", nil, errors.Wrap(err, rel.ID())
	}
	if err := os.MkdirAll(g.layout.APIVersionDir(name, version), 0750); err != nil {
		return "", nil, errors.Wrap(err, rel.ID())
	}

	absCrate, err := filepath.Abs(cratePath)
	if err != nil {
		return "", nil, errors.Wrap(err, rel.ID())
	}
	err = os.Symlink(absCrate, g.layout.DownloadLink(name, version))
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return "", nil, errors.Wrap(err, rel.ID())
	}

	htmlPath := g.layout.VersionHTML(name, version)
	htmlTime := fileTimestamp(htmlPath)
	regenHTML := htmlTime.Before(fileTimestamp(cratePath)) || htmlTime.Before(g.buildTime)

	var manifest crates.Manifest
	var license *string

	if regenHTML || isLatest {
		arc, err := crates.OpenCrate(cratePath)
		if err != nil {
			slog.Warn("cannot open artifact archive", "pkg", name, "version", version, "error", err)
			return "", nil, nil
		}
		manifest = crates.ExtractManifest(arc, rel.ID())
		if manifest.HasLicense() {
			l := manifest.Package.License
			license = &l
		}
		if regenHTML {
			readme := crates.ReadmeText(arc, rel.ID(), manifest)
			page := renderVersionPage(rel, g.renderer, readme)
			if err := replaceFile(htmlPath, page); err != nil {
				return "", nil, errors.Wrap(err, rel.ID())
			}
		}
	} else {
		l := licenseSkipped
		license = &l
	}

	features := rel.Features
	if features == nil {
		features = map[string][]string{}
	}
	doc := &VersionDoc{
		Version: VersionInfo{
			ID:         rel.ID(),
			Crate:      name,
			Num:        version,
			ReadmePath: "/api/v1/crates/" + name + "/" + version + "/readme",
			DlPath:     "/api/v1/crates/" + name + "/" + version + "/download",
			Features:   features,
			Yanked:     rel.Yanked,
			License:    license,
			Links:      map[string]any{},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", nil, errors.Wrap(err, rel.ID())
	}
	if err := replaceFile(g.layout.VersionJSON(name, version), data); err != nil {
		return "", nil, errors.Wrap(err, rel.ID())
	}

	desc := manifest.Package.Description
	if desc == "" {
		desc = noDescription
	}
	return desc, doc, nil
}

// GeneratePackage regenerates the per-package documents, visiting every
// release whose artifact is present.
//
// The per-package page and document are written unconditionally: they are
// cheap relative to per-version archive work, so they carry no staleness
// check.
func (g *Generator) GeneratePackage(name string, releases []crates.Release) (string, error) {
	if len(releases) == 0 {
		return "", nil
	}

	sorted := sortByVersion(releases)

	var description string
	docs := []*VersionDoc{}
	for i, rel := range sorted {
		if _, err := os.Stat(g.layout.CratePath(rel.Name, rel.Version)); err != nil {
			// Not downloaded: not listed in per-release output, but the
			// version still appears on the package page.
			continue
		}
		desc, doc, err := g.GenerateRelease(rel, i == len(sorted)-1)
		if err != nil {
			return "", err
		}
		if doc == nil {
			continue
		}
		if desc != "" {
			description = desc
		}
		docs = append(docs, doc)
	}

	if err := os.MkdirAll(g.layout.CrateDir(name), 0750); err != nil {
		return "", errors.Wrap(err, name)
	}
	if err := replaceFile(g.layout.PackageHTML(name), renderPackagePage(name, sorted)); err != nil {
		return "", errors.Wrap(err, name)
	}

	if err := os.MkdirAll(g.layout.APIPackageDir(name), 0750); err != nil {
		return "", errors.Wrap(err, name)
	}
	ids := make([]string, len(sorted))
	for i, rel := range sorted {
		ids[i] = rel.ID()
	}
	pkgDoc := PackageDoc{
		Crate: CrateInfo{
			ID:          name,
			Name:        name,
			Versions:    ids,
			MaxVersion:  sorted[len(sorted)-1].ID(),
			Description: description,
		},
		Versions: docs,
	}
	data, err := json.Marshal(&pkgDoc)
	if err != nil {
		return "", errors.Wrap(err, name)
	}
	if err := replaceFile(g.layout.PackageJSON(name), data); err != nil {
		return "", errors.Wrap(err, name)
	}
	slog.Debug("wrote package documents", "pkg", name, "versions", len(docs))

	return description, nil
}

// sortByVersion returns the releases ordered by parsed version.  If any
// version string does not parse as SemVer, sorting is skipped and index
// order is retained rather than failing the package.
func sortByVersion(releases []crates.Release) []crates.Release {
	parsed := make([]*semver.Version, len(releases))
	for i, rel := range releases {
		v, err := semver.StrictNewVersion(rel.Version)
		if err != nil {
			out := make([]crates.Release, len(releases))
			copy(out, releases)
			return out
		}
		parsed[i] = v
	}

	idx := make([]int, len(releases))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return parsed[idx[a]].LessThan(parsed[idx[b]])
	})

	out := make([]crates.Release, len(releases))
	for i, j := range idx {
		out[i] = releases[j]
	}
	return out
}
