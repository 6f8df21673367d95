package crates

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// maxLineSize bounds a single index line.  Crates with very large feature
// maps produce lines well beyond bufio's default 64KiB.
const maxLineSize = 8 * 1024 * 1024

// Release is one version's metadata line in the registry index.
type Release struct {
	Name     string              `json:"name"`
	Version  string              `json:"vers"`
	Checksum string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
}

// ID returns the registry identifier of the release, "<name>-<version>".
func (r *Release) ID() string {
	return r.Name + "-" + r.Version
}

// ReadReleases parses a package's index file into its ordered release
// records, one JSON object per line.
//
// A line that fails to parse is not recoverable: it would silently truncate
// the package's version history, so the malformed content is surfaced in
// the returned error and the caller is expected to abort the run.
func ReadReleases(path string) ([]Release, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "ReadReleases")
	}
	defer func() {
		_ = f.Close()
	}()

	var releases []Release
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rel Release
		if err := json.Unmarshal(line, &rel); err != nil {
			return nil, errors.Wrapf(err, "ReadReleases: %s:%d: malformed index line %q",
				path, lineno, string(line))
		}
		releases = append(releases, rel)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "ReadReleases: "+path)
	}
	return releases, nil
}
