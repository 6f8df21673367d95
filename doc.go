/*
Package cratesmirror is a tool for mirroring the crates.io package registry.

crates-mirror keeps a local copy of the registry index and every published
.crate artifact, and generates a self-contained static site that can be
served in place of crates.io:
  - Incremental, checksum-verified artifact downloads
  - Staleness-driven regeneration of HTML pages and API documents
  - A registry-compatible api/v1/crates JSON tree
  - Concurrent per-package workers with contained failures

The main packages are:

	github.com/crates-mirror/crates-mirror/internal/crates   - index record, manifest and archive handling
	github.com/crates-mirror/crates-mirror/internal/mirror   - core mirroring logic and site generation
	github.com/crates-mirror/crates-mirror/cmd/crates-mirror - command-line interface
*/
package cratesmirror
