package crates

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
)

var (
	// ErrMemberNotFound is returned when a named archive member does not exist.
	ErrMemberNotFound = errors.New("member not found in archive")
	// ErrTruncated is returned when the archive ends mid-entry.
	ErrTruncated = errors.New("truncated archive")
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// MemberReader looks up members of a crate archive.  It is satisfied by
// CrateArchive and by in-memory fakes in tests.
type MemberReader interface {
	// Member returns the content of the named regular file.
	Member(name string) ([]byte, error)
	// MemberWithPrefix returns the name and content of the first regular
	// file whose name starts with prefix, in archive order.
	MemberWithPrefix(prefix string) (string, []byte, error)
}

// CrateArchive reads members of a .crate artifact, a compressed tarball.
// Registry artifacts are gzip-compressed; xz is accepted as well since the
// compression is sniffed, not trusted from the file name.
//
// Each lookup re-scans the archive from the start.  Lookups are rare (one
// manifest, at most one readme per stale release) so random access is not
// worth buffering whole crates in memory.
type CrateArchive struct {
	path string
}

// OpenCrate validates that the named file looks like a crate archive and
// returns a CrateArchive for it.  An unreadable file or unrecognized
// compression magic is an error; truncation past the header is only
// detected by later member lookups.
func OpenCrate(path string) (*CrateArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "OpenCrate")
	}
	defer func() {
		_ = f.Close()
	}()

	magic := make([]byte, len(xzMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, errors.Wrap(ErrTruncated, path)
	}
	if !bytes.HasPrefix(magic, gzipMagic) && !bytes.HasPrefix(magic, xzMagic) {
		return nil, errors.Newf("OpenCrate: %s: unrecognized compression magic", path)
	}
	return &CrateArchive{path: path}, nil
}

// Member implements MemberReader.
func (a *CrateArchive) Member(name string) ([]byte, error) {
	data, _, err := a.scan(func(n string) bool { return n == name })
	return data, err
}

// MemberWithPrefix implements MemberReader.
func (a *CrateArchive) MemberWithPrefix(prefix string) (string, []byte, error) {
	data, name, err := a.scan(func(n string) bool { return strings.HasPrefix(n, prefix) })
	return name, data, err
}

func (a *CrateArchive) scan(match func(name string) bool) ([]byte, string, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, "", errors.Wrap(err, "archive scan")
	}
	defer func() {
		_ = f.Close()
	}()

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(xzMagic))
	if err != nil {
		return nil, "", errors.Wrap(ErrTruncated, a.path)
	}

	var decompressed io.Reader
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, "", errors.Wrap(ErrTruncated, a.path)
		}
		defer func() {
			_ = gz.Close()
		}()
		decompressed = gz
	case bytes.HasPrefix(magic, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, "", errors.Wrap(ErrTruncated, a.path)
		}
		decompressed = xr
	default:
		return nil, "", errors.Newf("archive scan: %s: unrecognized compression magic", a.path)
	}

	tr := tar.NewReader(decompressed)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, "", errors.Wrap(ErrMemberNotFound, a.path)
		}
		if err != nil {
			return nil, "", errors.Wrap(ErrTruncated, a.path)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !match(hdr.Name) {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, "", errors.Wrap(ErrTruncated, a.path)
		}
		return data, hdr.Name, nil
	}
}
