package crates

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// hashBlockSize is the read granularity for streaming digests, so memory
// use stays independent of artifact size.
const hashBlockSize = 4096

// FileInfo is a set of meta data of a downloaded artifact.
type FileInfo struct {
	path   string
	size   uint64
	sha256 []byte
}

// Path returns the identifying path string of the file.
func (fi *FileInfo) Path() string {
	return fi.path
}

// Size returns the number of bytes of the file body.
func (fi *FileInfo) Size() uint64 {
	return fi.size
}

// SHA256Hex returns the hex-encoded SHA-256 digest of the file body.
func (fi *FileInfo) SHA256Hex() string {
	return hex.EncodeToString(fi.sha256)
}

// Same returns true if t has the same digest value.
func (fi *FileInfo) Same(t *FileInfo) bool {
	if fi == t {
		return true
	}
	if fi.path != t.path {
		return false
	}
	if fi.size != t.size {
		return false
	}
	return fi.SHA256Hex() == t.SHA256Hex()
}

// CopyWithFileInfo copies from src to dst until either EOF is reached
// on src or an error occurs, and returns FileInfo calculated while copying.
func CopyWithFileInfo(dst io.Writer, src io.Reader, p string) (*FileInfo, error) {
	h := sha256.New()
	w := io.MultiWriter(h, dst)

	buf := make([]byte, hashBlockSize)
	n, err := io.CopyBuffer(w, src, buf)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		path:   p,
		size:   uint64(n),
		sha256: h.Sum(nil),
	}, nil
}

// DigestFile computes the hex-encoded SHA-256 digest of the named file.
//
// The file is always re-read in full; callers invoke this at most once
// per freshly downloaded artifact, so there is nothing worth caching.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "DigestFile")
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", errors.Wrap(err, "DigestFile: "+path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile reports whether the named file's digest matches expected,
// compared case-insensitively.
func VerifyFile(path, expected string) (bool, error) {
	actual, err := DigestFile(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expected), nil
}
