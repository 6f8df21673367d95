package mirror

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// validateDirectoryPath rejects relative paths that climb out of the tree
// they are supposed to stay in.
func validateDirectoryPath(path string) error {
	cleanPath := filepath.Clean(path)

	if !filepath.IsAbs(cleanPath) && strings.Contains(cleanPath, "..") {
		return errors.New("unsafe directory path (contains directory traversal): " + path)
	}

	return nil
}

// DirSync calls fsync(2) on the directory to save changes in the directory.
//
// This should be called after os.Create, os.Rename and so on.
func DirSync(d string) error {
	if err := validateDirectoryPath(d); err != nil {
		return errors.Wrap(err, "DirSync")
	}

	f, err := os.OpenFile(d, os.O_RDONLY, 0755)
	if err != nil {
		return err
	}
	err = f.Sync()
	if err != nil {
		return err
	}
	return f.Close()
}
