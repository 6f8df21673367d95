package mirror

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const indexConfigFilename = "config.json"

// GitClient runs git commands against the index clone.  It is an interface
// so tests can substitute a fake for the external git binary.
type GitClient interface {
	Run(ctx context.Context, args ...string) error
}

// ExecGit is the GitClient backed by the git binary on PATH.
type ExecGit struct{}

// Run implements GitClient.
func (ExecGit) Run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}

// indexEndpoints is the registry's endpoint declaration, written to
// config.json at the index root.
type indexEndpoints struct {
	DL  string `json:"dl"`
	API string `json:"api"`
}

// IndexSynchronizer brings the local index working tree up to date and
// points its endpoint configuration at this mirror.
type IndexSynchronizer struct {
	indexPath string
	upstream  string
	rootURL   string
	git       GitClient
}

// NewIndexSynchronizer constructs an IndexSynchronizer for config.
func NewIndexSynchronizer(config *Config, git GitClient) *IndexSynchronizer {
	return &IndexSynchronizer{
		indexPath: config.IndexPath,
		upstream:  config.IndexGitURL,
		rootURL:   config.RootURL,
		git:       git,
	}
}

// Sync updates or clones the index working tree, then rewrites and locally
// commits config.json so that the index advertises this mirror's URLs.
//
// Any failing git command aborts the whole run.  This is deliberate: a
// stale index means every package decision downstream would be stale too,
// and connectivity or auth problems need an operator, not a retry.
func (s *IndexSynchronizer) Sync(ctx context.Context) error {
	configPath := filepath.Join(s.indexPath, indexConfigFilename)

	st, err := os.Stat(s.indexPath)
	switch {
	case err == nil && st.IsDir():
		slog.Info("pulling latest changes from the index", "path", s.indexPath)
		if err := s.git.Run(ctx, "-C", s.indexPath, "fetch", "--all"); err != nil {
			return errors.Wrap(err, "index sync")
		}
		if err := s.git.Run(ctx, "-C", s.indexPath, "reset", "--hard", "origin/master"); err != nil {
			return errors.Wrap(err, "index sync")
		}
		// Drop the previous run's endpoint rewrite before regenerating it.
		if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "index sync")
		}
	case err == nil:
		return errors.New("index path is not a directory: " + s.indexPath)
	case os.IsNotExist(err):
		slog.Info("downloading index", "upstream", s.upstream, "path", s.indexPath)
		if err := s.git.Run(ctx, "clone", s.upstream, s.indexPath); err != nil {
			return errors.Wrap(err, "index clone")
		}
	default:
		return errors.Wrap(err, "index sync")
	}

	endpoints := indexEndpoints{
		DL:  s.rootURL + "/api/v1/crates",
		API: s.rootURL,
	}
	data, err := json.Marshal(endpoints)
	if err != nil {
		return errors.Wrap(err, "index sync")
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "index sync: "+configPath)
	}

	if err := s.git.Run(ctx, "-C", s.indexPath, "config", "user.name", "mirror"); err != nil {
		return errors.Wrap(err, "index sync")
	}
	if err := s.git.Run(ctx, "-C", s.indexPath, "commit", indexConfigFilename, "-m", "changing the API URL."); err != nil {
		return errors.Wrap(err, "index sync")
	}

	slog.Info("index synchronized", "path", s.indexPath)
	return nil
}

// IndexEntry identifies one package and its index file.
type IndexEntry struct {
	Name string
	Path string
}

// WalkIndex traverses the index working tree in sorted directory order and
// calls emit once per package file.  The tree root itself and any path with
// a dot-prefixed segment (the clone's own VCS directory, hidden files) are
// excluded; every remaining file is one package.
func WalkIndex(root string, emit func(IndexEntry) error) error {
	root = filepath.Clean(root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		// Files directly at the root (config.json) are not packages.
		if filepath.Dir(path) == root {
			return nil
		}
		return emit(IndexEntry{Name: d.Name(), Path: path})
	})
}
