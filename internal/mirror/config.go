package mirror

import (
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	defaultJobs        = 20
	defaultHTTPRetries = 100

	defaultIndexGitURL = "https://github.com/rust-lang/crates.io-index.git"
	defaultDownloadURL = "https://static.crates.io/crates"
)

type tomlURL struct {
	*url.URL
}

func (u *tomlURL) UnmarshalText(text []byte) error {
	parsedURL, err := url.Parse(string(text))
	if err != nil {
		return err
	}
	switch parsedURL.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + parsedURL.Scheme)
	}

	u.URL = parsedURL
	return nil
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/config.toml", config)
//	if err != nil {
//	    ...
//	}
//
// Positional CLI arguments overlay the file values.
type Config struct {
	// IndexPath is the working tree of the registry index clone.
	IndexPath string `toml:"index_path"`
	// MirrorPath is the root of the generated mirror tree.
	MirrorPath string `toml:"mirror_path"`
	// RootURL is this mirror's own base URL, written into the index's
	// config.json so that clients fetch artifacts from the mirror.
	RootURL string `toml:"root_url"`

	// IndexGitURL is the upstream index repository.
	IndexGitURL string `toml:"index_git_url"`
	// DownloadURL is the canonical artifact host; the per-release URL is
	// <download_url>/<name>/<name>-<version>.crate.
	DownloadURL tomlURL `toml:"download_url"`

	// Jobs is the number of concurrent package workers.
	Jobs int `toml:"jobs"`
	// HTTPRetries bounds immediate retries of transport-level failures.
	HTTPRetries int `toml:"http_retries"`

	Quiet bool      `toml:"quiet"`
	Log   LogConfig `toml:"log"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.IndexPath == "" {
		return errors.New("index_path is not set")
	}
	if c.MirrorPath == "" {
		return errors.New("mirror_path is not set")
	}
	if c.RootURL == "" {
		return errors.New("root_url is not set")
	}
	if _, err := url.Parse(c.RootURL); err != nil {
		return errors.Wrap(err, "root_url")
	}
	if c.Jobs < 1 {
		return errors.New("jobs must be at least 1")
	}
	if c.HTTPRetries < 1 {
		return errors.New("http_retries must be at least 1")
	}
	if c.DownloadURL.URL == nil {
		return errors.New("download_url is not set")
	}
	return nil
}

// CrateURL returns the download URL for one release.
func (c *Config) CrateURL(name, version string) string {
	u := *c.DownloadURL.URL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + name + "/" + name + "-" + version + ".crate"
	return u.String()
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	dl := tomlURL{}
	// The default is a constant and always parses.
	_ = dl.UnmarshalText([]byte(defaultDownloadURL))

	return &Config{
		IndexGitURL: defaultIndexGitURL,
		DownloadURL: dl,
		Jobs:        defaultJobs,
		HTTPRetries: defaultHTTPRetries,
	}
}
