package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/dnscache"

	"github.com/crates-mirror/crates-mirror/internal/crates"
)

// DownloadStatus is the outcome of ensuring one release's artifact.
type DownloadStatus int

const (
	// DownloadPresent means the artifact already existed; no network activity.
	DownloadPresent DownloadStatus = iota
	// DownloadFetched means the artifact was fetched and verified this run.
	DownloadFetched
	// DownloadSkipped means the release stays absent this run (non-success
	// HTTP status or digest mismatch); a later run will try again because
	// the artifact file still does not exist.
	DownloadSkipped
)

// Downloader fetches release artifacts into the mirror tree.
type Downloader struct {
	client  *http.Client
	config  *Config
	layout  Layout
	retries int
}

// NewDownloader creates a Downloader for config.
func NewDownloader(config *Config, layout Layout) *Downloader {
	return &Downloader{
		client:  newHTTPClient(),
		config:  config,
		layout:  layout,
		retries: config.HTTPRetries,
	}
}

// Ensure makes the artifact for rel exist on disk, downloading and
// verifying it if needed.
//
// If the artifact file already exists it is trusted as-is: a file only ever
// reaches its final path after its digest matched the index checksum, so
// existence alone is the idempotency marker.
func (d *Downloader) Ensure(ctx context.Context, rel crates.Release) (DownloadStatus, error) {
	target := d.layout.CratePath(rel.Name, rel.Version)
	if _, err := os.Stat(target); err == nil {
		return DownloadPresent, nil
	}

	dir := d.layout.CrateDir(rel.Name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}

	url := d.config.CrateURL(rel.Name, rel.Version)
	resp, err := d.get(ctx, url)
	if err != nil {
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		// Not retried: the server answered, it just has nothing for us.
		// The file stays absent, so the next run asks again.
		slog.Warn("could not download", "url", url, "status", resp.StatusCode)
		return DownloadSkipped, nil
	}

	// Stream to a temp file in the same directory and rename only after
	// the digest matched, so the artifact path never holds partial or
	// unverified content even across a crash.
	tempfile, err := os.CreateTemp(dir, ".crate-")
	if err != nil {
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}

	fi, err := crates.CopyWithFileInfo(tempfile, resp.Body, rel.ID())
	if err != nil {
		closeAndRemoveFile(tempfile)
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}

	if !strings.EqualFold(fi.SHA256Hex(), rel.Checksum) {
		slog.Error("checksum failed", "pkg", rel.Name, "version", rel.Version,
			"expected", rel.Checksum, "actual", fi.SHA256Hex())
		closeAndRemoveFile(tempfile)
		return DownloadSkipped, nil
	}

	if err := tempfile.Sync(); err != nil {
		closeAndRemoveFile(tempfile)
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}
	if err := os.Chmod(tempfile.Name(), 0644); err != nil {
		closeAndRemoveFile(tempfile)
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}
	if err := tempfile.Close(); err != nil {
		_ = os.Remove(tempfile.Name())
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}
	if err := os.Rename(tempfile.Name(), target); err != nil {
		_ = os.Remove(tempfile.Name())
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}
	if err := DirSync(dir); err != nil {
		return DownloadSkipped, errors.Wrap(err, rel.ID())
	}

	slog.Debug("artifact downloaded", "pkg", rel.Name, "version", rel.Version, "size", fi.Size())
	return DownloadFetched, nil
}

// get issues the GET, retrying transport-level failures immediately up to
// the configured ceiling.  Any response, success or not, ends the loop;
// HTTP status handling is the caller's concern.
func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < d.retries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "crates-mirror/1.0")

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}

	return nil, errors.Wrapf(lastErr, "download failed for %s after %d attempts", url, d.retries)
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// closeAndRemoveFile closes and removes a temporary file.
func closeAndRemoveFile(f *os.File) {
	filename := f.Name()
	if err := f.Close(); err != nil {
		slog.Warn("failed to close temp file", "file", filename, "error", err)
	}
	if err := os.Remove(filename); err != nil {
		slog.Warn("failed to remove temp file", "file", filename, "error", err)
	}
}

// newHTTPClient creates an HTTP client with pooled connections and cached
// DNS resolution; artifact hosts resolve the same few names thousands of
// times per run.
func newHTTPClient() *http.Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
		}
		return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
	}

	return &http.Client{
		Transport: tr,
		Timeout:   0, // no timeout; timeout is controlled by context
	}
}
