package mirror

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/crates-mirror/crates-mirror/internal/crates"
)

// PackageResult is the structured outcome of one package's processing.
// A failed package is logged and counted; it never cancels sibling work.
type PackageResult struct {
	Name        string
	Description string
	Err         error
}

// Mirror implements mirroring logics.
type Mirror struct {
	config *Config
	layout Layout
	index  *IndexSynchronizer
	dl     *Downloader
	gen    *Generator
}

// New constructs a Mirror from a checked configuration.
func New(config *Config) (*Mirror, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}

	layout := NewLayout(config.MirrorPath)
	return &Mirror{
		config: config,
		layout: layout,
		index:  NewIndexSynchronizer(config, ExecGit{}),
		dl:     NewDownloader(config, layout),
		gen:    NewGenerator(layout, MarkdownRenderer{}),
	}, nil
}

// Run performs one full mirror pass: index synchronization, the package
// worker pool, and the catalog write after full fan-in.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.index.Sync(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(m.layout.Root(), 0750); err != nil {
		return errors.Wrap(err, "mirror root")
	}

	slog.Info("mirror pass starts", "jobs", m.config.Jobs)

	results, failed, err := m.runPool(ctx)
	if err != nil {
		return err
	}

	// The catalog is written only after every worker finished, so it always
	// reflects a complete pass, never a partial one.
	if err := replaceFile(m.layout.CatalogHTML(), renderCatalog(results)); err != nil {
		return errors.Wrap(err, "catalog")
	}
	if err := DirSync(m.layout.Root()); err != nil {
		return errors.Wrap(err, "catalog")
	}

	slog.Info("mirror pass complete", "packages", len(results)-failed, "failed", failed)
	if failed > 0 {
		return errors.Newf("%d packages failed", failed)
	}
	return nil
}

// runPool fans the enumerated packages out to a fixed-size worker pool and
// collects per-package results in completion order.
func (m *Mirror) runPool(ctx context.Context) ([]PackageResult, int, error) {
	entries := make(chan IndexEntry)
	results := make(chan PackageResult)

	var bar *pb.ProgressBar
	if !m.config.Quiet {
		bar = pb.New64(0)
		bar.Set(pb.Bytes, false)
		bar.Start()
		defer bar.Finish()
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(entries)
		var total int64
		return WalkIndex(m.config.IndexPath, func(entry IndexEntry) error {
			total++
			if bar != nil {
				bar.SetTotal(total)
			}
			select {
			case entries <- entry:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	workers, workerCtx := errgroup.WithContext(ctx)
	for i := 0; i < m.config.Jobs; i++ {
		workers.Go(func() error {
			for entry := range entries {
				res, fatal := m.processPackage(workerCtx, entry)
				if fatal != nil {
					return fatal
				}
				select {
				case results <- res:
				case <-workerCtx.Done():
					return workerCtx.Err()
				}
				if bar != nil {
					bar.Increment()
				}
			}
			return nil
		})
	}
	group.Go(func() error {
		defer close(results)
		return workers.Wait()
	})

	var collected []PackageResult
	var failed int
	group.Go(func() error {
		for res := range results {
			if res.Err != nil {
				failed++
				slog.Error("package failed", "pkg", res.Name, "error", res.Err)
			}
			collected = append(collected, res)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, 0, err
	}
	return collected, failed, nil
}

// processPackage runs one package end-to-end: download every missing
// release, then regenerate the package's documents.
//
// The second return value is reserved for errors that must abort the whole
// run: a malformed index line (which would silently truncate version
// history) and context cancellation.  Everything else is contained in the
// result.
func (m *Mirror) processPackage(ctx context.Context, entry IndexEntry) (PackageResult, error) {
	res := PackageResult{Name: entry.Name}

	if !IsValidCrateName(entry.Name) {
		res.Err = errors.New("invalid package name")
		return res, nil
	}

	releases, err := crates.ReadReleases(entry.Path)
	if err != nil {
		return res, err
	}
	for _, rel := range releases {
		if !strings.EqualFold(rel.Name, entry.Name) {
			res.Err = errors.Newf("index integrity: record name %q does not match package %q",
				rel.Name, entry.Name)
			return res, nil
		}
	}

	for _, rel := range releases {
		if _, err := m.dl.Ensure(ctx, rel); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			res.Err = err
			return res, nil
		}
	}

	desc, err := m.gen.GeneratePackage(entry.Name, releases)
	if err != nil {
		res.Err = err
		return res, nil
	}
	res.Description = desc
	return res, nil
}
