// Package blankplugin holds an in-memory snapshot of the blank plugin
// template tree and turns it into token-substituted zip archives.
package blankplugin

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/plugin-quickstart/shared/proc"
	"github.com/google/uuid"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	Logger *slog.Logger

	// Exclude holds gitignore-style patterns matched against paths relative
	// to the root. Matching files are left out of the snapshot.
	Exclude []string

	// GitBinary is the command used to compute the version stamp.
	GitBinary string

	// ToolTimeout bounds each git invocation.
	ToolTimeout time.Duration

	// Now is the clock used for the year token and archive timestamps.
	Now func() time.Time

	// NewUUID generates the plugin identifiers.
	NewUUID func() uuid.UUID
}

// snapshot is never mutated once published.
type snapshot struct {
	files   map[string]string
	version string
}

// Cache keeps every template file in memory. Reload replaces the whole
// snapshot, so concurrent readers see either the old or the new tree.
type Cache struct {
	root    string
	logger  *slog.Logger
	exclude *gitignore.GitIgnore
	runner  *proc.Runner
	gitBin  string
	now     func() time.Time
	newUUID func() uuid.UUID

	reloadMx sync.Mutex
	current  atomic.Pointer[snapshot]
}

// New creates a Cache for rootDir and loads it
func New(ctx context.Context, rootDir string, opts Options) (*Cache, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template root: %w", err)
	}

	c := &Cache{
		root:    root,
		logger:  opts.Logger,
		runner:  &proc.Runner{Timeout: opts.ToolTimeout},
		gitBin:  opts.GitBinary,
		now:     opts.Now,
		newUUID: opts.NewUUID,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.gitBin == "" {
		c.gitBin = "git"
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newUUID == nil {
		c.newUUID = uuid.New
	}
	if len(opts.Exclude) > 0 {
		c.exclude = gitignore.CompileIgnoreLines(opts.Exclude...)
	}

	if err := c.Reload(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Root returns the absolute template root directory
func (c *Cache) Root() string {
	return c.root
}

// Reload reads the template tree and the version stamp again. On failure the
// previous snapshot stays in place.
func (c *Cache) Reload(ctx context.Context) error {
	c.reloadMx.Lock()
	defer c.reloadMx.Unlock()

	c.logger.Info("Reloading template cache", slog.String("root", c.root))

	files, err := c.readTree()
	if err != nil {
		c.logger.Error("Failed to reload template cache",
			slog.String("root", c.root),
			slog.String("error", err.Error()),
		)
		return err
	}

	snap := &snapshot{
		files:   files,
		version: c.resolveVersion(ctx),
	}
	c.current.Store(snap)

	c.logger.Info("Template cache reloaded",
		slog.Int("file_count", len(snap.files)),
		slog.String("version", snap.version),
	)

	return nil
}

// FileCount returns the number of files in the current snapshot
func (c *Cache) FileCount() int {
	return len(c.current.Load().files)
}

// VersionStamp returns the revision of the template tree the current
// snapshot was loaded from
func (c *Cache) VersionStamp() string {
	return c.current.Load().version
}

func (c *Cache) readTree() (map[string]string, error) {
	files := make(map[string]string)

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if c.exclude != nil && c.exclude.MatchesPath(rel) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = string(content)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", c.root, err)
	}

	return files, nil
}
