package blankplugin

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// UnknownVersion is the version stamp used when the template tree revision
// cannot be determined
const UnknownVersion = "unknown"

// resolveVersion never fails: every problem is logged and answered with a
// fallback stamp.
func (c *Cache) resolveVersion(ctx context.Context) string {
	hash, err := c.runner.Run(ctx, c.root, c.gitBin, "--no-pager", "log", "-1", "--pretty=format:%H")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			c.logger.Debug("Git binary not found, reading repository in-process",
				slog.String("git_binary", c.gitBin),
			)
			return c.resolveVersionInProcess()
		}
		c.logger.Warn("Could not determine git hash",
			slog.String("root", c.root),
			slog.String("error", err.Error()),
		)
		return UnknownVersion
	}
	if !hash.Success() || hash.Output == "" {
		c.logger.Warn("Could not determine git hash",
			slog.String("root", c.root),
			slog.Int("exit_code", hash.ExitCode),
			slog.String("output", hash.Output),
			slog.Duration("duration", hash.Duration),
		)
		return UnknownVersion
	}

	tag, err := c.runner.Run(ctx, c.root, c.gitBin, "describe", "--tags", hash.Output)
	if err != nil || !tag.Success() || tag.Output == "" {
		c.logger.Warn("Could not determine git tag, using hash",
			slog.String("hash", hash.Output),
			slog.Int("exit_code", tag.ExitCode),
			slog.String("output", tag.Output),
			slog.Duration("duration", tag.Duration),
		)
		return hash.Output
	}

	c.logger.Debug("Resolved template version",
		slog.String("version", tag.Output),
		slog.Duration("duration", hash.Duration+tag.Duration),
	)
	return tag.Output
}

// resolveVersionInProcess answers with the name of a tag pointing at HEAD,
// or the HEAD hash when there is none.
func (c *Cache) resolveVersionInProcess() string {
	repo, err := git.PlainOpenWithOptions(c.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		c.logger.Warn("Could not open git repository",
			slog.String("root", c.root),
			slog.String("error", err.Error()),
		)
		return UnknownVersion
	}

	head, err := repo.Head()
	if err != nil {
		c.logger.Warn("Could not determine git hash",
			slog.String("root", c.root),
			slog.String("error", err.Error()),
		)
		return UnknownVersion
	}

	tags, err := repo.Tags()
	if err != nil {
		return head.Hash().String()
	}

	var name string
	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tag, err := repo.TagObject(ref.Hash()); err == nil {
			commit, err := tag.Commit()
			if err != nil {
				return nil
			}
			target = commit.Hash
		}
		if target == head.Hash() {
			name = ref.Name().Short()
			return storer.ErrStop
		}
		return nil
	})

	if name == "" {
		return head.Hash().String()
	}
	return name
}
