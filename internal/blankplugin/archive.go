package blankplugin

import (
	"archive/zip"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Entry is one generated file: its path inside the plugin tree and its
// substituted content
type Entry struct {
	Name    string
	Content string
}

// Entries resolves tokens and returns every template file with the plugin
// name applied to its path and the tokens substituted into its content,
// sorted by path
func (c *Cache) Entries(tokens map[string]string) []Entry {
	snap := c.current.Load()
	resolved := c.resolveTokens(tokens, snap.version)
	return render(snap, resolved)
}

func render(snap *snapshot, resolved map[string]string) []Entry {
	replacer := newReplacer(resolved)
	name := resolved[TokenName]

	entries := make([]Entry, 0, len(snap.files))
	for _, file := range slices.Sorted(maps.Keys(snap.files)) {
		entries = append(entries, Entry{
			Name:    strings.ReplaceAll(file, FilePlaceholder, name),
			Content: replacer.Replace(snap.files[file]),
		})
	}

	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return entries
}

// GenerateArchive writes the substituted template tree into a zip file at
// target. Every entry lives under a single folder named after target without
// its extension. The archive is assembled in a temporary file next to target
// and only renamed onto it once complete.
func (c *Cache) GenerateArchive(target string, tokens map[string]string) (string, error) {
	entries := c.Entries(tokens)
	root := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+root+"-*.zip.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	if err := writeArchive(tmp, root, entries, c.now()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write archive %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write archive %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}

	c.logger.Debug("Archive generated",
		slog.String("path", target),
		slog.Int("entry_count", len(entries)),
	)

	return target, nil
}

func writeArchive(f *os.File, root string, entries []Entry, modified time.Time) error {
	zw := zip.NewWriter(f)
	dirs := make(map[string]bool)

	var mkdirs func(dir string) error
	mkdirs = func(dir string) error {
		if dir == "." || dirs[dir] {
			return nil
		}
		if err := mkdirs(path.Dir(dir)); err != nil {
			return err
		}
		dirs[dir] = true
		_, err := zw.CreateHeader(&zip.FileHeader{
			Name:     dir + "/",
			Method:   zip.Store,
			Modified: modified,
		})
		return err
	}

	if root == "" || root == "." || root == ".." {
		return fmt.Errorf("invalid archive root %q", root)
	}
	if err := mkdirs(root); err != nil {
		return err
	}

	written := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := path.Join(root, entry.Name)
		if !strings.HasPrefix(name, root+"/") {
			return fmt.Errorf("entry %s escapes archive root %s", entry.Name, root)
		}
		if written[name] || dirs[name] {
			return fmt.Errorf("duplicate entry %s", name)
		}
		written[name] = true

		if err := mkdirs(path.Dir(name)); err != nil {
			return err
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("entry %s: %w", name, err)
		}
		if _, err := w.Write([]byte(entry.Content)); err != nil {
			return fmt.Errorf("entry %s: %w", name, err)
		}
	}

	return zw.Close()
}
