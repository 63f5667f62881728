package layout

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Layout maps download identifiers to directories under a single root.
// Every download owns the directory Root/<id>; nothing else in the tree is
// touched by the engine.
type Layout struct {
	root   string
	logger *slog.Logger
}

func New(root string, logger *slog.Logger) (*Layout, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve download root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}
	return &Layout{root: abs, logger: logger}, nil
}

func (l *Layout) Root() string { return l.root }

// DirFor returns the directory owned by the given download. The identifier
// must not traverse outside the root.
func (l *Layout) DirFor(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty download id")
	}
	dir := filepath.Join(l.root, id)
	if !strings.HasPrefix(dir, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("download id escapes root: %q", id)
	}
	return dir, nil
}

// EnsureDir creates the download's directory if it does not exist.
func (l *Layout) EnsureDir(id string) (string, error) {
	dir, err := l.DirFor(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	return dir, nil
}

// ListFiles walks the download's directory and returns the absolute path of
// every regular file, in lexical walk order. A missing directory yields an
// empty slice.
func (l *Layout) ListFiles(id string) ([]string, error) {
	dir, err := l.DirFor(id)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// RemoveDir deletes the download's directory and everything in it. Removal
// failures are logged, not returned, so cleanup never blocks record deletion.
func (l *Layout) RemoveDir(id string) {
	dir, err := l.DirFor(id)
	if err != nil {
		l.logger.Warn("skip directory removal", slog.String("downloadId", id), slog.String("error", err.Error()))
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		l.logger.Warn("download directory not removed", slog.String("dir", dir), slog.String("error", err.Error()))
	}
}
