// Package folders prepares the watched, processed, and failed directories and
// verifies the daemon can use them.
package folders

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"folderwatch/internal/config"
	"folderwatch/internal/services"
)

// Default subdirectory names used by EnsureLayout.
const (
	WatchedDirName   = "watched"
	ProcessedDirName = "processed"
	FailedDirName    = "failed"
)

// Layout names the three directories the pipeline works with.
type Layout struct {
	Watched   string
	Processed string
	Failed    string
}

// Dirs returns the layout directories in creation order.
func (l Layout) Dirs() []string {
	return []string{l.Watched, l.Processed, l.Failed}
}

// FromConfig returns the layout configured in cfg.Paths.
func FromConfig(cfg *config.Config) Layout {
	return Layout{
		Watched:   cfg.Paths.WatchDir,
		Processed: cfg.Paths.ProcessedDir,
		Failed:    cfg.Paths.FailedDir,
	}
}

// EnsureLayout creates watched/, processed/, and failed/ under basePath.
func EnsureLayout(basePath string) (Layout, error) {
	if strings.TrimSpace(basePath) == "" {
		return Layout{}, services.Wrap(services.ErrIO, "folders", "ensure layout", "base path is empty", nil)
	}
	layout := Layout{
		Watched:   filepath.Join(basePath, WatchedDirName),
		Processed: filepath.Join(basePath, ProcessedDirName),
		Failed:    filepath.Join(basePath, FailedDirName),
	}
	return layout, Ensure(layout)
}

// Ensure creates every directory of layout if missing and verifies each is a
// readable, writable directory. Existing directories and their contents are
// left untouched.
func Ensure(layout Layout) error {
	for _, dir := range layout.Dirs() {
		if strings.TrimSpace(dir) == "" {
			return services.Wrap(services.ErrIO, "folders", "ensure layout", "directory path is empty", nil)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrIO, "folders", "ensure layout", fmt.Sprintf("create %s", dir), err)
		}
		if res := CheckDirectoryAccess(filepath.Base(dir), dir); !res.Passed {
			return services.Wrap(services.ErrIO, "folders", "ensure layout", res.Detail, nil)
		}
	}
	return nil
}

// Result is the outcome of one directory check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// Check reports access for each directory in layout without creating anything.
func Check(layout Layout) []Result {
	return []Result{
		CheckDirectoryAccess("watched", layout.Watched),
		CheckDirectoryAccess("processed", layout.Processed),
		CheckDirectoryAccess("failed", layout.Failed),
	}
}
