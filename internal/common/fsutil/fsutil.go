// Package fsutil holds small filesystem helpers shared by the model
// registry and configuration loading.
package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ExpandHome resolves a leading "~" or "~/" prefix against the current
// user's home directory. Paths without the prefix pass through unchanged.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "resolve home dir")
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists reports whether path exists. Stat errors other than not-exist
// (permission, I/O) count as existing so callers do not silently skip a
// directory they merely cannot read.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
