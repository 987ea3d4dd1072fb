// Package registry builds the on-disk model catalog the mock backend
// resolves load requests against.
package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"npud/internal/common/fsutil"
	"npud/pkg/types"
)

// formatByExt maps recognized model file extensions to their formats.
var formatByExt = map[string]types.ModelFormat{
	".onnx":    types.FormatONNX,
	".pb":      types.FormatTensorFlow,
	".pt":      types.FormatPyTorch,
	".pth":     types.FormatPyTorch,
	".mlmodel": types.FormatCoreML,
	".tflite":  types.FormatTFLite,
	".xml":     types.FormatOpenVINO,
}

// FormatFromPath infers a model format from the file extension. The bool
// result is false for unrecognized extensions.
func FormatFromPath(path string) (types.ModelFormat, bool) {
	f, ok := formatByExt[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// LoadDir scans a directory for model files with recognized extensions.
// ID is the file name; Path is the absolute file path; SizeBytes is the
// file size, used as the model's device memory footprint.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.Wrap(err, "abs path")
	}
	// A missing models dir means an empty catalog, not a startup failure.
	if !fsutil.PathExists(abs) {
		return nil, nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errors.Wrap(err, "read dir")
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		format, ok := FormatFromPath(name)
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", name)
		}
		models = append(models, types.Model{
			ID:        name,
			Path:      filepath.Join(abs, name),
			Format:    format,
			SizeBytes: uint64(fi.Size()),
		})
	}
	return models, nil
}

// Catalog wraps a model list as the lookup function driver configs expect.
// Paths resolve by exact path match or by catalog ID.
func Catalog(models []types.Model) func(path string) (types.Model, bool) {
	byPath := make(map[string]types.Model, len(models))
	byID := make(map[string]types.Model, len(models))
	for _, m := range models {
		byPath[m.Path] = m
		byID[m.ID] = m
	}
	return func(path string) (types.Model, bool) {
		if m, ok := byPath[path]; ok {
			return m, true
		}
		m, ok := byID[path]
		return m, ok
	}
}
