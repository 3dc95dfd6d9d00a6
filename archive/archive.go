// Package archive stores named volumes as a NumPy .npz file, readable with
// numpy.load.
//
// Updating an archive rewrites the whole file: fine for datasets that fit the
// disk twice, but it does not scale to very large archives.
package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Split infixes of the archive keys.
const (
	Train = "tr"
	Test  = "te"
)

// SplitKey inserts the split infix after the first letter of key:
// SplitKey("X_norm", Train) == "Xtr_norm".
func SplitKey(key, split string) string {
	if key == "" {
		return split
	}
	return key[:1] + split + key[1:]
}

// SplitKeys applies SplitKey to every key of volumes.
func SplitKeys(volumes map[string]*tensors.Tensor, split string) map[string]*tensors.Tensor {
	out := make(map[string]*tensors.Tensor, len(volumes))
	for key, t := range volumes {
		out[SplitKey(key, split)] = t
	}
	return out
}

// Read loads all arrays of the archive at path.
func Read(path string) (map[string]*tensors.Tensor, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open archive %q", path)
	}
	defer func() { _ = zr.Close() }()

	volumes := make(map[string]*tensors.Tensor, len(zr.File))
	for _, f := range zr.File {
		name := filepath.ToSlash(filepath.Clean(f.Name))
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return nil, errors.Errorf("invalid entry %q in archive %q", f.Name, path)
		}
		if !strings.HasSuffix(name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q in archive %q", f.Name, path)
		}
		t, err := readNpy(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read %q from archive %q", f.Name, path)
		}
		volumes[strings.TrimSuffix(name, ".npy")] = t
	}
	return volumes, nil
}

// Write stores volumes at path, replacing any previous file. The archive is
// written next to path and renamed into place, so readers never see a partial
// file.
func Write(path string, volumes map[string]*tensors.Tensor) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary archive in %q", dir)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	keys := make([]string, 0, len(volumes))
	for key := range volumes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	zw := zip.NewWriter(tmp)
	for _, key := range keys {
		w, err := zw.Create(key + ".npy")
		if err != nil {
			return errors.Wrapf(err, "failed to create %q in archive", key)
		}
		if err := writeNpy(volumes[key], w); err != nil {
			return errors.WithMessagef(err, "failed to write %q to archive", key)
		}
	}
	if err = zw.Close(); err != nil {
		return errors.Wrap(err, "failed to finish archive")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close archive")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to move archive into %q", path)
	}
	if info, statErr := os.Stat(path); statErr == nil {
		klog.Infof("Stored %d arrays in %q (%s)", len(keys), path, humanize.Bytes(uint64(info.Size())))
	}
	return nil
}

// WriteOrMerge writes volumes to path. If an archive already exists there, its
// arrays are kept, except those with the same keys as volumes, which are
// replaced.
func WriteOrMerge(path string, volumes map[string]*tensors.Tensor) error {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to access archive %q", path)
		}
		return Write(path, volumes)
	}
	merged, err := Read(path)
	if err != nil {
		return errors.WithMessage(err, "failed to read archive for merging")
	}
	for key, t := range volumes {
		if _, found := merged[key]; found {
			klog.V(1).Infof("Replacing %q in %q", key, path)
		}
		merged[key] = t
	}
	return Write(path, merged)
}
