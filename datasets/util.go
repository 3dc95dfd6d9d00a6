package datasets

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func parseFloat64(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	return strconv.ParseFloat(s, 64)
}

// ResolvePath returns the location of a manifest file entry. Leading '.'
// characters (the "./" and "../" prefixes written by the export tools) are
// stripped and the rest is joined onto workDir. Absolute paths are returned
// unchanged.
func ResolvePath(workDir, file string) string {
	file = strings.TrimSpace(file)
	if filepath.IsAbs(file) {
		return file
	}
	for strings.HasPrefix(file, ".") {
		file = strings.TrimLeft(file, ".")
		file = strings.TrimLeft(file, `/\`)
	}
	return filepath.Join(workDir, filepath.FromSlash(strings.ReplaceAll(file, `\`, "/")))
}

// FindManifest returns the first CSV file in dir.
func FindManifest(dir string) (string, error) {
	pattern := filepath.Join(dir, "*.csv")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", errors.Errorf("no CSV files found in %s", dir)
	}
	return matches[0], nil
}
