package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/posepack/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posepack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, VariantRGBDNM, cfg.Variant)
	assert.Equal(t, 128, cfg.ImageHeight)
	assert.Equal(t, 128, cfg.ImageWidth)
	assert.Equal(t, 0.1, cfg.Ratio)
	assert.Equal(t, ROIExact, cfg.ROIMode)
	variants, err := cfg.BootstrapVariants()
	require.NoError(t, err)
	assert.Equal(t, []transform.Variant{transform.Identity}, variants)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
variant: capture
manifest: captures
archive: out/data.npz
image_height: 64
image_width: 96
ratio: 0.25
roi_mode: legacy
chunk_size: 50
seed: 7
bootstrap: [identity, rot90, shear-a]
precise_quaternion: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, VariantCapture, cfg.Variant)
	assert.Equal(t, "captures", cfg.Manifest)
	assert.Equal(t, "out/data.npz", cfg.Archive)
	assert.Equal(t, 64, cfg.ImageHeight)
	assert.Equal(t, 96, cfg.ImageWidth)
	assert.Equal(t, 0.25, cfg.Ratio)
	assert.Equal(t, ROILegacy, cfg.ROIMode)
	assert.Equal(t, 50, cfg.ChunkSize)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.False(t, cfg.PreciseQuaternion)
	// Unset fields keep their defaults.
	assert.Equal(t, "png", cfg.ImageExt)

	variants, err := cfg.BootstrapVariants()
	require.NoError(t, err)
	assert.Equal(t, []transform.Variant{transform.Identity, transform.RotatePos90, transform.ShearA}, variants)
}

func TestLoad_OutOfRangeValuesKeepDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ratio: 0.9\nimage_height: 2\nimage_width: 32\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRatio, cfg.Ratio)
	assert.Equal(t, DefaultImageSize, cfg.ImageHeight)
	assert.Equal(t, 32, cfg.ImageWidth)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "variant: [not, a, string"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "variant: lidar\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lidar")
}

func TestSetRatio(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.SetRatio(0.3))
	assert.Equal(t, 0.3, cfg.Ratio)

	for _, bad := range []float64{MinRatio, MaxRatio, 0, -1, 0.95} {
		err := cfg.SetRatio(bad)
		require.ErrorIs(t, err, ErrInvalidRatio, "ratio %g", bad)
		assert.Equal(t, 0.3, cfg.Ratio)
	}
}

func TestSetImageSize(t *testing.T) {
	cfg := Default()
	cfg.SetImageSize(32, 48)
	assert.Equal(t, 32, cfg.ImageHeight)
	assert.Equal(t, 48, cfg.ImageWidth)
	cfg.SetImageSize(0, 2)
	assert.Equal(t, 32, cfg.ImageHeight)
	assert.Equal(t, 48, cfg.ImageWidth)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"variant":   func(c *Config) { c.Variant = "lidar" },
		"roi mode":  func(c *Config) { c.ROIMode = "fuzzy" },
		"size":      func(c *Config) { c.ImageWidth = 1 },
		"chunk":     func(c *Config) { c.ChunkSize = 0 },
		"bootstrap": func(c *Config) { c.Bootstrap = []string{"spin"} },
		"rgb rotation": func(c *Config) {
			c.Variant = VariantRGB
			c.Bootstrap = []string{"identity", "rot-90"}
		},
	} {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	cfg := Default()
	cfg.Variant = VariantRGB
	cfg.Bootstrap = nil
	assert.NoError(t, cfg.Validate())
}

func TestManifestPath(t *testing.T) {
	abs, err := filepath.Abs("batch.csv")
	require.NoError(t, err)
	for _, tc := range []struct{ workDir, manifest, want string }{
		{"", "", ""},
		{"../bin", "", ""},
		{"", "batch/batch.csv", filepath.Join("batch", "batch.csv")},
		{"../bin", "batch/batch.csv", filepath.Join("..", "bin", "batch", "batch.csv")},
		{"../bin", abs, abs},
	} {
		cfg := Default()
		cfg.WorkDir, cfg.Manifest = tc.workDir, tc.manifest
		assert.Equal(t, tc.want, cfg.ManifestPath(), "%+v", tc)
	}
}
