// Package config holds the settings of a packing run: which manifest variant
// to read, the destination image size, the train/test ratio and how the
// intermediate chunks are spooled.
//
// Settings come from Default, optionally overlaid by a YAML file (Load) and
// finally by command-line flags.
package config

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/Noofbiz/posepack/transform"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Variant selects the layout of the source samples.
type Variant string

const (
	// VariantRGB reads rgb images plus pose and ROI columns from a manifest.
	VariantRGB Variant = "rgb"

	// VariantRGBDNM reads rgb, normal, depth and mask images plus pose and ROI
	// columns from a manifest.
	VariantRGBDNM Variant = "rgbdnm"

	// VariantCapture scans a directory of captured frames: rgb, mask, depth and a
	// pose matrix file per frame. Normal maps are estimated from the rgb image and
	// the ROI is detected from the mask.
	VariantCapture Variant = "capture"
)

// Variants lists the accepted variant names.
var Variants = []Variant{VariantRGB, VariantRGBDNM, VariantCapture}

// ROIMode selects the ROI detector used on masks.
type ROIMode string

const (
	// ROIExact uses the min/max of the non-zero mask coordinates.
	ROIExact ROIMode = "exact"

	// ROILegacy reproduces the previous-pixel scan of earlier packing tools.
	ROILegacy ROIMode = "legacy"
)

const (
	// MinRatio and MaxRatio bound the accepted test ratio (both exclusive).
	MinRatio = 0.01
	MaxRatio = 0.7

	DefaultImageSize = 128
	DefaultRatio     = 0.1
	DefaultChunkSize = 1000
)

// ErrInvalidRatio is returned by SetRatio when the ratio is outside (MinRatio, MaxRatio).
var ErrInvalidRatio = errors.New("test ratio outside the allowed range")

// Config of one packing run.
type Config struct {
	// Variant of the source data, see VariantRGB, VariantRGBDNM and VariantCapture.
	Variant Variant `yaml:"variant"`

	// Manifest is the CSV file describing the samples, relative to WorkDir unless
	// absolute. For VariantCapture it is the directory holding the captured frames.
	Manifest string `yaml:"manifest"`

	// Archive is the output .npz file.
	Archive string `yaml:"archive"`

	// WorkDir is the directory the manifest file paths are relative to.
	WorkDir string `yaml:"work_dir"`

	// ImageHeight and ImageWidth are the destination image rows and columns.
	ImageHeight int `yaml:"image_height"`
	ImageWidth  int `yaml:"image_width"`

	// Ratio is the fraction of samples assigned to the test split.
	Ratio float64 `yaml:"ratio"`

	// Lenient makes an unreadable manifest a logged no-op (zero samples) instead
	// of an error.
	Lenient bool `yaml:"lenient"`

	// ROIMode selects the mask ROI detector.
	ROIMode ROIMode `yaml:"roi_mode"`

	// ChunkSize is the number of samples buffered in memory before they are
	// spooled to a chunk file.
	ChunkSize int `yaml:"chunk_size"`

	// Seed for the train/test split. If zero, a time-based seed is used.
	Seed int64 `yaml:"seed"`

	// Bootstrap lists the geometric variants every sample is packed with.
	// See transform.ParseVariant for the names.
	Bootstrap []string `yaml:"bootstrap"`

	// SpoolDir is where chunk files are written. Empty means os.TempDir().
	SpoolDir string `yaml:"spool_dir"`

	// ImageExt is the image file extension scanned for VariantCapture.
	ImageExt string `yaml:"image_ext"`

	// PreciseQuaternion selects the closed-form matrix to quaternion conversion.
	// If false the eigen-decomposition method is used.
	PreciseQuaternion bool `yaml:"precise_quaternion"`

	// Plot, if set, is the path of a PNG summary of the packed ROIs.
	Plot string `yaml:"plot"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Variant:           VariantRGBDNM,
		ImageHeight:       DefaultImageSize,
		ImageWidth:        DefaultImageSize,
		Ratio:             DefaultRatio,
		ROIMode:           ROIExact,
		ChunkSize:         DefaultChunkSize,
		Bootstrap:         []string{transform.Identity.String()},
		ImageExt:          "png",
		PreciseQuaternion: true,
	}
}

// Load reads a YAML file on top of Default.
//
// An out of range ratio or image size in the file is logged and the default
// kept, like the equivalent flags.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", filePath)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", filePath)
	}

	// Re-apply the checked fields through their setters.
	defaults := Default()
	ratio, height, width := cfg.Ratio, cfg.ImageHeight, cfg.ImageWidth
	cfg.Ratio, cfg.ImageHeight, cfg.ImageWidth = defaults.Ratio, defaults.ImageHeight, defaults.ImageWidth
	_ = cfg.SetRatio(ratio)
	cfg.SetImageSize(height, width)

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config file %q", filePath)
	}
	return cfg, nil
}

// SetRatio sets the test ratio if it is inside (MinRatio, MaxRatio). Otherwise
// it logs an error, keeps the previous ratio and returns ErrInvalidRatio.
func (c *Config) SetRatio(ratio float64) error {
	if ratio > MinRatio && ratio < MaxRatio {
		c.Ratio = ratio
		return nil
	}
	klog.Errorf("The specified ratio of %g is outside the allowed margin (%g, %g), keeping %g",
		ratio, MinRatio, MaxRatio, c.Ratio)
	return errors.Wrapf(ErrInvalidRatio, "ratio %g", ratio)
}

// SetImageSize sets the destination size. Values of 2 or less are ignored.
func (c *Config) SetImageSize(height, width int) {
	if height > 2 {
		c.ImageHeight = height
	} else {
		klog.Warningf("Ignoring image height %d, keeping %d", height, c.ImageHeight)
	}
	if width > 2 {
		c.ImageWidth = width
	} else {
		klog.Warningf("Ignoring image width %d, keeping %d", width, c.ImageWidth)
	}
}

// ManifestPath returns Manifest joined onto WorkDir, unless it is absolute or
// empty.
func (c *Config) ManifestPath() string {
	if c.Manifest == "" || filepath.IsAbs(c.Manifest) {
		return c.Manifest
	}
	return filepath.Join(c.WorkDir, c.Manifest)
}

// BootstrapVariants parses Bootstrap.
func (c *Config) BootstrapVariants() ([]transform.Variant, error) {
	if len(c.Bootstrap) == 0 {
		return []transform.Variant{transform.Identity}, nil
	}
	variants := make([]transform.Variant, 0, len(c.Bootstrap))
	for _, name := range c.Bootstrap {
		v, err := transform.ParseVariant(name)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// Validate checks the names and sizes of the configuration.
func (c *Config) Validate() error {
	if !slices.Contains(Variants, c.Variant) {
		return errors.Errorf("unknown variant %q, valid values are %v", c.Variant, Variants)
	}
	if c.ROIMode != ROIExact && c.ROIMode != ROILegacy {
		return errors.Errorf("unknown ROI mode %q, valid values are %q and %q", c.ROIMode, ROIExact, ROILegacy)
	}
	if c.ImageHeight <= 2 || c.ImageWidth <= 2 {
		return errors.Errorf("image size %dx%d too small", c.ImageWidth, c.ImageHeight)
	}
	if c.ChunkSize < 1 {
		return errors.Errorf("chunk size must be at least 1, got %d", c.ChunkSize)
	}
	variants, err := c.BootstrapVariants()
	if err != nil {
		return err
	}
	if c.Variant == VariantRGB {
		// Without a mask there is nothing to re-derive the ROI from once the
		// image is rotated or sheared.
		for _, v := range variants {
			if v != transform.Identity {
				return errors.Errorf("bootstrap variant %q needs a mask, not available for variant %q", v, c.Variant)
			}
		}
	}
	return nil
}
