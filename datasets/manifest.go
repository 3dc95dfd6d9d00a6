package datasets

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Noofbiz/posepack/config"
	"github.com/Noofbiz/posepack/transform"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrManifestFormat is returned when the manifest cannot be opened or is not
	// a CSV with a header row.
	ErrManifestFormat = errors.New("invalid manifest")

	// ErrMissingColumn is returned when the manifest lacks a column required by
	// the variant.
	ErrMissingColumn = errors.New("manifest is missing a required column")

	// ErrDuplicateIndex is returned when two samples share the same index.
	ErrDuplicateIndex = errors.New("duplicate sample index")
)

// SampleRecord is one sample of the manifest. File paths are as written in the
// manifest, see ResolvePath. Records are not modified after loading.
type SampleRecord struct {
	Index int

	RGBFile     string
	NormalsFile string
	DepthFile   string
	MaskFile    string
	MatFile     string
	CPFile      string

	// Pose is (tx, ty, tz, qx, qy, qz, qw).
	Pose [7]float64

	// ROI in source image pixels, valid if HasROI. Only rgbdnm manifests may
	// leave the ROI cells empty.
	ROI    transform.ROI
	HasROI bool
}

var poseColumns = []string{"tx", "ty", "tz", "qx", "qy", "qz", "qw"}

// requiredColumns per manifest variant. The ROI size is checked separately,
// since it comes either as (roi_w, roi_h) or as (dx, dy).
func requiredColumns(variant config.Variant) []string {
	cols := []string{"index", "rgb_file"}
	if variant == config.VariantRGBDNM {
		cols = append(cols, "normals_file", "depth_file", "mask_file")
	}
	cols = append(cols, poseColumns...)
	return append(cols, "roi_x", "roi_y")
}

// LoadManifest reads the manifest at path.
//
// If strict is false, a manifest that cannot be read is logged and treated as
// empty: the run continues with zero samples.
func LoadManifest(path string, variant config.Variant, strict bool) ([]SampleRecord, error) {
	records, err := ReadManifest(path, variant)
	if err != nil {
		if strict {
			return nil, err
		}
		klog.Errorf("Failed to load manifest, continuing with no samples: %v", err)
		return nil, nil
	}
	return records, nil
}

// ReadManifest reads and validates the manifest at path.
func ReadManifest(path string, variant config.Variant) ([]SampleRecord, error) {
	if variant == config.VariantCapture {
		return nil, errors.Errorf("variant %q has no manifest, use ScanCaptureDir", variant)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrManifestFormat, "failed to open %q: %v", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(ErrManifestFormat, "failed to read header of %q: %v", path, err)
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range requiredColumns(variant) {
		if _, ok := colIndex[col]; !ok {
			return nil, errors.Wrapf(ErrMissingColumn, "column %q not found in %q", col, path)
		}
	}
	wCol, hCol := "roi_w", "roi_h"
	if _, ok := colIndex[wCol]; !ok {
		wCol, hCol = "dx", "dy"
	}
	for _, col := range []string{wCol, hCol} {
		if _, ok := colIndex[col]; !ok {
			return nil, errors.Wrapf(ErrMissingColumn, "column %q (or roi_w/roi_h) not found in %q", col, path)
		}
	}

	var records []SampleRecord
	seen := make(map[int]int)
	for row := 1; ; row++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrManifestFormat, "row %d of %q: %v", row, path, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		get := func(col string) string {
			i, ok := colIndex[col]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}
		num := func(col string) (float64, error) {
			v, err := parseFloat64(get(col))
			if err != nil {
				return 0, errors.Wrapf(err, "row %d of %q, column %q", row, path, col)
			}
			return v, nil
		}

		rec := SampleRecord{
			RGBFile:     get("rgb_file"),
			NormalsFile: get("normals_file"),
			DepthFile:   get("depth_file"),
			MaskFile:    get("mask_file"),
			MatFile:     get("mat_file"),
			CPFile:      get("cp_file"),
		}
		if rec.Index, err = strconv.Atoi(get("index")); err != nil {
			return nil, errors.Wrapf(err, "row %d of %q, column \"index\"", row, path)
		}
		if prev, dup := seen[rec.Index]; dup {
			return nil, errors.Wrapf(ErrDuplicateIndex, "index %d in rows %d and %d of %q", rec.Index, prev, row, path)
		}
		seen[rec.Index] = row
		for i, col := range poseColumns {
			if rec.Pose[i], err = num(col); err != nil {
				return nil, err
			}
		}
		roiCols := []string{"roi_x", "roi_y", wCol, hCol}
		blank := true
		for _, col := range roiCols {
			blank = blank && get(col) == ""
		}
		// Samples with a mask may leave the ROI out, it is then detected.
		if !blank || variant != config.VariantRGBDNM {
			roi := make([]float64, 4)
			for i, col := range roiCols {
				if roi[i], err = num(col); err != nil {
					return nil, err
				}
			}
			rec.ROI = transform.ROI{X: roi[0], Y: roi[1], W: roi[2], H: roi[3]}
			rec.HasROI = true
		}
		records = append(records, rec)
	}
	klog.Infof("Read %d rows from %q", len(records), path)
	return records, nil
}

// sortByIndex orders records by their sample index.
func sortByIndex(records []SampleRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Index < records[j].Index })
}
