package datasets

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Noofbiz/posepack/transform"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// File name labels of a capture directory. Files are named
// "<number>_<label>...", and the labels are matched in this order.
const (
	labelRGB           = "_rgb_"
	labelMask          = "rendering_rgb"
	labelPose          = "pose"
	labelRenderedDepth = "rendering_d"
	labelDepth         = "depth"
)

// ScanCaptureDir groups the files of a capture directory into samples.
//
// Every sample needs an rgb image, a mask, a depth image (all with extension
// imageExt) and a pose matrix text file, sharing the leading number of their
// names. Rendered depth images are ignored. Incomplete samples are skipped
// with a warning. Records are sorted by number and carry the pose matrix path
// in MatFile; their pose and ROI are derived while packing.
func ScanCaptureDir(dir, imageExt string) ([]SampleRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(ErrManifestFormat, "failed to list capture directory %q: %v", dir, err)
	}
	imageExt = "." + strings.TrimPrefix(strings.ToLower(imageExt), ".")

	byNumber := make(map[int]*SampleRecord)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != imageExt && ext != ".txt" {
			continue
		}
		prefix, _, found := strings.Cut(name, "_")
		num, err := strconv.Atoi(prefix)
		if !found || err != nil {
			klog.V(1).Infof("Skipping %q: no sample number", name)
			continue
		}
		rec := byNumber[num]
		if rec == nil {
			rec = &SampleRecord{Index: num}
			byNumber[num] = rec
		}
		path := filepath.Join(dir, name)
		if ext == ".txt" {
			if strings.Contains(name, labelPose) {
				rec.MatFile = path
			}
			continue
		}
		switch {
		case strings.Contains(name, labelRGB):
			rec.RGBFile = path
		case strings.Contains(name, labelMask):
			rec.MaskFile = path
		case strings.Contains(name, labelPose):
			rec.MatFile = path
		case strings.Contains(name, labelRenderedDepth):
			// Not packed.
		case strings.Contains(name, labelDepth):
			rec.DepthFile = path
		}
	}

	records := make([]SampleRecord, 0, len(byNumber))
	for num, rec := range byNumber {
		if rec.RGBFile == "" || rec.MaskFile == "" || rec.DepthFile == "" || rec.MatFile == "" {
			klog.Warningf("Skipping incomplete capture %d in %q (rgb=%q mask=%q depth=%q pose=%q)",
				num, dir, rec.RGBFile, rec.MaskFile, rec.DepthFile, rec.MatFile)
			continue
		}
		records = append(records, *rec)
	}
	sortByIndex(records)
	klog.Infof("Found %d captures in %q", len(records), dir)
	return records, nil
}

// ReadPoseMatrix reads a 4x4 pose matrix file: one header line followed by
// four rows of four tab or space separated numbers.
func ReadPoseMatrix(path string) (transform.PoseMatrix, error) {
	var m transform.PoseMatrix
	f, err := os.Open(path)
	if err != nil {
		return m, errors.Wrapf(err, "failed to open pose file %q", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return m, errors.Errorf("pose file %q is empty", path)
	}
	row := 0
	for row < 4 && scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 4 {
			return m, errors.Errorf("pose file %q: row %d has %d values, want 4", path, row, len(fields))
		}
		for col := 0; col < 4; col++ {
			v, err := parseFloat64(fields[col])
			if err != nil {
				return m, errors.Wrapf(err, "pose file %q: row %d, column %d", path, row, col)
			}
			m[row][col] = v
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return m, errors.Wrapf(err, "failed to read pose file %q", path)
	}
	if row < 4 {
		return m, errors.Errorf("pose file %q has %d matrix rows, want 4", path, row)
	}
	return m, nil
}
