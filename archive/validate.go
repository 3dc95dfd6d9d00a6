package archive

import (
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// Check compares the number of samples of each train and test array against
// the expected counts and returns the number of mismatches. keys are the
// split-less names ("X", "X_norm", "Y_pose", ...); a missing array counts as a
// mismatch.
//
// Mismatches are logged, never returned as errors: the archive is already
// written and still usable for inspection.
func Check(volumes map[string]*tensors.Tensor, trainCount, testCount int, keys []string) int {
	expected := make(map[string]int, 2*len(keys))
	for _, key := range keys {
		expected[SplitKey(key, Train)] = trainCount
		expected[SplitKey(key, Test)] = testCount
	}
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	mismatches := 0
	for _, name := range names {
		want := expected[name]
		t, found := volumes[name]
		if !found {
			klog.Errorf("Archive is missing %q", name)
			mismatches++
			continue
		}
		if t.Shape().Rank() == 0 || t.Shape().Dimensions[0] != want {
			klog.Errorf("Archive array %q has shape %s, expected %d samples", name, t.Shape(), want)
			mismatches++
		}
	}
	if mismatches == 0 {
		klog.Infof("Archive check passed: %d train and %d test samples in %d arrays", trainCount, testCount, len(names))
	} else {
		klog.Errorf("Archive check found %d mismatches", mismatches)
	}
	return mismatches
}

// CheckFile reads the archive at path and calls Check. An unreadable archive
// counts every expected array as a mismatch.
func CheckFile(path string, trainCount, testCount int, keys []string) int {
	volumes, err := Read(path)
	if err != nil {
		klog.Errorf("Failed to read archive for checking: %v", err)
		return 2 * len(keys)
	}
	return Check(volumes, trainCount, testCount, keys)
}
