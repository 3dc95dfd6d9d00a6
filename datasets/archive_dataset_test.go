package datasets

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/posepack/archive"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestArchive writes an rgb-only archive with n train samples whose
// pixels and poses all hold the sample number, and a single test sample.
func writeTestArchive(t *testing.T, path string, n int) {
	t.Helper()
	rgb := make([]uint8, n*2*2*3)
	for i := range rgb {
		rgb[i] = uint8(i / 12)
	}
	pose := make([]float64, n*7)
	for i := range pose {
		pose[i] = float64(i / 7)
	}
	roi := make([]float64, n*4)
	require.NoError(t, archive.Write(path, map[string]*tensors.Tensor{
		"Xtr":      tensors.FromFlatDataAndDimensions(rgb, n, 2, 2, 3),
		"Ytr_pose": tensors.FromFlatDataAndDimensions(pose, n, 7),
		"Ytr_roi":  tensors.FromFlatDataAndDimensions(roi, n, 4),
		"Xte":      tensors.FromFlatDataAndDimensions(make([]uint8, 12), 1, 2, 2, 3),
		"Yte_pose": tensors.FromFlatDataAndDimensions(make([]float64, 7), 1, 7),
		"Yte_roi":  tensors.FromFlatDataAndDimensions(make([]float64, 4), 1, 4),
	}))
}

func TestArchiveDataset_Yield(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.npz")
	writeTestArchive(t, path, 5)

	ds, err := NewArchiveDataset(path, archive.Train, 2)
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, 5, ds.Len())
	assert.Equal(t, []string{KeyRGB, KeyPose, KeyROI}, ds.Keys())
	assert.Equal(t, "posepack:tr", ds.Name())

	var sizes []int
	var firstPoses []float64
	for {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Nil(t, spec)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 2)
		dims := inputs[0].Shape().Dimensions
		assert.Equal(t, []int{2, 2, 3}, dims[1:])
		sizes = append(sizes, dims[0])
		poses := labels[0].Value().([][]float64)
		firstPoses = append(firstPoses, poses[0][0])
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []float64{0, 2, 4}, firstPoses)

	// Exhausted until Reset.
	_, _, _, err = ds.Yield()
	assert.Equal(t, io.EOF, err)
	ds.Reset()
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, 2, inputs[0].Shape().Dimensions[0])
}

func TestArchiveDataset_BatchAndShuffle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.npz")
	writeTestArchive(t, path, 6)
	ds, err := NewArchiveDataset(path, archive.Train, 6)
	require.NoError(t, err)

	inputs, labels, err := ds.Batch([]int{4, 1})
	require.NoError(t, err)
	pixels := inputs[0].Value().([][][][]uint8)
	assert.Equal(t, uint8(4), pixels[0][1][1][2])
	assert.Equal(t, uint8(1), pixels[1][0][0][0])
	poses := labels[0].Value().([][]float64)
	assert.Equal(t, 4.0, poses[0][6])
	assert.Equal(t, 1.0, poses[1][0])

	_, _, err = ds.Batch([]int{6})
	require.Error(t, err)

	epoch := func() []float64 {
		_, _, labels, err := ds.Yield()
		require.NoError(t, err)
		var order []float64
		for _, pose := range labels[0].Value().([][]float64) {
			order = append(order, pose[0])
		}
		return order
	}
	ds.Shuffle(7)
	first := epoch()
	assert.ElementsMatch(t, []float64{0, 1, 2, 3, 4, 5}, first)

	// Same seed from the same starting order, same permutation.
	other, err := NewArchiveDataset(path, archive.Train, 6)
	require.NoError(t, err)
	other.Shuffle(7)
	_, _, labels, err = other.Yield()
	require.NoError(t, err)
	var second []float64
	for _, pose := range labels[0].Value().([][]float64) {
		second = append(second, pose[0])
	}
	assert.Equal(t, first, second)
}

func TestArchiveDataset_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.npz")
	writeTestArchive(t, path, 3)

	_, err := NewArchiveDataset(path, archive.Train, 0)
	require.Error(t, err)

	_, err = NewArchiveDataset(filepath.Join(dir, "none.npz"), archive.Train, 1)
	require.Error(t, err)

	_, err = NewArchiveDataset(path, "va", 1)
	require.Error(t, err)

	test, err := NewArchiveDataset(path, archive.Test, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, test.Len())
}
