package report

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/posepack/datasets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"
)

func TestROICenters(t *testing.T) {
	xys := ROICenters([][]float64{{0, 0, 16, 16}, {2, 4, 2, 6}, {1, 2}})
	assert.Equal(t, plotter.XYs{{X: 8, Y: 8}, {X: 3, Y: 7}}, xys)
}

func TestAutoRange(t *testing.T) {
	xmin, xmax, ymin, ymax := autoRange(nil)
	assert.Equal(t, []float64{-1, 1, -1, 1}, []float64{xmin, xmax, ymin, ymax})

	xmin, xmax, ymin, ymax = autoRange(plotter.XYs{{X: 0, Y: 5}, {X: 100, Y: 5}})
	assert.InDelta(t, -6, xmin, 1e-9)
	assert.InDelta(t, 106, xmax, 1e-9)
	assert.Equal(t, 4.0, ymin)
	assert.Equal(t, 6.0, ymax)
}

func TestPlotROIs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "rois.png")
	res := &datasets.Result{
		Train: datasets.SplitSummary{ROIs: [][]float64{{0, 0, 16, 16}, {4, 4, 2, 2}}},
		Test:  datasets.SplitSummary{ROIs: [][]float64{{8, 8, 4, 4}}},
	}
	require.NoError(t, PlotROIs(path, res, 16, 16))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.DecodeConfig(f)
	require.NoError(t, err)

	// An empty run still gets a plot of the frame.
	empty := filepath.Join(t.TempDir(), "empty.png")
	require.NoError(t, PlotROIs(empty, &datasets.Result{}, 16, 16))
	assert.FileExists(t, empty)
}
