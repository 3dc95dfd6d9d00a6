// Package report draws summaries of a packing run.
package report

import (
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/Noofbiz/posepack/datasets"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// ROICenters returns the centers of (x, y, w, h) ROIs.
func ROICenters(rois [][]float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(rois))
	for _, roi := range rois {
		if len(roi) < 4 {
			continue
		}
		xys = append(xys, plotter.XY{X: roi[0] + roi[2]/2, Y: roi[1] + roi[3]/2})
	}
	return xys
}

// PlotROIs writes a PNG at path with the ROI centers of the train (grey) and
// test (red) entries of res, in destination pixels. The y axis points down,
// like image rows.
func PlotROIs(path string, res *datasets.Result, width, height int) error {
	p := plot.New()
	p.Title.Text = "ROI centers: train (grey), test (red)"
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	train := flipY(ROICenters(res.Train.ROIs))
	test := flipY(ROICenters(res.Test.ROIs))

	if len(train) > 0 {
		tr, err := plotter.NewScatter(train)
		if err != nil {
			return errors.Wrap(err, "train scatter")
		}
		tr.GlyphStyle.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
		tr.GlyphStyle.Radius = vg.Points(1.8)
		p.Add(tr)
		p.Legend.Add("train", tr)
	}
	if len(test) > 0 {
		te, err := plotter.NewScatter(test)
		if err != nil {
			return errors.Wrap(err, "test scatter")
		}
		te.GlyphStyle.Color = color.RGBA{R: 200, G: 30, B: 30, A: 200}
		te.GlyphStyle.Radius = vg.Points(2.4)
		p.Add(te)
		p.Legend.Add("test", te)
	}

	// Image frame.
	frame, err := plotter.NewLine(plotter.XYs{
		{X: 0, Y: 0}, {X: float64(width), Y: 0},
		{X: float64(width), Y: -float64(height)}, {X: 0, Y: -float64(height)}, {X: 0, Y: 0},
	})
	if err != nil {
		return errors.Wrap(err, "frame")
	}
	frame.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	frame.Width = vg.Points(0.8)
	p.Add(frame)

	p.Add(plotter.NewGrid())
	all := append(append(plotter.XYs{}, train...), test...)
	all = append(all, plotter.XY{X: 0, Y: 0}, plotter.XY{X: float64(width), Y: -float64(height)})
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = autoRange(all)

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot %q", path)
	}
	klog.Infof("Wrote ROI plot of %d train and %d test entries to %q", len(train), len(test), path)
	return nil
}

func flipY(xys plotter.XYs) plotter.XYs {
	for i := range xys {
		xys[i].Y = -xys[i].Y
	}
	return xys
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin, xmax = math.Min(xmin, p.X), math.Max(xmax, p.X)
		ymin, ymax = math.Min(ymin, p.Y), math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}
