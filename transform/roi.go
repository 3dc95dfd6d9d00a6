package transform

import (
	"image"
	"math"
)

// ROI is an axis aligned box in pixel coordinates.
type ROI struct {
	X, Y, W, H float64
}

// Slice returns (x, y, w, h).
func (r ROI) Slice() []float64 { return []float64{r.X, r.Y, r.W, r.H} }

// RescaleROI divides a source ROI by the source to destination ratios, ratioX
// being the horizontal one.
func RescaleROI(roi ROI, ratioX, ratioY float64) ROI {
	return ROI{
		X: roi.X / ratioX,
		Y: roi.Y / ratioY,
		W: roi.W / ratioX,
		H: roi.H / ratioY,
	}
}

// nonZero reports whether any channel of the pixel is set.
func nonZero(img image.Image, x, y int) bool {
	switch m := img.(type) {
	case *image.Gray:
		return m.Pix[m.PixOffset(x, y)] != 0
	case *image.Gray16:
		i := m.PixOffset(x, y)
		return m.Pix[i] != 0 || m.Pix[i+1] != 0
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return r|g|b != 0
}

// DetectROI returns the bounding box of the non-zero pixels of mask.
//
// An empty mask yields (0, 0, 1, 1).
func DetectROI(mask image.Image) ROI {
	b := mask.Bounds()
	minX, minY, maxX, maxY := math.MaxInt, math.MaxInt, -1, -1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !nonZero(mask, x, y) {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return ROI{X: 0, Y: 0, W: 1, H: 1}
	}
	return clampROI(minX-b.Min.X, minY-b.Min.Y, maxX-minX+1, maxY-minY+1, b.Dx(), b.Dy())
}

// DetectROIScan is the scan line detector of earlier rendering tools,
// kept for datasets that must match previously packed ROIs.
//
// It tracks the first non-zero row and column, but only extends the right and
// bottom edges when two consecutive pixels in scan order are non-zero. The
// previous pixel carries over from the end of one row to the start of the
// next one. The width does not include the last column.
func DetectROIScan(mask image.Image) ROI {
	b := mask.Bounds()
	cols, rows := b.Dx(), b.Dy()
	x, y := cols, rows
	height := 1
	xr := 0
	last := false
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			set := nonZero(mask, b.Min.X+j, b.Min.Y+i)
			if set {
				x = min(x, j)
				y = min(y, i)
			}
			if last && set {
				xr = max(xr, j)
				if i > height+y {
					height = i - y
				}
			}
			last = set
		}
	}
	return clampROI(x, y, xr-x, height, cols, rows)
}

func clampROI(x, y, w, h, cols, rows int) ROI {
	x = max(0, min(x, cols))
	y = max(0, min(y, rows))
	w = max(1, min(w, cols))
	h = max(1, min(h, rows))
	return ROI{X: float64(x), Y: float64(y), W: float64(w), H: float64(h)}
}
