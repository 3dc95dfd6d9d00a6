package transform

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Geometry is the center-crop plus resize shared by all modalities of one sample.
//
// Crop is given in the coordinates of the reference image (the rgb image) of
// size SrcW x SrcH. Images of another native resolution get the crop scaled
// proportionally, so every modality stays pixel aligned with the reference.
type Geometry struct {
	SrcW, SrcH int
	Crop       image.Rectangle
	DstW, DstH int
}

// NewGeometry computes the crop of a srcW x srcH image that matches the aspect
// ratio of the dstW x dstH destination.
//
// If the source is wider than needed, the columns are cropped symmetrically to
// a width equal to the number of rows. If it is taller, the rows are cropped to
// a height equal to the number of columns. Offsets are truncated.
func NewGeometry(srcW, srcH, dstW, dstH int) Geometry {
	g := Geometry{
		SrcW: srcW, SrcH: srcH,
		Crop: image.Rect(0, 0, srcW, srcH),
		DstW: dstW, DstH: dstH,
	}
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return g
	}
	aspect := float64(srcW) / float64(srcH)
	need := float64(dstW) / float64(dstH)
	switch {
	case aspect > need:
		newW := min(srcH, srcW)
		off := (srcW - newW) / 2
		g.Crop = image.Rect(off, 0, off+newW, srcH)
	case aspect < need:
		newH := min(srcW, srcH)
		off := (srcH - newH) / 2
		g.Crop = image.Rect(0, off, srcW, off+newH)
	}
	return g
}

// Ratios returns the crop to destination scale factors, horizontal first.
func (g Geometry) Ratios() (ratioX, ratioY float64) {
	return float64(g.Crop.Dx()) / float64(g.DstW), float64(g.Crop.Dy()) / float64(g.DstH)
}

// cropFor maps the reference crop into the bounds of an image.
func (g Geometry) cropFor(bounds image.Rectangle) image.Rectangle {
	if bounds.Dx() == g.SrcW && bounds.Dy() == g.SrcH {
		return g.Crop.Add(bounds.Min)
	}
	sx := float64(bounds.Dx()) / float64(g.SrcW)
	sy := float64(bounds.Dy()) / float64(g.SrcH)
	r := image.Rect(
		int(math.Round(float64(g.Crop.Min.X)*sx)),
		int(math.Round(float64(g.Crop.Min.Y)*sy)),
		int(math.Round(float64(g.Crop.Max.X)*sx)),
		int(math.Round(float64(g.Crop.Max.Y)*sy)),
	)
	return r.Add(bounds.Min).Intersect(bounds)
}

// Apply crops img and resizes it to DstW x DstH with the given interpolator.
//
// The result keeps the pixel type of img (8 or 16 bits, gray or color). When the
// crop already has the destination size the pixels are copied unchanged.
func (g Geometry) Apply(img image.Image, interp draw.Interpolator) image.Image {
	src := g.cropFor(img.Bounds())
	dst := newLike(img, image.Rect(0, 0, g.DstW, g.DstH))
	if src.Dx() == g.DstW && src.Dy() == g.DstH {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst
	}
	interp.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// MapROI moves a reference image ROI into destination pixel coordinates.
func (g Geometry) MapROI(roi ROI) ROI {
	roi.X -= float64(g.Crop.Min.X)
	roi.Y -= float64(g.Crop.Min.Y)
	ratioX, ratioY := g.Ratios()
	return RescaleROI(roi, ratioX, ratioY)
}

// CropResize is the single image version of NewGeometry + Geometry.Apply, using
// bilinear interpolation.
func CropResize(img image.Image, dstW, dstH int) image.Image {
	b := img.Bounds()
	return NewGeometry(b.Dx(), b.Dy(), dstW, dstH).Apply(img, draw.BiLinear)
}

// newLike allocates a zeroed image of the same pixel family as img.
func newLike(img image.Image, r image.Rectangle) draw.Image {
	switch img.(type) {
	case *image.Gray:
		return image.NewGray(r)
	case *image.Gray16:
		return image.NewGray16(r)
	case *image.RGBA64, *image.NRGBA64:
		return image.NewRGBA64(r)
	default:
		return image.NewRGBA(r)
	}
}
