package transform

import (
	"fmt"
	"image"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Variant is a geometric augmentation applied to every modality of a sample.
type Variant int

const (
	Identity Variant = iota
	RotatePos90
	RotateNeg90
	ShearA
	ShearB
)

var variantNames = map[Variant]string{
	Identity:    "identity",
	RotatePos90: "rot90",
	RotateNeg90: "rot-90",
	ShearA:      "shear-a",
	ShearB:      "shear-b",
}

// AllVariants in their numeric order.
var AllVariants = []Variant{Identity, RotatePos90, RotateNeg90, ShearA, ShearB}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant accepts the variant names ("identity", "rot90", "rot-90",
// "shear-a", "shear-b") or their numbers (0 to 4).
func ParseVariant(s string) (Variant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, v := range AllVariants {
		if s == v.String() || s == fmt.Sprint(int(v)) {
			return v, nil
		}
	}
	return Identity, errors.Errorf("unknown bootstrap variant %q, valid values are %v", s, AllVariants)
}

// shear parameters: the top edge is stretched by up, the bottom by down, after
// a horizontal translation by t.
type shear struct {
	up, down, t float64
}

var shears = map[Variant]shear{
	ShearA: {up: 100, down: 0, t: 50},
	ShearB: {up: 50, down: -100, t: -50},
}

// Bootstrap returns img transformed by v. The output has the size and pixel
// type of img; pixels that no source pixel maps to are zero.
func Bootstrap(img image.Image, v Variant) (image.Image, error) {
	switch v {
	case Identity:
		return img, nil
	case RotatePos90:
		return Rotate90(img, true), nil
	case RotateNeg90:
		return Rotate90(img, false), nil
	case ShearA, ShearB:
		return Shear(img, shears[v]), nil
	}
	return nil, errors.Errorf("unknown bootstrap variant %d", int(v))
}

// Rotate90 rotates img by 90 degrees about its center, counterclockwise as
// displayed when positive is set.
func Rotate90(img image.Image, positive bool) image.Image {
	return warp(img, rotation90(img.Bounds(), positive))
}

// Shear translates, rotates by +90 degrees and finally applies the affine map
// taking the triangle (0,0), (rows+up,0), (rows,cols) to (0,0), (rows,0),
// (rows+down,cols). Each step is resampled into an image of the input size.
func Shear(img image.Image, s shear) image.Image {
	b := img.Bounds()
	rows, cols := float64(b.Dy()), float64(b.Dx())
	out := warp(img, f64.Aff3{1, 0, s.t, 0, 1, 0})
	out = warp(out, rotation90(b, true))
	a00 := rows / (rows + s.up)
	a01 := (rows + s.down - a00*rows) / cols
	return warp(out, f64.Aff3{a00, a01, 0, 0, 1, 0})
}

// rotation90 is the source to destination rotation about the center of b.
func rotation90(b image.Rectangle, positive bool) f64.Aff3 {
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	if positive {
		return f64.Aff3{0, 1, cx - cy, -1, 0, cx + cy}
	}
	return f64.Aff3{0, -1, cx + cy, 1, 0, cy - cx}
}

func warp(img image.Image, m f64.Aff3) image.Image {
	dst := newLike(img, img.Bounds())
	draw.NearestNeighbor.Transform(dst, m, img, img.Bounds(), draw.Src, nil)
	return dst
}
