package transform

import (
	"image"
	"image/color"
	"math"
)

// NormalEstimator derives a normal map from a color image.
type NormalEstimator interface {
	EstimateNormals(img image.Image) (*image.RGBA64, error)
}

// SobelNormals estimates surface normals from the luminance gradient.
//
// With sx and sy the 3x3 Sobel derivatives of the gray image, the normal is
// (-sx, -sy, 1)/|(-sx, -sy, 1)|, mapped from [-1, 1] to [0, 65535] and stored
// as (R, G, B) = (x, y, z). Borders are reflected without repeating the edge
// pixel.
type SobelNormals struct{}

var _ NormalEstimator = SobelNormals{}

// EstimateNormals implements NormalEstimator.
func (SobelNormals) EstimateNormals(img image.Image) (*image.RGBA64, error) {
	gray := ToGray(img)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA64(image.Rect(0, 0, w, h))
	at := func(x, y int) float64 {
		return float64(gray.Pix[gray.PixOffset(b.Min.X+reflect101(x, w), b.Min.Y+reflect101(y, h))])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			sy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			s := math.Sqrt(sx*sx + sy*sy + 1)
			out.SetRGBA64(x, y, color.RGBA64{
				R: unitTo16(-sx / s),
				G: unitTo16(-sy / s),
				B: unitTo16(1 / s),
				A: 0xFFFF,
			})
		}
	}
	return out, nil
}

// unitTo16 maps [-1, 1] to [0, 65535].
func unitTo16(v float64) uint16 {
	return uint16(math.Round((v + 1) / 2 * 0xFFFF))
}

// reflect101 mirrors an out of range index around the border pixel.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}
