package transform

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// LoadImage decodes an image file keeping its native bit depth, so 16 bits
// normal and depth maps come back as *image.RGBA64, *image.NRGBA64 or
// *image.Gray16.
func LoadImage(filePath string) (image.Image, error) {
	img, err := imaging.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %q", filePath)
	}
	return img, nil
}

// ToGray converts img to 8 bits luminance.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// ToGray16 converts img to 16 bits luminance.
func ToGray16(img image.Image) *image.Gray16 {
	if g, ok := img.(*image.Gray16); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray16(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// ToMask converts img to an 8 bits mask. 16 bits gray values are saturated at
// 255 instead of rescaled, so label masks saved with a 16 bits encoder keep
// their values.
func ToMask(img image.Image) *image.Gray {
	switch m := img.(type) {
	case *image.Gray:
		return m
	case *image.Gray16:
		b := m.Bounds()
		g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				v := m.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				g.SetGray(x, y, color.Gray{Y: uint8(min(v, 255))})
			}
		}
		return g
	}
	return ToGray(img)
}

// ToRGBA64 converts img to 16 bits per channel color.
func ToRGBA64(img image.Image) *image.RGBA64 {
	if m, ok := img.(*image.RGBA64); ok {
		return m
	}
	b := img.Bounds()
	m := image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(m, m.Bounds(), img, b.Min, draw.Src)
	return m
}
