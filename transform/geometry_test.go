package transform

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func randomRGBA(rng *rand.Rand, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xFF
	}
	return img
}

func TestNewGeometry(t *testing.T) {
	tests := []struct {
		name               string
		srcW, srcH         int
		dstW, dstH         int
		want               image.Rectangle
		wantRatX, wantRatY float64
	}{
		{"wide", 200, 100, 128, 128, image.Rect(50, 0, 150, 100), 100.0 / 128, 100.0 / 128},
		{"tall", 100, 200, 64, 64, image.Rect(0, 50, 100, 150), 100.0 / 64, 100.0 / 64},
		{"same aspect", 256, 256, 128, 128, image.Rect(0, 0, 256, 256), 2, 2},
		{"odd offset", 101, 50, 10, 10, image.Rect(25, 0, 75, 50), 5, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGeometry(tc.srcW, tc.srcH, tc.dstW, tc.dstH)
			assert.Equal(t, tc.want, g.Crop)
			rx, ry := g.Ratios()
			assert.InDelta(t, tc.wantRatX, rx, 1e-12)
			assert.InDelta(t, tc.wantRatY, ry, 1e-12)
		})
	}
}

func TestCropResize_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	src := randomRGBA(rng, 16, 16)
	out := CropResize(src, 16, 16)
	rgba, ok := out.(*image.RGBA)
	require.True(t, ok, "expected *image.RGBA, got %T", out)
	require.Equal(t, src.Bounds(), rgba.Bounds())
	require.Equal(t, src.Pix, rgba.Pix)
}

func TestGeometry_ApplyKeepsPixelType(t *testing.T) {
	depth := image.NewGray16(image.Rect(0, 0, 100, 100))
	for i := range depth.Pix {
		if i%2 == 0 {
			depth.Pix[i] = 0x03 // 1000 == 0x03E8
		} else {
			depth.Pix[i] = 0xE8
		}
	}
	g := NewGeometry(100, 100, 50, 50)
	out := g.Apply(depth, draw.BiLinear)
	gray16, ok := out.(*image.Gray16)
	require.True(t, ok, "expected *image.Gray16, got %T", out)
	require.Equal(t, image.Rect(0, 0, 50, 50), gray16.Bounds())
	assert.InDelta(t, 1000, int(gray16.Gray16At(25, 25).Y), 1)

	mask := image.NewGray(image.Rect(0, 0, 100, 100))
	out = g.Apply(mask, draw.NearestNeighbor)
	_, ok = out.(*image.Gray)
	require.True(t, ok, "expected *image.Gray, got %T", out)
}

func TestGeometry_ModalitiesStayAligned(t *testing.T) {
	// Reference rgb is 200x100, the mask is stored at half resolution.
	g := NewGeometry(200, 100, 20, 20)
	assert.Equal(t, image.Rect(25, 0, 75, 50), g.cropFor(image.Rect(0, 0, 100, 50)))

	// A marker at the left edge of the crop in both resolutions lands on the
	// same destination column.
	rgb := image.NewRGBA(image.Rect(0, 0, 200, 100))
	mask := image.NewGray(image.Rect(0, 0, 100, 50))
	for y := 0; y < 100; y++ {
		for x := 50; x < 60; x++ {
			rgb.Set(x, y, color.White)
		}
	}
	for y := 0; y < 50; y++ {
		for x := 25; x < 30; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	rgbOut := ToGray(g.Apply(rgb, draw.NearestNeighbor))
	maskOut := g.Apply(mask, draw.NearestNeighbor).(*image.Gray)
	for x := 0; x < 20; x++ {
		assert.Equal(t, rgbOut.GrayAt(x, 10).Y > 0, maskOut.GrayAt(x, 10).Y > 0, "column %d", x)
	}
	assert.True(t, maskOut.GrayAt(0, 10).Y > 0)
	assert.Zero(t, maskOut.GrayAt(5, 10).Y)
}

func TestRescaleROI(t *testing.T) {
	got := RescaleROI(ROI{X: 10, Y: 20, W: 30, H: 40}, 2, 4)
	assert.Equal(t, ROI{X: 5, Y: 5, W: 15, H: 10}, got)

	// Scaling back with the inverse ratios recovers the input exactly.
	back := RescaleROI(got, 0.5, 0.25)
	assert.Equal(t, ROI{X: 10, Y: 20, W: 30, H: 40}, back)
}

func TestGeometry_MapROI(t *testing.T) {
	g := NewGeometry(200, 100, 50, 50)
	got := g.MapROI(ROI{X: 70, Y: 20, W: 40, H: 60})
	assert.Equal(t, ROI{X: 10, Y: 10, W: 20, H: 30}, got)
}
