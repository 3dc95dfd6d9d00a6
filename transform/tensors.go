package transform

import (
	"image"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
)

// RGBTensor converts img to a uint8 tensor shaped [height, width, 3].
func RGBTensor(img image.Image) *tensors.Tensor {
	return images.ToTensor(dtypes.Uint8).Single(img)
}

// NormalTensor converts a normal map to a uint16 tensor shaped [height, width, 3].
func NormalTensor(img image.Image) *tensors.Tensor {
	return images.ToTensor(dtypes.Uint16).MaxValue(0xFFFF).Single(img)
}

// DepthTensor converts a depth map to a uint16 tensor shaped [height, width, 1].
//
// 16 bits depth maps (gray or color) go through the 16 bits gray model. 8 bits
// depth maps, gray or color, keep their raw 0 to 255 values.
func DepthTensor(img image.Image) *tensors.Tensor {
	b := img.Bounds()
	flat := make([]uint16, 0, b.Dx()*b.Dy())
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		g := ToGray16(img)
		for y := g.Rect.Min.Y; y < g.Rect.Max.Y; y++ {
			for x := g.Rect.Min.X; x < g.Rect.Max.X; x++ {
				flat = append(flat, g.Gray16At(x, y).Y)
			}
		}
	default:
		g := ToGray(img)
		for y := g.Rect.Min.Y; y < g.Rect.Max.Y; y++ {
			for _, v := range g.Pix[g.PixOffset(g.Rect.Min.X, y):g.PixOffset(g.Rect.Max.X, y)] {
				flat = append(flat, uint16(v))
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, b.Dy(), b.Dx(), 1)
}

// MaskTensor converts a mask to a uint8 tensor shaped [height, width, 1].
func MaskTensor(img image.Image) *tensors.Tensor {
	g := ToMask(img)
	b := g.Bounds()
	flat := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		flat = append(flat, g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]...)
	}
	return tensors.FromFlatDataAndDimensions(flat, b.Dy(), b.Dx(), 1)
}
