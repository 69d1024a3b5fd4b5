package video

import (
	"image"

	"golang.org/x/image/draw"
)

// Scaler represents scaling algorithm
type Scaler draw.Scaler

// List of scaling algorithms
var (
	ScalerNearestNeighbor = Scaler(draw.NearestNeighbor)
	ScalerApproxBiLinear  = Scaler(draw.ApproxBiLinear)
	ScalerBiLinear        = Scaler(draw.BiLinear)
	ScalerCatmullRom      = Scaler(draw.CatmullRom)
)

// scaleI420 scales every plane of src into dst. Both images must be 4:2:0.
func scaleI420(dst, src *image.YCbCr, scaler Scaler) {
	if scaler == nil {
		scaler = ScalerNearestNeighbor
	}
	half := func(r image.Rectangle) image.Rectangle {
		return image.Rect(0, 0, r.Dx()/2, r.Dy()/2)
	}

	planes := [3]struct {
		dst, src *image.Gray
	}{
		{
			dst: &image.Gray{Pix: dst.Y, Stride: dst.YStride, Rect: dst.Rect},
			src: &image.Gray{Pix: src.Y, Stride: src.YStride, Rect: src.Rect},
		},
		{
			dst: &image.Gray{Pix: dst.Cb, Stride: dst.CStride, Rect: half(dst.Rect)},
			src: &image.Gray{Pix: src.Cb, Stride: src.CStride, Rect: half(src.Rect)},
		},
		{
			dst: &image.Gray{Pix: dst.Cr, Stride: dst.CStride, Rect: half(dst.Rect)},
			src: &image.Gray{Pix: src.Cr, Stride: src.CStride, Rect: half(src.Rect)},
		},
	}
	for _, p := range planes {
		scaler.Scale(p.dst, p.dst.Rect, p.src, p.src.Rect, draw.Src, nil)
	}
}

// Scale returns video scaling transform.
// Setting scaler=nil to use default scaler. (ScalerNearestNeighbor)
func Scale(width, height int, scaler Scaler) TransformFunc {
	return func(r Reader) Reader {
		if scaler == nil {
			scaler = ScalerNearestNeighbor
		}
		rect := image.Rect(0, 0, width, height)
		var rgba *image.RGBA
		var yuv image.YCbCr
		var yuvScaled *image.YCbCr

		return ReaderFunc(func() (image.Image, func(), error) {
			img, _, err := r.Read()
			if err != nil {
				return nil, func() {}, err
			}
			if img.Bounds().Eq(rect) {
				return img, func() {}, nil
			}

			if v, ok := img.(*image.RGBA); ok {
				if rgba == nil {
					rgba = image.NewRGBA(rect)
				}
				scaler.Scale(rgba, rect, v, v.Bounds(), draw.Src, nil)
				return rgba, func() {}, nil
			}

			if err := toI420(&yuv, img); err != nil {
				return nil, func() {}, err
			}
			if yuvScaled == nil {
				yuvScaled = image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
			}
			scaleI420(yuvScaled, &yuv, scaler)
			return yuvScaled, func() {}, nil
		})
	}
}
