package video

import (
	"fmt"
	"image"
)

// ValidRotation reports whether degrees is one of 0, 90, 180 or 270.
func ValidRotation(degrees int) bool {
	switch degrees {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// RotatedSize returns the frame size after rotating a width x height frame.
func RotatedSize(width, height, degrees int) (int, int) {
	if degrees == 90 || degrees == 270 {
		return height, width
	}
	return width, height
}

// rotateI420 rotates src clockwise into dst, allocating dst when its size
// doesn't match.
func rotateI420(dst *image.YCbCr, src *image.YCbCr, degrees int) (*image.YCbCr, error) {
	if !ValidRotation(degrees) {
		return nil, fmt.Errorf("unsupported rotation: %d", degrees)
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	rw, rh := RotatedSize(w, h, degrees)
	if dst == nil || dst.Rect.Dx() != rw || dst.Rect.Dy() != rh {
		dst = image.NewYCbCr(image.Rect(0, 0, rw, rh), image.YCbCrSubsampleRatio420)
	}

	rotatePlane(dst.Y, dst.YStride, src.Y, src.YStride, w, h, degrees)
	rotatePlane(dst.Cb, dst.CStride, src.Cb, src.CStride, w/2, h/2, degrees)
	rotatePlane(dst.Cr, dst.CStride, src.Cr, src.CStride, w/2, h/2, degrees)
	return dst, nil
}

func rotatePlane(dst []uint8, dstStride int, src []uint8, srcStride, w, h, degrees int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch degrees {
			case 0:
				dx, dy = x, y
			case 90:
				dx, dy = h-1-y, x
			case 180:
				dx, dy = w-1-x, h-1-y
			case 270:
				dx, dy = y, w-1-x
			}
			dst[dy*dstStride+dx] = src[y*srcStride+x]
		}
	}
}
