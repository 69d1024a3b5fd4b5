package frame

import "fmt"

// FrameSizeMap returns a function to get the number of bytes a frame will occupy
// in the given format when stored contiguously.
var FrameSizeMap = map[Format]frameSizeFunc{
	FormatI420: frameSizeI420,
	FormatNV12: frameSizeNV12,
	FormatNV21: frameSizeNV12, // NV12 and NV21 have the same frame size
	FormatYUY2: frameSizeYUY2,
	FormatUYVY: frameSizeYUY2, // UYVY and YUY2 have the same frame size
	FormatRGBA: frameSizeRGBA,
}

type frameSizeFunc func(width, height int) uint

func frameSizeYUY2(width, height int) uint {
	return uint(2 * width * height)
}

func frameSizeI420(width, height int) uint {
	yi := width * height
	cbi := yi + width*height/4
	cri := cbi + width*height/4
	return uint(cri)
}

func frameSizeNV12(width, height int) uint {
	yi := width * height
	ci := yi + width*height/2
	return uint(ci)
}

func frameSizeRGBA(width, height int) uint {
	return uint(4 * width * height)
}

// Size returns the contiguous frame size of f, or an error when f is unknown.
func Size(f Format, width, height int) (int, error) {
	fn, ok := FrameSizeMap[f]
	if !ok {
		return 0, fmt.Errorf("%s is not supported", f)
	}
	return int(fn(width, height)), nil
}

// PlaneSizes returns the per-plane byte sizes used when f is stored in
// separate planes, as a hardware codec expects it. Packed formats have a
// single plane.
func PlaneSizes(f Format, width, height int) ([]int, error) {
	yi := width * height
	switch f {
	case FormatI420:
		return []int{yi, yi / 4, yi / 4}, nil
	case FormatNV12, FormatNV21:
		return []int{yi, yi / 2}, nil
	case FormatYUY2, FormatUYVY:
		return []int{2 * yi}, nil
	case FormatRGBA:
		return []int{4 * yi}, nil
	default:
		return nil, fmt.Errorf("%s is not supported", f)
	}
}
