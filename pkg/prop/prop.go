package prop

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/pion/hwvenc/pkg/frame"
)

var (
	errInvalidSize      = errors.New("prop: width and height must be positive")
	errInvalidFrameRate = errors.New("prop: frame rate must be positive")
	errInvalidStride    = errors.New("prop: stride smaller than width")
)

// Video represents the geometry of a raw video port.
type Video struct {
	Width, Height int
	// Stride and SliceHeight default to Width and Height when zero.
	Stride, SliceHeight int
	FrameRate           float32
	FrameFormat         frame.Format
}

// Merge merges all the field values from o to p, except zero values.
func (p *Video) Merge(o Video) {
	rp := reflect.ValueOf(p).Elem()
	ro := reflect.ValueOf(o)

	for i := 0; i < rp.NumField(); i++ {
		fieldB := ro.Field(i)
		if fieldB.IsZero() {
			continue
		}
		rp.Field(i).Set(fieldB)
	}
}

// Validate checks that p describes a usable raw frame.
func (p Video) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return errInvalidSize
	}
	if p.FrameRate <= 0 || math.IsNaN(float64(p.FrameRate)) {
		return errInvalidFrameRate
	}
	if p.Stride != 0 && p.Stride < p.Width {
		return errInvalidStride
	}
	if p.FrameFormat != "" && !frame.Supported(p.FrameFormat) {
		return fmt.Errorf("prop: %s is not supported", p.FrameFormat)
	}
	return nil
}
