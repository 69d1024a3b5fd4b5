package frame

import (
	"image"
	"testing"
)

func TestNewDecoder(t *testing.T) {
	d, err := NewDecoder(FormatYUY2)
	if err != nil {
		t.Fatal(err)
	}
	img, release, err := d.Decode([]byte{0x01, 0x82, 0x03, 0x84}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if release != nil {
		defer release()
	}
	if got := img.Bounds(); got != image.Rect(0, 0, 2, 1) {
		t.Errorf("expected bounds %v, got %v", image.Rect(0, 0, 2, 1), got)
	}

	if _, err := NewDecoder(Format("XXXX")); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
