package main

import (
	"image"

	"github.com/pion/hwvenc/pkg/io/video"
)

var barColors = [][3]uint8{
	{235, 128, 128},
	{210, 16, 146},
	{170, 166, 16},
	{145, 54, 34},
	{107, 202, 222},
	{82, 90, 240},
	{41, 240, 110},
}

// colorBars renders color bars over a gray gradation. A white marker
// scrolls through the gradation so that consecutive frames differ.
func colorBars(width, height int) video.Reader {
	base := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	barEnd := height * 3 / 4
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			luma, cb, cr := uint8(x*255/width), uint8(128), uint8(128)
			if y < barEnd {
				c := barColors[x*len(barColors)/width]
				luma, cb, cr = uint8(uint16(c[0])*75/100), c[1], c[2]
			}
			base.Y[base.YOffset(x, y)] = luma
			ci := base.COffset(x, y)
			base.Cb[ci] = cb
			base.Cr[ci] = cr
		}
	}

	img := image.NewYCbCr(base.Rect, base.SubsampleRatio)
	n := 0
	return video.ReaderFunc(func() (image.Image, func(), error) {
		copy(img.Y, base.Y)
		copy(img.Cb, base.Cb)
		copy(img.Cr, base.Cr)

		markerX := n % width
		for y := barEnd; y < height; y++ {
			for x := markerX; x < markerX+8 && x < width; x++ {
				img.Y[img.YOffset(x, y)] = 235
			}
		}
		n += 4
		return img, func() {}, nil
	})
}
