package video

import (
	"fmt"
	"image"
	"image/color"
)

// imageToYCbCr converts src to *image.YCbCr and store it to dst
// Note: conversion can be lossy
func imageToYCbCr(dst *image.YCbCr, src image.Image) {
	if dst == nil {
		panic("dst can't be nil")
	}

	yuvImg, ok := src.(*image.YCbCr)
	if ok {
		*dst = *yuvImg
		return
	}

	bounds := src.Bounds()
	dy := bounds.Dy()
	dx := bounds.Dx()
	flat := dy * dx

	if len(dst.Y)+len(dst.Cb)+len(dst.Cr) < 3*flat {
		i0 := 1 * flat
		i1 := 2 * flat
		i2 := 3 * flat
		if cap(dst.Y) < i2 {
			dst.Y = make([]uint8, i2)
		}
		dst.Y = dst.Y[:i0]
		dst.Cb = dst.Y[i0:i1:i1]
		dst.Cr = dst.Y[i1:i2:i2]
		dst.Y = dst.Y[:i0:i0]
	}
	dst.SubsampleRatio = image.YCbCrSubsampleRatio444
	dst.YStride = dx
	dst.CStride = dx
	dst.Rect = image.Rect(0, 0, dx, dy)

	switch s := src.(type) {
	case *image.RGBA:
		rgbaToI444(dst, s)
	default:
		i := 0
		for yi := bounds.Min.Y; yi < bounds.Max.Y; yi++ {
			for xi := bounds.Min.X; xi < bounds.Max.X; xi++ {
				r, g, b, _ := src.At(xi, yi).RGBA()
				yy, cb, cr := color.RGBToYCbCr(uint8(r/256), uint8(g/256), uint8(b/256))
				dst.Y[i] = yy
				dst.Cb[i] = cb
				dst.Cr[i] = cr
				i++
			}
		}
	}
}

func rgbaToI444(dst *image.YCbCr, src *image.RGBA) {
	dx := src.Rect.Dx()
	dy := src.Rect.Dy()
	i := 0
	for yi := 0; yi < dy; yi++ {
		row := src.Pix[yi*src.Stride:]
		for xi := 0; xi < dx; xi++ {
			p := row[4*xi : 4*xi+3]
			dst.Y[i], dst.Cb[i], dst.Cr[i] = color.RGBToYCbCr(p[0], p[1], p[2])
			i++
		}
	}
}

// i444ToI420 subsamples the chroma planes in place by picking the top-left
// sample of every 2x2 block.
func i444ToI420(img *image.YCbCr) {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	cw := w / 2
	for y := 0; y < h/2; y++ {
		for x := 0; x < cw; x++ {
			img.Cb[y*cw+x] = img.Cb[2*y*img.CStride+2*x]
			img.Cr[y*cw+x] = img.Cr[2*y*img.CStride+2*x]
		}
	}
	img.CStride = cw
	cLen := cw * (h / 2)
	img.Cb = img.Cb[:cLen]
	img.Cr = img.Cr[:cLen]
}

// i422ToI420 drops every other chroma row in place.
func i422ToI420(img *image.YCbCr) {
	h := img.Rect.Dy()
	for y := 0; y < h/2; y++ {
		copy(img.Cb[y*img.CStride:(y+1)*img.CStride], img.Cb[2*y*img.CStride:])
		copy(img.Cr[y*img.CStride:(y+1)*img.CStride], img.Cr[2*y*img.CStride:])
	}
	cLen := img.CStride * (h / 2)
	img.Cb = img.Cb[:cLen]
	img.Cr = img.Cr[:cLen]
}

// toI420 normalizes src into a tightly packed 4:2:0 image.
func toI420(dst *image.YCbCr, src image.Image) error {
	if yuv, ok := src.(*image.YCbCr); ok {
		// Decoders may hand out slices aliasing client memory; the in-place
		// subsampling below must never write back into them.
		clone := *yuv
		clone.Cb = append([]uint8(nil), yuv.Cb...)
		clone.Cr = append([]uint8(nil), yuv.Cr...)
		src = &clone
	}
	imageToYCbCr(dst, src)

	switch dst.SubsampleRatio {
	case image.YCbCrSubsampleRatio444:
		i444ToI420(dst)
	case image.YCbCrSubsampleRatio422:
		i422ToI420(dst)
	case image.YCbCrSubsampleRatio420:
	default:
		return fmt.Errorf("unsupported pixel format: %s", dst.SubsampleRatio)
	}

	dst.SubsampleRatio = image.YCbCrSubsampleRatio420
	return nil
}

// ToI420 converts r to a new reader that will output images in I420 format
func ToI420(r Reader) Reader {
	var yuvImg image.YCbCr
	return ReaderFunc(func() (image.Image, func(), error) {
		img, _, err := r.Read()
		if err != nil {
			return nil, func() {}, err
		}

		if err := toI420(&yuvImg, img); err != nil {
			return nil, func() {}, err
		}
		return &yuvImg, func() {}, nil
	})
}
