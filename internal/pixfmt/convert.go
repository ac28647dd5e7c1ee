// Package pixfmt converts raw camera layouts into planar YUV 4:2:0 (I420).
//
// Conversions use the BT.601 limited-range integer coefficients common to
// libyuv and most hardware encoders. Chroma is sampled from the average of
// each 2x2 block; a trailing odd row or column only contributes luma.
package pixfmt

import (
	"errors"
	"fmt"
)

// ErrConversionFailed is returned when a colour conversion cannot run on the input
var ErrConversionFailed = errors.New("pixfmt: conversion failed")

// RGBToY returns the BT.601 limited-range luma of an RGB triple
func RGBToY(r, g, b int) byte {
	return byte((66*r+129*g+25*b+128)>>8 + 16)
}

// RGBToUV returns the BT.601 limited-range chroma of an RGB triple
func RGBToUV(r, g, b int) (u, v byte) {
	u = byte((-38*r-74*g+112*b+128)>>8 + 128)
	v = byte((112*r-94*g-18*b+128)>>8 + 128)
	return u, v
}

// BGR24ToI420 converts packed B,G,R bytes into dst laid out as I420
func BGR24ToI420(src []byte, width, height int, dst []byte) error {
	return packedRGBToI420(src, width, height, dst, 2, 1, 0)
}

// RGB24ToI420 converts packed R,G,B bytes into dst laid out as I420
func RGB24ToI420(src []byte, width, height int, dst []byte) error {
	return packedRGBToI420(src, width, height, dst, 0, 1, 2)
}

func packedRGBToI420(src []byte, width, height int, dst []byte, ri, gi, bi int) error {
	if err := checkBuffers(src, width*height*3, dst, width, height); err != nil {
		return err
	}

	y, u, v := planes(dst, width, height)
	stride := width * 3

	for row := 0; row < height; row++ {
		line := src[row*stride : row*stride+stride]
		out := y[row*width : row*width+width]
		for col := 0; col < width; col++ {
			px := line[col*3 : col*3+3]
			out[col] = RGBToY(int(px[ri]), int(px[gi]), int(px[bi]))
		}
	}

	cw := width / 2
	for cy := 0; cy < height/2; cy++ {
		top := src[2*cy*stride:]
		bottom := src[(2*cy+1)*stride:]
		for cx := 0; cx < cw; cx++ {
			o := cx * 6
			r := int(top[o+ri]) + int(top[o+3+ri]) + int(bottom[o+ri]) + int(bottom[o+3+ri])
			g := int(top[o+gi]) + int(top[o+3+gi]) + int(bottom[o+gi]) + int(bottom[o+3+gi])
			b := int(top[o+bi]) + int(top[o+3+bi]) + int(bottom[o+bi]) + int(bottom[o+3+bi])
			u[cy*cw+cx], v[cy*cw+cx] = RGBToUV((r+2)>>2, (g+2)>>2, (b+2)>>2)
		}
	}
	return nil
}

// YUYV422ToI420 converts packed Y0,U,Y1,V bytes into dst laid out as I420.
// Chroma of two consecutive rows is averaged.
func YUYV422ToI420(src []byte, width, height int, dst []byte) error {
	if err := checkBuffers(src, width*height*2, dst, width, height); err != nil {
		return err
	}

	y, u, v := planes(dst, width, height)
	stride := width * 2

	for row := 0; row < height; row++ {
		line := src[row*stride : row*stride+stride]
		out := y[row*width : row*width+width]
		for col := 0; col < width; col++ {
			out[col] = line[col*2]
		}
	}

	cw := width / 2
	for cy := 0; cy < height/2; cy++ {
		top := src[2*cy*stride:]
		bottom := src[(2*cy+1)*stride:]
		for cx := 0; cx < cw; cx++ {
			o := cx * 4
			u[cy*cw+cx] = byte((int(top[o+1]) + int(bottom[o+1]) + 1) >> 1)
			v[cy*cw+cx] = byte((int(top[o+3]) + int(bottom[o+3]) + 1) >> 1)
		}
	}
	return nil
}

func checkBuffers(src []byte, need int, dst []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrConversionFailed, width, height)
	}
	if len(src) < need {
		return fmt.Errorf("%w: input has %d bytes, need %d", ErrConversionFailed, len(src), need)
	}
	if len(dst) < PlanarSize(width, height) {
		return fmt.Errorf("%w: output has %d bytes, need %d", ErrConversionFailed, len(dst), PlanarSize(width, height))
	}
	return nil
}
