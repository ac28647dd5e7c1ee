// Package testpattern renders moving colour bars with a caption and packs
// them into any supported raw layout.
package testpattern

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/pixfmt"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

// SMPTE-style bar colours, left to right
var bars = []color.RGBA{
	{191, 191, 191, 255},
	{191, 191, 0, 255},
	{0, 191, 191, 255},
	{0, 191, 0, 255},
	{191, 0, 191, 255},
	{191, 0, 0, 255},
	{0, 0, 191, 255},
	{16, 16, 16, 255},
}

const captionPad = 4

// Generator owns the canvas and the packing scratch buffer
type Generator struct {
	width  int
	height int
	canvas *image.RGBA
	rgb    []byte
}

// New creates a generator. Both dimensions must be positive and even.
func New(width, height int) (*Generator, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("testpattern: dimensions must be positive and even, got %dx%d", width, height)
	}
	return &Generator{
		width:  width,
		height: height,
		canvas: image.NewRGBA(image.Rect(0, 0, width, height)),
		rgb:    make([]byte, width*height*3),
	}, nil
}

// Render draws frame n: bars scrolled n pixels and a caption with the
// frame number and ts
func (g *Generator) Render(n uint64, ts time.Time) *image.RGBA {
	barWidth := max(g.width/len(bars), 1)
	shift := int(n % uint64(g.width))
	for x := 0; x < g.width; x++ {
		c := bars[((x+shift)/barWidth)%len(bars)]
		for y := 0; y < g.height; y++ {
			g.canvas.SetRGBA(x, y, c)
		}
	}

	caption := fmt.Sprintf("#%d %s", n, ts.Format("15:04:05.000"))
	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  g.canvas,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	textWidth := d.MeasureString(caption).Ceil()
	box := image.Rect(0, 0, textWidth+2*captionPad, face.Height+2*captionPad).Intersect(g.canvas.Bounds())
	draw.Draw(g.canvas, box, image.NewUniform(color.Black), image.Point{}, draw.Src)
	d.Dot = fixed.P(captionPad, captionPad+face.Ascent)
	d.DrawString(caption)
	return g.canvas
}

// Pack writes the current canvas into dst using layout. dst must hold
// exactly types.FrameSize(layout, width, height) bytes.
func (g *Generator) Pack(layout types.PixelLayout, dst []byte) error {
	if need := types.FrameSize(layout, g.width, g.height); len(dst) != need {
		return fmt.Errorf("testpattern: %s frame needs %d bytes, got %d", layout, need, len(dst))
	}

	pix := g.canvas.Pix
	switch layout {
	case types.LayoutRGB24, types.LayoutRawBGR24:
		ri, bi := 0, 2
		if layout == types.LayoutRawBGR24 {
			ri, bi = 2, 0
		}
		for i, j := 0, 0; i < len(pix); i, j = i+4, j+3 {
			dst[j+ri] = pix[i]
			dst[j+1] = pix[i+1]
			dst[j+bi] = pix[i+2]
		}
		return nil

	case types.LayoutYUYV422:
		for i, j := 0, 0; i < len(pix); i, j = i+8, j+4 {
			r0, g0, b0 := int(pix[i]), int(pix[i+1]), int(pix[i+2])
			r1, g1, b1 := int(pix[i+4]), int(pix[i+5]), int(pix[i+6])
			u, v := pixfmt.RGBToUV((r0+r1)/2, (g0+g1)/2, (b0+b1)/2)
			dst[j] = pixfmt.RGBToY(r0, g0, b0)
			dst[j+1] = u
			dst[j+2] = pixfmt.RGBToY(r1, g1, b1)
			dst[j+3] = v
		}
		return nil

	default:
		for i, j := 0, 0; i < len(pix); i, j = i+4, j+3 {
			g.rgb[j], g.rgb[j+1], g.rgb[j+2] = pix[i], pix[i+1], pix[i+2]
		}
		return pixfmt.RGB24ToI420(g.rgb, g.width, g.height, dst)
	}
}

// Frame renders frame n and packs it into dst
func (g *Generator) Frame(layout types.PixelLayout, n uint64, ts time.Time, dst []byte) error {
	g.Render(n, ts)
	return g.Pack(layout, dst)
}
