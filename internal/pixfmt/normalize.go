package pixfmt

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

// ErrSizeMismatch is returned when an I420 input is not exactly width*height*3/2 bytes
var ErrSizeMismatch = errors.New("pixfmt: size mismatch")

// Planar is an I420 picture: Y (stride width), then U and V (stride width/2),
// stored back to back in Data.
type Planar struct {
	Width  int
	Height int
	Data   []byte
}

// PlanarSize returns the byte size of an I420 picture
func PlanarSize(width, height int) int {
	return width * height * 3 / 2
}

func planes(buf []byte, width, height int) (y, u, v []byte) {
	luma := width * height
	chroma := luma / 4
	return buf[:luma], buf[luma : luma+chroma], buf[luma+chroma : luma+2*chroma]
}

// Y returns the luma plane
func (p *Planar) Y() []byte { y, _, _ := planes(p.Data, p.Width, p.Height); return y }

// U returns the Cb plane
func (p *Planar) U() []byte { _, u, _ := planes(p.Data, p.Width, p.Height); return u }

// V returns the Cr plane
func (p *Planar) V() []byte { _, _, v := planes(p.Data, p.Width, p.Height); return v }

// Strides returns the Y, U and V row strides
func (p *Planar) Strides() (int, int, int) {
	return p.Width, p.Width / 2, p.Width / 2
}

// Normalize turns a raw frame into an I420 picture.
//
// An I420 input is aliased, not copied, so the result shares raw's lifetime.
// Other layouts are converted into scratch, which must hold PlanarSize bytes.
func Normalize(layout types.PixelLayout, raw []byte, width, height int, scratch []byte) (*Planar, error) {
	if layout == types.LayoutYUV420Planar {
		if len(raw) != PlanarSize(width, height) {
			return nil, fmt.Errorf("%w: got %d bytes for %dx%d, want %d",
				ErrSizeMismatch, len(raw), width, height, PlanarSize(width, height))
		}
		return &Planar{Width: width, Height: height, Data: raw}, nil
	}

	var err error
	switch layout {
	case types.LayoutRawBGR24:
		err = BGR24ToI420(raw, width, height, scratch)
	case types.LayoutRGB24:
		err = RGB24ToI420(raw, width, height, scratch)
	case types.LayoutYUYV422:
		err = YUYV422ToI420(raw, width, height, scratch)
	default:
		err = fmt.Errorf("%w: unsupported layout %s", ErrConversionFailed, layout)
	}
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", layout, err)
	}

	return &Planar{Width: width, Height: height, Data: scratch[:PlanarSize(width, height)]}, nil
}
