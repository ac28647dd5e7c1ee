package h264

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
)

var (
	// ErrOverflow means the encoder produced more bytes than the bitstream
	// buffer can hold. The buffer is sized for the worst case, so this is a bug.
	ErrOverflow = errors.New("h264: assembled bitstream exceeds buffer capacity")

	// ErrShortLayer means a layer reports more NAL bytes than its fragment holds.
	ErrShortLayer = errors.New("h264: layer fragment shorter than its NAL lengths")
)

// Assemble concatenates the NAL units of every layer, in layer order and NAL
// order within each layer, into dst[:cap(dst)]. It returns the assembled
// length; zero layers assemble to length 0.
//
// dst is never grown. Output that would not fit yields ErrOverflow and
// nothing should be published for the frame.
func Assemble(dst []byte, layers []encoder.Layer) (int, error) {
	dst = dst[:cap(dst)]
	n := 0
	for i, layer := range layers {
		size := 0
		for _, l := range layer.NALLengths {
			if l < 0 {
				return 0, fmt.Errorf("layer %d: negative NAL length %d: %w", i, l, ErrShortLayer)
			}
			size += l
		}
		if size > len(layer.Bitstream) {
			return 0, fmt.Errorf("layer %d: %d NAL bytes, fragment %d: %w",
				i, size, len(layer.Bitstream), ErrShortLayer)
		}
		if n+size > len(dst) {
			return 0, fmt.Errorf("layer %d: need %d bytes, capacity %d: %w",
				i, n+size, len(dst), ErrOverflow)
		}
		n += copy(dst[n:], layer.Bitstream[:size])
	}
	return n, nil
}
