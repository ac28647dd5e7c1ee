package types

import "time"

// PixelLayout identifies the byte layout of a raw frame in shared memory
type PixelLayout int

const (
	LayoutYUV420Planar PixelLayout = iota // I420: Y plane, then U, then V
	LayoutRawBGR24                        // Packed B,G,R
	LayoutRGB24                           // Packed R,G,B
	LayoutYUYV422                         // Packed Y0,U,Y1,V
)

var layoutNames = map[PixelLayout]string{
	LayoutYUV420Planar: "yuv420",
	LayoutRawBGR24:     "bgr24",
	LayoutRGB24:        "rgb24",
	LayoutYUYV422:      "yuyv422",
}

// String returns the CLI name of the layout
func (l PixelLayout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParsePixelLayout parses a layout name as used on the command line
func ParsePixelLayout(s string) (PixelLayout, bool) {
	for layout, name := range layoutNames {
		if name == s {
			return layout, true
		}
	}
	return LayoutYUV420Planar, false
}

// FrameSize returns the number of bytes one frame occupies in the given layout
func FrameSize(layout PixelLayout, width, height int) int {
	switch layout {
	case LayoutRawBGR24, LayoutRGB24:
		return width * height * 3
	case LayoutYUYV422:
		return width * height * 2
	default:
		return width * height * 3 / 2
	}
}

// FrameDescriptor is a borrowed view of a raw frame.
// Data is only valid while the source lock is held.
type FrameDescriptor struct {
	Width  int
	Height int
	Layout PixelLayout
	Data   []byte
	Size   int
}

// Sample is one compressed frame as handed to the bus and local sinks
type Sample struct {
	Format    string    // Always "h264"
	Width     int       // Frame width
	Height    int       // Frame height
	Data      []byte    // Annex-B NAL stream
	Timestamp time.Time // Capture timestamp recovered from the source
	SenderID  uint32    // Sender stamp distinguishing encoder instances
	FrameNum  uint64    // Sequential published frame number
	IsIDR     bool      // True if this sample contains an IDR slice
}

// NALUnit represents a single H.264 NAL unit
type NALUnit struct {
	Type uint8  // NAL unit type (lower 5 bits)
	Data []byte // Complete NAL unit including start code
}

// NALUnitType constants
const (
	NALTypeSlice     uint8 = 1
	NALTypeIDR       uint8 = 5
	NALTypeSEI       uint8 = 6
	NALTypeSPS       uint8 = 7
	NALTypePPS       uint8 = 8
	NALTypeAUD       uint8 = 9
	NALTypeEndSeq    uint8 = 10
	NALTypeEndStream uint8 = 11
	NALTypeFiller    uint8 = 12
	NALTypePrefix    uint8 = 14
)
