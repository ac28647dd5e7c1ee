package h264

import (
	"bytes"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

// NAL unit start codes
var (
	startCode3 = []byte{0x00, 0x00, 0x01}
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// Processor inspects assembled Annex-B samples on their way to the bus and
// keeps the most recent SPS/PPS for sinks that join mid-stream.
type Processor struct {
	mu       sync.RWMutex
	spsCache []byte // Cached SPS NAL unit, with start code
	ppsCache []byte // Cached PPS NAL unit, with start code
}

// NewProcessor creates a new H.264 processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Process marks IDR samples and refreshes the header cache.
// It reports whether the sample carried a new SPS or PPS.
// Only SPS/PPS are copied; slice data is never duplicated.
func (p *Processor) Process(sample *types.Sample) (headersChanged bool) {
	forEachNAL(sample.Data, func(nalType uint8, nal []byte) {
		switch nalType {
		case types.NALTypeSPS:
			headersChanged = p.store(&p.spsCache, nal) || headersChanged
		case types.NALTypePPS:
			headersChanged = p.store(&p.ppsCache, nal) || headersChanged
		case types.NALTypeIDR:
			sample.IsIDR = true
		}
	})
	return headersChanged
}

func (p *Processor) store(dst *[]byte, nal []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bytes.Equal(*dst, nal) {
		return false
	}
	*dst = append([]byte(nil), nal...)
	return true
}

// PrependHeaders returns data with the cached SPS/PPS in front when data is
// an IDR access unit that does not already start with an SPS. Anything else
// is returned unchanged.
func (p *Processor) PrependHeaders(data []byte) []byte {
	sps, pps := p.Headers()
	if sps == nil || pps == nil {
		return data
	}

	hasIDR, hasSPS := false, false
	forEachNAL(data, func(nalType uint8, _ []byte) {
		switch nalType {
		case types.NALTypeIDR:
			hasIDR = true
		case types.NALTypeSPS:
			hasSPS = true
		}
	})
	if !hasIDR || hasSPS {
		return data
	}

	result := make([]byte, 0, len(sps)+len(pps)+len(data))
	result = append(result, sps...)
	result = append(result, pps...)
	return append(result, data...)
}

// HasHeaders returns true if both SPS and PPS are cached
func (p *Processor) HasHeaders() bool {
	sps, pps := p.Headers()
	return sps != nil && pps != nil
}

// Headers returns the cached SPS and PPS, either of which may be nil.
// The returned slices must not be modified.
func (p *Processor) Headers() (sps, pps []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spsCache, p.ppsCache
}

// ParseNALUnits splits an Annex-B stream into NAL units. Each unit keeps its
// start code and aliases data.
func ParseNALUnits(data []byte) []types.NALUnit {
	var units []types.NALUnit
	forEachNAL(data, func(nalType uint8, nal []byte) {
		units = append(units, types.NALUnit{Type: nalType, Data: nal})
	})
	return units
}

// forEachNAL calls fn for every NAL unit in data, start code included
func forEachNAL(data []byte, fn func(nalType uint8, nal []byte)) {
	offset := 0
	for offset < len(data) {
		startCodeLen := startCodeAt(data, offset)
		if startCodeLen == 0 {
			offset++
			continue
		}

		nalHeaderOffset := offset + startCodeLen
		if nalHeaderOffset >= len(data) {
			return
		}

		nalEnd := findNextStartCode(data, nalHeaderOffset+1)
		if nalEnd == -1 {
			nalEnd = len(data)
		}

		fn(data[nalHeaderOffset]&0x1F, data[offset:nalEnd])
		offset = nalEnd
	}
}

func startCodeAt(data []byte, offset int) int {
	if bytes.HasPrefix(data[offset:], startCode4) {
		return 4
	}
	if bytes.HasPrefix(data[offset:], startCode3) {
		return 3
	}
	return 0
}

// findNextStartCode finds the next start code position
func findNextStartCode(data []byte, offset int) int {
	for i := offset; i < len(data)-2; i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 {
			if data[i+2] == 0x01 {
				return i // Found 0x000001
			}
			if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
				return i // Found 0x00000001
			}
		}
	}
	return -1
}

// ExtractNALType extracts the type of the first NAL unit in data
func ExtractNALType(data []byte) uint8 {
	switch startCodeAt(data, 0) {
	case 4:
		if len(data) > 4 {
			return data[4] & 0x1F
		}
	case 3:
		if len(data) > 3 {
			return data[3] & 0x1F
		}
	}
	return 0
}
