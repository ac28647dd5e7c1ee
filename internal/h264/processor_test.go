package h264

import (
	"bytes"
	"testing"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/pkg/types"
)

var (
	testSPS   = []byte{0, 0, 0, 1, 0x67, 0x42, 0x00, 0x1f}
	testPPS   = []byte{0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}
	testIDR   = []byte{0, 0, 1, 0x65, 0x88, 0x84, 0x00}
	testSlice = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x02}
)

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestProcessMarksIDRAndCachesHeaders(t *testing.T) {
	p := NewProcessor()

	keyframe := &types.Sample{Data: concat(testSPS, testPPS, testIDR)}
	if !p.Process(keyframe) {
		t.Fatal("first headers not reported as changed")
	}
	if !keyframe.IsIDR {
		t.Fatal("IDR sample not marked")
	}
	sps, pps := p.Headers()
	if !bytes.Equal(sps, testSPS) || !bytes.Equal(pps, testPPS) {
		t.Fatalf("cached sps=%x pps=%x", sps, pps)
	}

	repeat := &types.Sample{Data: concat(testSPS, testPPS, testIDR)}
	if p.Process(repeat) {
		t.Fatal("identical headers reported as changed")
	}

	delta := &types.Sample{Data: testSlice}
	p.Process(delta)
	if delta.IsIDR {
		t.Fatal("P slice marked as IDR")
	}
}

func TestPrependHeaders(t *testing.T) {
	p := NewProcessor()
	if got := p.PrependHeaders(testIDR); !bytes.Equal(got, testIDR) {
		t.Fatal("prepended without cached headers")
	}

	p.Process(&types.Sample{Data: concat(testSPS, testPPS, testIDR)})
	if !p.HasHeaders() {
		t.Fatal("headers not cached")
	}

	if got := p.PrependHeaders(testIDR); !bytes.Equal(got, concat(testSPS, testPPS, testIDR)) {
		t.Fatalf("bare IDR: %x", got)
	}
	full := concat(testSPS, testPPS, testIDR)
	if got := p.PrependHeaders(full); !bytes.Equal(got, full) {
		t.Fatal("headers duplicated on a self-contained IDR")
	}
	if got := p.PrependHeaders(testSlice); !bytes.Equal(got, testSlice) {
		t.Fatal("headers prepended to a P slice")
	}
}

func TestParseNALUnits(t *testing.T) {
	units := ParseNALUnits(concat(testSPS, testPPS, testIDR, testSlice))
	want := []uint8{types.NALTypeSPS, types.NALTypePPS, types.NALTypeIDR, types.NALTypeSlice}
	if len(units) != len(want) {
		t.Fatalf("got %d units, want %d", len(units), len(want))
	}
	for i, u := range units {
		if u.Type != want[i] {
			t.Errorf("unit %d type = %d, want %d", i, u.Type, want[i])
		}
	}
	if !bytes.Equal(units[2].Data, testIDR) {
		t.Errorf("IDR unit = %x", units[2].Data)
	}
	if ParseNALUnits(nil) != nil {
		t.Error("empty input produced units")
	}
}

func TestExtractNALType(t *testing.T) {
	tests := []struct {
		data []byte
		want uint8
	}{
		{testSPS, types.NALTypeSPS},
		{testIDR, types.NALTypeIDR},
		{[]byte{0, 0, 1}, 0},
		{[]byte{0x65}, 0},
	}
	for _, tt := range tests {
		if got := ExtractNALType(tt.data); got != tt.want {
			t.Errorf("ExtractNALType(%x) = %d, want %d", tt.data, got, tt.want)
		}
	}
}
