// Package openh264 drives Cisco's libopenh264 encoder as an encoder.Engine.
package openh264

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/encoder"
)

// Values of the codec_app_def.h enums the encoder parameters use
const (
	usageCameraVideoRealTime = 0

	rcQualityMode     = 0
	rcBitrateMode     = 1
	rcBufferBasedMode = 2
	rcTimestampMode   = 3
	rcOffMode         = -1

	lowComplexity    = 0
	mediumComplexity = 1
	highComplexity   = 2

	constantID                 = 0x00
	increasingID               = 0x01
	spsListing                 = 0x02
	spsListingAndPPSIncreasing = 0x03

	autoRefPicCount = -1

	sliceModeSizeLimited = 3

	logLevelQuiet = 0
	logLevelInfo  = 1 << 3
)

// params is the flat subset of SEncParamExt the engine sets
type params struct {
	UsageType    int
	Width        int
	Height       int
	MaxFrameRate float32

	TargetBitrate int
	MaxBitrate    int
	RCMode        int
	IntraPeriod   int

	NumRefFrame    int
	SPSPPSStrategy int
	Complexity     int

	PrefixNAL     bool
	SSEI          bool
	Padding       int
	EntropyCoding int
	FrameSkip     bool

	MaxQP int
	MinQP int

	LongTermRef   bool
	LTRMarkPeriod int
	Threads       int

	LoopFilterDisableIdc int

	Denoise             bool
	BackgroundDetection bool
	AdaptiveQuant       bool
	FrameCropping       bool
	SceneChangeDetect   bool

	SpatialLayers  int
	TemporalLayers int
	SliceMode      int
	SliceNum       int

	TraceLevel int
}

func rcMode(m encoder.RateControlMode) int {
	switch m {
	case encoder.RateControlBitrate:
		return rcBitrateMode
	case encoder.RateControlBufferBased:
		return rcBufferBasedMode
	case encoder.RateControlTimestamp:
		return rcTimestampMode
	case encoder.RateControlOff:
		return rcOffMode
	default:
		return rcQualityMode
	}
}

func complexityMode(c encoder.Complexity) int {
	switch c {
	case encoder.ComplexityMedium:
		return mediumComplexity
	case encoder.ComplexityHigh:
		return highComplexity
	default:
		return lowComplexity
	}
}

func spsPPSStrategy(s encoder.SPSPPSStrategy) int {
	switch s {
	case encoder.SPSPPSIncreasingID:
		return increasingID
	case encoder.SPSPPSListing:
		return spsListing
	case encoder.SPSPPSListingAndPPSIncreasing:
		return spsListingAndPPSIncreasing
	default:
		return constantID
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// paramsFor maps a built Config onto encoder parameters: real-time camera
// usage, one spatial and one temporal layer, one size-limited slice.
func paramsFor(cfg *encoder.Config, verbose bool) params {
	p := params{
		UsageType:    usageCameraVideoRealTime,
		Width:        cfg.Width,
		Height:       cfg.Height,
		MaxFrameRate: cfg.FrameRate,

		TargetBitrate: cfg.Bitrate,
		MaxBitrate:    cfg.MaxBitrate,
		RCMode:        rcMode(cfg.RateControl),
		IntraPeriod:   cfg.GOP,

		NumRefFrame:    cfg.NumRefFrames,
		SPSPPSStrategy: spsPPSStrategy(cfg.SPSPPS),
		Complexity:     complexityMode(cfg.Complexity),

		PrefixNAL:     cfg.PrefixNAL,
		SSEI:          cfg.SSEI,
		Padding:       boolInt(cfg.Padding),
		EntropyCoding: int(cfg.Entropy),
		FrameSkip:     cfg.FrameSkip,

		MaxQP: cfg.QPMax,
		MinQP: cfg.QPMin,

		LongTermRef:   cfg.LongTermRef,
		LTRMarkPeriod: cfg.LTRMarkPeriod,
		Threads:       cfg.Threads,

		LoopFilterDisableIdc: int(cfg.LoopFilter),

		Denoise:             cfg.Denoise,
		BackgroundDetection: cfg.BackgroundDetection,
		AdaptiveQuant:       cfg.AdaptiveQuant,
		FrameCropping:       cfg.FrameCropping,
		SceneChangeDetect:   cfg.SceneChangeDetect,

		SpatialLayers:  1,
		TemporalLayers: 1,
		SliceMode:      sliceModeSizeLimited,
		SliceNum:       1,

		TraceLevel: logLevelQuiet,
	}
	if cfg.NumRefFrames == 0 {
		p.NumRefFrame = autoRefPicCount
	}
	if verbose {
		p.TraceLevel = logLevelInfo
	}
	return p
}
