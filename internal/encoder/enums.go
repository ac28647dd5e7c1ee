package encoder

// RateControlMode selects how the encoder distributes bits across frames
type RateControlMode int

const (
	RateControlQuality RateControlMode = iota
	RateControlBitrate
	RateControlBufferBased
	RateControlTimestamp
	RateControlOff
)

// RateControlModeFromIndex maps a CLI index; unknown indices select quality mode
func RateControlModeFromIndex(i int) RateControlMode {
	switch m := RateControlMode(i); m {
	case RateControlQuality, RateControlBitrate, RateControlBufferBased, RateControlTimestamp, RateControlOff:
		return m
	default:
		return RateControlQuality
	}
}

func (m RateControlMode) String() string {
	switch m {
	case RateControlBitrate:
		return "bitrate"
	case RateControlBufferBased:
		return "buffer-based"
	case RateControlTimestamp:
		return "timestamp"
	case RateControlOff:
		return "off"
	default:
		return "quality"
	}
}

// Complexity trades encoding speed against compression
type Complexity int

const (
	ComplexityLow Complexity = iota
	ComplexityMedium
	ComplexityHigh
)

// ComplexityFromIndex maps a CLI index; unknown indices select low complexity
func ComplexityFromIndex(i int) Complexity {
	switch c := Complexity(i); c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return c
	default:
		return ComplexityLow
	}
}

// SPSPPSStrategy controls how SPS/PPS ids are assigned across IDR frames
type SPSPPSStrategy int

const (
	SPSPPSConstantID SPSPPSStrategy = iota
	SPSPPSIncreasingID
	SPSPPSListing
	SPSPPSListingAndPPSIncreasing
)

// SPSPPSStrategyFromIndex maps a CLI index; unknown indices select constant ids
func SPSPPSStrategyFromIndex(i int) SPSPPSStrategy {
	switch s := SPSPPSStrategy(i); s {
	case SPSPPSConstantID, SPSPPSIncreasingID, SPSPPSListing, SPSPPSListingAndPPSIncreasing:
		return s
	default:
		return SPSPPSConstantID
	}
}

// LoopFilterMode configures the deblocking filter
type LoopFilterMode int

const (
	LoopFilterOn LoopFilterMode = iota
	LoopFilterOff
	LoopFilterOnExceptSliceBoundary
)

// LoopFilterModeFromIndex maps a CLI index; unknown indices enable the filter
func LoopFilterModeFromIndex(i int) LoopFilterMode {
	switch f := LoopFilterMode(i); f {
	case LoopFilterOn, LoopFilterOff, LoopFilterOnExceptSliceBoundary:
		return f
	default:
		return LoopFilterOn
	}
}

// EntropyCoding selects CAVLC or CABAC
type EntropyCoding int

const (
	EntropyCAVLC EntropyCoding = iota
	EntropyCABAC
)

// EntropyCodingFromIndex maps a CLI index; unknown indices select CAVLC
func EntropyCodingFromIndex(i int) EntropyCoding {
	if EntropyCoding(i) == EntropyCABAC {
		return EntropyCABAC
	}
	return EntropyCAVLC
}
