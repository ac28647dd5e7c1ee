package encoder

import (
	"fmt"
	"strconv"
	"strings"
)

// Option names, shared by the command line and the YAML config file
const (
	OptWidth               = "width"
	OptHeight              = "height"
	OptGOP                 = "gop"
	OptBitrate             = "bitrate"
	OptBitrateMax          = "bitrate-max"
	OptRCMode              = "rc-mode"
	OptComplexity          = "ecomplexity"
	OptSPSPPS              = "sps-pps"
	OptNumRefFrame         = "num-ref-frame"
	OptSSEI                = "ssei"
	OptPrefixNAL           = "prefix-nal"
	OptEntropyCoding       = "entropy-coding"
	OptFrameSkip           = "frame-skip"
	OptQPMax               = "qp-max"
	OptQPMin               = "qp-min"
	OptLongTermRef         = "long-term-ref"
	OptLTRMarkPeriod       = "ltr-mark-period"
	OptLoopFilter          = "loop-filter"
	OptDenoise             = "denoise"
	OptBackgroundDetection = "background-detection"
	OptAdaptiveQuant       = "adaptive-quant"
	OptFrameCropping       = "frame-cropping"
	OptSceneChangeDetect   = "scene-change-detect"
	OptThreads             = "threads"
	OptPadding             = "padding"
)

// Options holds raw, unparsed tuning values keyed by option name.
// Missing keys take their default.
type Options map[string]string

// Limits are the fixed bounds and defaults the builder applies.
// Construct once with DefaultLimits and pass by pointer.
type Limits struct {
	BitrateMin     int
	BitrateDefault int
	BitrateMax     int

	GOPDefault int

	QPLowest     int
	QPHighest    int
	QPMinDefault int
	QPMaxDefault int

	ThreadsDefault int
	ThreadsMax     int

	NumRefDefault int
	NumRefMax     int

	LTRMarkPeriodDefault int
	LTRMarkPeriodMax     int

	// FrameRate is a nominal hint; real pacing comes from the frame source.
	FrameRate float32
}

// DefaultLimits returns the limits of the stock encoder
func DefaultLimits() Limits {
	return Limits{
		BitrateMin:           100000,
		BitrateDefault:       1500000,
		BitrateMax:           5000000,
		GOPDefault:           10,
		QPLowest:             0,
		QPHighest:            51,
		QPMinDefault:         12,
		QPMaxDefault:         42,
		ThreadsDefault:       1,
		ThreadsMax:           4,
		NumRefDefault:        1,
		NumRefMax:            16,
		LTRMarkPeriodDefault: 30,
		LTRMarkPeriodMax:     65535,
		FrameRate:            20,
	}
}

// Config is the complete, validated encoder parameter set
type Config struct {
	Width     int
	Height    int
	FrameRate float32

	GOP         int
	Bitrate     int
	MaxBitrate  int
	RateControl RateControlMode
	Complexity  Complexity
	SPSPPS      SPSPPSStrategy

	NumRefFrames  int // 0 selects the encoder's automatic count
	LongTermRef   bool
	LTRMarkPeriod int

	LoopFilter LoopFilterMode
	Entropy    EntropyCoding

	Denoise             bool
	BackgroundDetection bool
	AdaptiveQuant       bool
	FrameCropping       bool
	SceneChangeDetect   bool
	FrameSkip           bool

	Threads int // 0 = auto
	QPMin   int
	QPMax   int

	Padding   bool
	SSEI      bool
	PrefixNAL bool
}

// QPInverted reports whether the QP floor lies above the ceiling.
// Build passes such bounds through unchanged.
func (c *Config) QPInverted() bool {
	return c.QPMin > c.QPMax
}

// ConfigError reports an option that could not be turned into a value
type ConfigError struct {
	Option string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("encoder option --%s: %s", e.Option, e.Reason)
	}
	return fmt.Sprintf("encoder option --%s=%q: %s", e.Option, e.Value, e.Reason)
}

// option describes how one raw value is defaulted, bounded and stored
type option struct {
	name  string
	def   func(*Limits) int
	min   func(*Limits) int
	max   func(*Limits) int // nil = unbounded above
	apply func(*Config, int)
}

func constant(v int) func(*Limits) int { return func(*Limits) int { return v } }

func toggle(name string, def int, apply func(*Config, bool)) option {
	return option{
		name:  name,
		def:   constant(def),
		min:   constant(0),
		max:   constant(1),
		apply: func(c *Config, v int) { apply(c, v == 1) },
	}
}

var options = []option{
	{
		name:  OptGOP,
		def:   func(l *Limits) int { return l.GOPDefault },
		min:   constant(0),
		apply: func(c *Config, v int) { c.GOP = v },
	},
	{
		name:  OptBitrate,
		def:   func(l *Limits) int { return l.BitrateDefault },
		min:   func(l *Limits) int { return l.BitrateMin },
		max:   func(l *Limits) int { return l.BitrateMax },
		apply: func(c *Config, v int) { c.Bitrate = v },
	},
	{
		name:  OptBitrateMax,
		def:   func(l *Limits) int { return l.BitrateMax },
		min:   func(l *Limits) int { return l.BitrateMin },
		max:   func(l *Limits) int { return l.BitrateMax },
		apply: func(c *Config, v int) { c.MaxBitrate = v },
	},
	{
		name:  OptRCMode,
		def:   constant(int(RateControlQuality)),
		min:   constant(0),
		max:   constant(int(RateControlOff)),
		apply: func(c *Config, v int) { c.RateControl = RateControlModeFromIndex(v) },
	},
	{
		name:  OptComplexity,
		def:   constant(int(ComplexityLow)),
		min:   constant(0),
		max:   constant(int(ComplexityHigh)),
		apply: func(c *Config, v int) { c.Complexity = ComplexityFromIndex(v) },
	},
	{
		name:  OptSPSPPS,
		def:   constant(int(SPSPPSConstantID)),
		min:   constant(0),
		max:   constant(int(SPSPPSListingAndPPSIncreasing)),
		apply: func(c *Config, v int) { c.SPSPPS = SPSPPSStrategyFromIndex(v) },
	},
	{
		name:  OptNumRefFrame,
		def:   func(l *Limits) int { return l.NumRefDefault },
		min:   constant(0),
		max:   func(l *Limits) int { return l.NumRefMax },
		apply: func(c *Config, v int) { c.NumRefFrames = v },
	},
	{
		name:  OptLTRMarkPeriod,
		def:   func(l *Limits) int { return l.LTRMarkPeriodDefault },
		min:   constant(1),
		max:   func(l *Limits) int { return l.LTRMarkPeriodMax },
		apply: func(c *Config, v int) { c.LTRMarkPeriod = v },
	},
	{
		name:  OptLoopFilter,
		def:   constant(int(LoopFilterOn)),
		min:   constant(0),
		max:   constant(int(LoopFilterOnExceptSliceBoundary)),
		apply: func(c *Config, v int) { c.LoopFilter = LoopFilterModeFromIndex(v) },
	},
	{
		name:  OptEntropyCoding,
		def:   constant(int(EntropyCAVLC)),
		min:   constant(0),
		max:   constant(int(EntropyCABAC)),
		apply: func(c *Config, v int) { c.Entropy = EntropyCodingFromIndex(v) },
	},
	{
		name:  OptThreads,
		def:   func(l *Limits) int { return l.ThreadsDefault },
		min:   constant(0),
		max:   func(l *Limits) int { return l.ThreadsMax },
		apply: func(c *Config, v int) { c.Threads = v },
	},
	{
		name:  OptQPMax,
		def:   func(l *Limits) int { return l.QPMaxDefault },
		min:   func(l *Limits) int { return l.QPLowest },
		max:   func(l *Limits) int { return l.QPHighest },
		apply: func(c *Config, v int) { c.QPMax = v },
	},
	{
		name:  OptQPMin,
		def:   func(l *Limits) int { return l.QPMinDefault },
		min:   func(l *Limits) int { return l.QPLowest },
		max:   func(l *Limits) int { return l.QPHighest },
		apply: func(c *Config, v int) { c.QPMin = v },
	},
	toggle(OptSSEI, 0, func(c *Config, b bool) { c.SSEI = b }),
	toggle(OptPrefixNAL, 0, func(c *Config, b bool) { c.PrefixNAL = b }),
	toggle(OptFrameSkip, 1, func(c *Config, b bool) { c.FrameSkip = b }),
	toggle(OptLongTermRef, 0, func(c *Config, b bool) { c.LongTermRef = b }),
	toggle(OptDenoise, 0, func(c *Config, b bool) { c.Denoise = b }),
	toggle(OptBackgroundDetection, 1, func(c *Config, b bool) { c.BackgroundDetection = b }),
	toggle(OptAdaptiveQuant, 1, func(c *Config, b bool) { c.AdaptiveQuant = b }),
	toggle(OptFrameCropping, 1, func(c *Config, b bool) { c.FrameCropping = b }),
	toggle(OptSceneChangeDetect, 1, func(c *Config, b bool) { c.SceneChangeDetect = b }),
	toggle(OptPadding, 0, func(c *Config, b bool) { c.Padding = b }),
}

// TuningOptions returns the names of every option Build understands besides
// width and height, in a stable order.
func TuningOptions() []string {
	names := make([]string, len(options))
	for i, o := range options {
		names[i] = o.name
	}
	return names
}

// Build maps raw options onto a Config.
//
// Out-of-range values are clamped, never rejected. Width and height are
// required and must be positive. Any value that is not an integer yields a
// *ConfigError. Build has no side effects.
func Build(limits *Limits, opts Options) (Config, error) {
	cfg := Config{FrameRate: limits.FrameRate}

	for _, dim := range []struct {
		name string
		dst  *int
	}{{OptWidth, &cfg.Width}, {OptHeight, &cfg.Height}} {
		raw, ok := opts[dim.name]
		if !ok || strings.TrimSpace(raw) == "" {
			return Config{}, &ConfigError{Option: dim.name, Reason: "required"}
		}
		v, err := parseInt(dim.name, raw)
		if err != nil {
			return Config{}, err
		}
		if v <= 0 {
			return Config{}, &ConfigError{Option: dim.name, Value: raw, Reason: "must be positive"}
		}
		if v > maxDimension {
			return Config{}, &ConfigError{Option: dim.name, Value: raw, Reason: "out of range"}
		}
		*dim.dst = int(v)
	}

	for _, o := range options {
		v := o.def(limits)
		if raw, ok := opts[o.name]; ok && strings.TrimSpace(raw) != "" {
			parsed, err := parseInt(o.name, raw)
			if err != nil {
				return Config{}, err
			}
			v = clamp(parsed, o.min(limits), o.max, limits)
		}
		o.apply(&cfg, v)
	}

	return cfg, nil
}

func parseInt(name, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			// Saturate; clamping brings it back into range.
			return v, nil
		}
		return 0, &ConfigError{Option: name, Value: raw, Reason: "not an integer"}
	}
	return v, nil
}

func clamp(v int64, lo int, hi func(*Limits) int, limits *Limits) int {
	if v < int64(lo) {
		return lo
	}
	if hi != nil && v > int64(hi(limits)) {
		return hi(limits)
	}
	if v > int64(maxInt32) {
		return maxInt32
	}
	return int(v)
}

const (
	maxInt32     = 1<<31 - 1
	maxDimension = 1 << 16
)
