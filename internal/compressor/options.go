package compressor

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// EscalationMode selects what each escalation step does.
type EscalationMode int

const (
	// EscalateSearch re-runs the quality bisection at every step.
	EscalateSearch EscalationMode = iota
	// EscalateProbe encodes once per step at FallbackQuality.
	EscalateProbe
)

func (m EscalationMode) String() string {
	switch m {
	case EscalateSearch:
		return "search"
	case EscalateProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// ParseEscalationMode parses "search" or "probe".
func ParseEscalationMode(s string) (EscalationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "search":
		return EscalateSearch, nil
	case "probe":
		return EscalateProbe, nil
	default:
		return 0, fmt.Errorf("unknown escalation mode %q (valid: search, probe)", s)
	}
}

const (
	DefaultTargetSizeKB     = 50
	DefaultMaxDimension     = 4096
	DefaultMinQuality       = 0.1
	DefaultMaxQuality       = 0.92
	DefaultQualityTolerance = 0.1
	DefaultMaxIterations    = 12
	DefaultFallbackQuality  = 0.5

	maxIterationsLimit = 32
)

// DefaultEscalationSteps are the scale factors tried, relative to the
// original dimensions, when the primary search misses the target.
var DefaultEscalationSteps = []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3}

// CompressionOptions configures one compression run. Values are passed
// per call and never shared mutably between runs.
type CompressionOptions struct {
	TargetSizeKB     float64
	MaxWidth         int
	MaxHeight        int
	MinQuality       float64
	MaxQuality       float64
	QualityTolerance float64
	OutputFormat     FormatPolicy
	MaxIterations    int
	Escalation       EscalationMode
	EscalationSteps  []float64
	FallbackQuality  float64
	Sharpen          bool
}

// Option mutates CompressionOptions during construction.
type Option func(*CompressionOptions)

// DefaultCompressionOptions returns options with default values.
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		TargetSizeKB:     DefaultTargetSizeKB,
		MaxWidth:         DefaultMaxDimension,
		MaxHeight:        DefaultMaxDimension,
		MinQuality:       DefaultMinQuality,
		MaxQuality:       DefaultMaxQuality,
		QualityTolerance: DefaultQualityTolerance,
		OutputFormat:     AutoFormat(),
		MaxIterations:    DefaultMaxIterations,
		Escalation:       EscalateSearch,
		EscalationSteps:  append([]float64(nil), DefaultEscalationSteps...),
		FallbackQuality:  DefaultFallbackQuality,
		Sharpen:          true,
	}
}

// NewCompressionOptions applies opts over the defaults and validates the
// result.
func NewCompressionOptions(opts ...Option) (CompressionOptions, error) {
	o := DefaultCompressionOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return CompressionOptions{}, err
	}
	return o, nil
}

func WithTargetSizeKB(kb float64) Option {
	return func(o *CompressionOptions) { o.TargetSizeKB = kb }
}

func WithMaxDimensions(width, height int) Option {
	return func(o *CompressionOptions) {
		o.MaxWidth = width
		o.MaxHeight = height
	}
}

func WithQualityRange(lo, hi float64) Option {
	return func(o *CompressionOptions) {
		o.MinQuality = lo
		o.MaxQuality = hi
	}
}

func WithQualityTolerance(tolerance float64) Option {
	return func(o *CompressionOptions) { o.QualityTolerance = tolerance }
}

func WithOutputFormat(p FormatPolicy) Option {
	return func(o *CompressionOptions) { o.OutputFormat = p }
}

func WithMaxIterations(n int) Option {
	return func(o *CompressionOptions) { o.MaxIterations = n }
}

func WithEscalation(mode EscalationMode) Option {
	return func(o *CompressionOptions) { o.Escalation = mode }
}

func WithEscalationSteps(steps ...float64) Option {
	return func(o *CompressionOptions) { o.EscalationSteps = append([]float64(nil), steps...) }
}

func WithFallbackQuality(q float64) Option {
	return func(o *CompressionOptions) { o.FallbackQuality = q }
}

func WithSharpen(enabled bool) Option {
	return func(o *CompressionOptions) { o.Sharpen = enabled }
}

// Validate checks every field and returns a *ConfigError for the first
// violation.
func (o CompressionOptions) Validate() error {
	if !(o.TargetSizeKB > 0) || math.IsInf(o.TargetSizeKB, 0) {
		return NewConfigError("target_size_kb", o.TargetSizeKB, errors.New("must be a positive number"))
	}
	if o.MaxWidth <= 0 {
		return NewConfigError("max_width", o.MaxWidth, errors.New("must be positive"))
	}
	if o.MaxHeight <= 0 {
		return NewConfigError("max_height", o.MaxHeight, errors.New("must be positive"))
	}
	if !inUnitRange(o.MinQuality) {
		return NewConfigError("min_quality", o.MinQuality, errors.New("must be within [0,1]"))
	}
	if !inUnitRange(o.MaxQuality) {
		return NewConfigError("max_quality", o.MaxQuality, errors.New("must be within [0,1]"))
	}
	if o.MinQuality >= o.MaxQuality {
		return NewConfigError("min_quality", o.MinQuality,
			fmt.Errorf("must be lower than max_quality (%v)", o.MaxQuality))
	}
	if !(o.QualityTolerance >= 0 && o.QualityTolerance < 1) {
		return NewConfigError("quality_tolerance", o.QualityTolerance, errors.New("must be within [0,1)"))
	}
	if f := o.OutputFormat.Fixed(); f != "" && !f.Encodable() {
		return NewConfigError("output_format", f, ErrUnsupportedFormat)
	}
	if o.MaxIterations < 1 || o.MaxIterations > maxIterationsLimit {
		return NewConfigError("max_iterations", o.MaxIterations,
			fmt.Errorf("must be within [1,%d]", maxIterationsLimit))
	}
	if o.Escalation != EscalateSearch && o.Escalation != EscalateProbe {
		return NewConfigError("escalation", o.Escalation, errors.New("must be search or probe"))
	}
	if len(o.EscalationSteps) == 0 {
		return NewConfigError("escalation_steps", o.EscalationSteps, errors.New("must not be empty"))
	}
	prev := 1.0
	for _, s := range o.EscalationSteps {
		if !(s > 0 && s < prev) {
			return NewConfigError("escalation_steps", o.EscalationSteps,
				errors.New("must be strictly descending values within (0,1)"))
		}
		prev = s
	}
	if !inUnitRange(o.FallbackQuality) {
		return NewConfigError("fallback_quality", o.FallbackQuality, errors.New("must be within [0,1]"))
	}
	return nil
}

// TargetBytes returns the target size in bytes.
func (o CompressionOptions) TargetBytes() float64 {
	return o.TargetSizeKB * 1024
}

// fallbackQuality clamps FallbackQuality into the configured bracket.
func (o CompressionOptions) fallbackQuality() float64 {
	return math.Min(math.Max(o.FallbackQuality, o.MinQuality), o.MaxQuality)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
