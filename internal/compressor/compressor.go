package compressor

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"strconv"
	"time"
)

// Decoder turns encoded bytes into a pixel buffer.
type Decoder interface {
	Decode(data []byte, format Format) (image.Image, error)
}

// Resampler produces a new working canvas of the given size from src.
// Implementations must not mutate src.
type Resampler interface {
	Resample(src image.Image, width, height int, format Format) image.Image
}

// Encoder encodes a pixel buffer at the given quality in [0,1].
type Encoder interface {
	Encode(img image.Image, format Format, quality float64) ([]byte, error)
}

// Compressor defines the interface for size-targeted image compression.
type Compressor interface {
	// Compress re-encodes a single image so that it fits opts.TargetSizeKB.
	Compress(ctx context.Context, input []byte, mimeType string, opts CompressionOptions) (*CompressionResult, error)
	// CompressMany runs Compress over inputs one by one, reporting progress after each item.
	CompressMany(ctx context.Context, inputs []Input, opts CompressionOptions, onProgress ProgressFunc) []ItemResult
}

// SourceImage is the decoded input of one run. It is never mutated.
type SourceImage struct {
	Image          image.Image
	Width          int
	Height         int
	OriginalBytes  []byte
	OriginalFormat Format
}

// OriginalSizeKB returns the input size in kilobytes.
func (s *SourceImage) OriginalSizeKB() float64 {
	return bytesToKB(len(s.OriginalBytes))
}

// candidate is the outcome of one encode attempt.
type candidate struct {
	width     int
	height    int
	quality   float64
	data      []byte
	sharpened bool
}

func (c *candidate) sizeKB() float64 {
	return bytesToKB(len(c.data))
}

// Quality is the encoder quality used for a result, or the "original"
// sentinel when the input bytes were returned untouched.
type Quality struct {
	Value    float64
	Original bool
}

// OriginalQuality marks a result that carries the original bytes.
var OriginalQuality = Quality{Original: true}

func (q Quality) String() string {
	if q.Original {
		return "original"
	}
	return strconv.FormatFloat(round2(q.Value), 'f', -1, 64)
}

// MarshalJSON encodes the sentinel as "original" and values as numbers.
func (q Quality) MarshalJSON() ([]byte, error) {
	if q.Original {
		return json.Marshal("original")
	}
	return json.Marshal(round2(q.Value))
}

// UnmarshalJSON accepts the forms produced by MarshalJSON.
func (q *Quality) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "original" {
			return fmt.Errorf("invalid quality %q", s)
		}
		*q = OriginalQuality
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*q = Quality{Value: v}
	return nil
}

// CompressionResult describes the outcome of compressing a single image.
type CompressionResult struct {
	EncodedBytes            []byte        `json:"-"`
	OriginalWidth           int           `json:"original_width"`
	OriginalHeight          int           `json:"original_height"`
	FinalWidth              int           `json:"final_width"`
	FinalHeight             int           `json:"final_height"`
	QualityUsed             Quality       `json:"quality"`
	OutputFormat            Format        `json:"format"`
	OriginalSizeKB          float64       `json:"original_size_kb"`
	CompressedSizeKB        float64       `json:"compressed_size_kb"`
	CompressionRatioPercent float64       `json:"compression_ratio_percent"`
	TargetMet               bool          `json:"target_met"`
	Sharpened               bool          `json:"sharpened"`
	Encodes                 int           `json:"encodes"`
	Duration                time.Duration `json:"duration_ns"`
}

// KeptOriginal reports whether the result carries the input bytes unchanged.
func (r *CompressionResult) KeptOriginal() bool {
	return r.QualityUsed.Original
}

// Skipped reports whether the input was already within target and no
// encode was attempted.
func (r *CompressionResult) Skipped() bool {
	return r.QualityUsed.Original && r.Encodes == 0
}

// Input is one item of a CompressMany call.
type Input struct {
	Name     string
	Data     []byte
	MimeType string
}

// ItemResult is the per-item outcome of CompressMany. Exactly one of
// Result and Err is set.
type ItemResult struct {
	Name   string             `json:"name"`
	Result *CompressionResult `json:"result,omitempty"`
	Err    error              `json:"-"`
}

// Success reports whether the item produced a result.
func (r ItemResult) Success() bool {
	return r.Err == nil && r.Result != nil
}

// ProgressFunc is invoked after each batch item.
type ProgressFunc func(percent float64, completed, total int)

func bytesToKB(n int) float64 {
	return float64(n) / 1024
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
