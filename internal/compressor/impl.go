package compressor

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"photo-shrink-go/internal/metrics"

	"github.com/sirupsen/logrus"
)

// DefaultCompressor is the default implementation of the Compressor
// interface. It holds only immutable collaborators, so concurrent
// Compress calls are safe as long as the collaborators are.
type DefaultCompressor struct {
	decoder   Decoder
	resampler Resampler
	encoder   Encoder
	logger    *logrus.Logger
}

// NewDefaultCompressor creates a new DefaultCompressor. A nil logger
// discards output.
func NewDefaultCompressor(decoder Decoder, resampler Resampler, encoder Encoder, logger *logrus.Logger) *DefaultCompressor {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &DefaultCompressor{
		decoder:   decoder,
		resampler: resampler,
		encoder:   encoder,
		logger:    logger,
	}
}

// Compress re-encodes input so that it fits opts.TargetSizeKB, never
// returning more bytes than the input.
func (c *DefaultCompressor) Compress(ctx context.Context, input []byte, mimeType string, opts CompressionOptions) (*CompressionResult, error) {
	start := time.Now()

	if err := opts.Validate(); err != nil {
		metrics.RunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := c.decode(input, mimeType)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	log := c.logger.WithFields(logrus.Fields{
		"operation":   "compress",
		"format":      src.OriginalFormat,
		"width":       src.Width,
		"height":      src.Height,
		"original_kb": round2(src.OriginalSizeKB()),
		"target_kb":   opts.TargetSizeKB,
	})

	if src.OriginalSizeKB() <= opts.TargetSizeKB {
		log.Debug("Input already within target, keeping original")
		return c.keepOriginal(src, opts, 0, start, metrics.OutcomeSkipped), nil
	}

	r := &run{
		compressor: c,
		src:        src,
		opts:       opts,
		format:     opts.OutputFormat.Resolve(src.OriginalFormat),
		log:        log,
	}

	width, height := ScaleDimensions(src.Width, src.Height, src.OriginalSizeKB(), opts.TargetSizeKB, opts.MaxWidth, opts.MaxHeight)
	log.WithFields(logrus.Fields{
		"output_format": r.format,
		"work_width":    width,
		"work_height":   height,
	}).Debug("Selected working dimensions")

	best, err := r.searchQuality(width, height)
	if err != nil {
		log.WithError(err).Warn("Primary search failed, escalating")
	}

	if best == nil || float64(len(best.data)) > opts.TargetBytes() {
		best, err = r.escalate(width, height)
		if err != nil {
			metrics.RunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, err
		}
	}

	if len(best.data) >= len(src.OriginalBytes) {
		log.WithField("candidate_kb", round2(best.sizeKB())).
			Info("Compressed candidate not smaller than original, keeping original")
		return c.keepOriginal(src, opts, r.encodes, start, metrics.OutcomeOriginal), nil
	}

	res := &CompressionResult{
		EncodedBytes:            best.data,
		OriginalWidth:           src.Width,
		OriginalHeight:          src.Height,
		FinalWidth:              best.width,
		FinalHeight:             best.height,
		QualityUsed:             Quality{Value: best.quality},
		OutputFormat:            r.format,
		OriginalSizeKB:          src.OriginalSizeKB(),
		CompressedSizeKB:        best.sizeKB(),
		CompressionRatioPercent: compressionRatio(len(best.data), len(src.OriginalBytes)),
		TargetMet:               float64(len(best.data)) <= opts.TargetBytes(),
		Sharpened:               best.sharpened,
		Encodes:                 r.encodes,
		Duration:                time.Since(start),
	}
	if !res.TargetMet {
		log.WithField("compressed_kb", round2(res.CompressedSizeKB)).Warn("Target size not reachable, returning smallest attempt")
	}
	metrics.ObserveRun(metrics.OutcomeCompressed, res.Duration, len(src.OriginalBytes), len(best.data))
	log.WithFields(logrus.Fields{
		"compressed_kb": round2(res.CompressedSizeKB),
		"quality":       res.QualityUsed.String(),
		"final_width":   res.FinalWidth,
		"final_height":  res.FinalHeight,
		"encodes":       res.Encodes,
	}).Debug("Image compressed")
	return res, nil
}

// CompressMany compresses inputs sequentially. Per-item failures are
// reported in the item result and never abort the batch.
func (c *DefaultCompressor) CompressMany(ctx context.Context, inputs []Input, opts CompressionOptions, onProgress ProgressFunc) []ItemResult {
	results := make([]ItemResult, len(inputs))
	total := len(inputs)

	for i, in := range inputs {
		results[i].Name = in.Name
		if err := ctx.Err(); err != nil {
			results[i].Err = err
		} else if res, err := c.Compress(ctx, in.Data, in.MimeType, opts); err != nil {
			c.logger.WithFields(logrus.Fields{"file": in.Name, "operation": "compress"}).WithError(err).Error("Compression failed")
			results[i].Err = err
		} else {
			results[i].Result = res
		}

		if onProgress != nil {
			onProgress(float64(i+1)/float64(total)*100, i+1, total)
		}
	}
	return results
}

func (c *DefaultCompressor) decode(input []byte, mimeType string) (*SourceImage, error) {
	if len(input) == 0 {
		return nil, &DecodeError{Err: ErrEmptyInput}
	}

	format, err := ParseFormat(mimeType)
	if err != nil {
		format = DetectFormat(input)
	}
	if format == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)}
	}

	img, err := c.decoder.Decode(input, format)
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("empty image bounds %v", b)}
	}

	return &SourceImage{
		Image:          img,
		Width:          b.Dx(),
		Height:         b.Dy(),
		OriginalBytes:  input,
		OriginalFormat: format,
	}, nil
}

func (c *DefaultCompressor) keepOriginal(src *SourceImage, opts CompressionOptions, encodes int, start time.Time, outcome string) *CompressionResult {
	res := &CompressionResult{
		EncodedBytes:            src.OriginalBytes,
		OriginalWidth:           src.Width,
		OriginalHeight:          src.Height,
		FinalWidth:              src.Width,
		FinalHeight:             src.Height,
		QualityUsed:             OriginalQuality,
		OutputFormat:            src.OriginalFormat,
		OriginalSizeKB:          src.OriginalSizeKB(),
		CompressedSizeKB:        src.OriginalSizeKB(),
		CompressionRatioPercent: 0,
		TargetMet:               src.OriginalSizeKB() <= opts.TargetSizeKB,
		Encodes:                 encodes,
		Duration:                time.Since(start),
	}
	metrics.ObserveRun(outcome, res.Duration, len(src.OriginalBytes), len(src.OriginalBytes))
	return res
}

// run holds the state of a single compression. It is never shared
// between goroutines.
type run struct {
	compressor *DefaultCompressor
	src        *SourceImage
	opts       CompressionOptions
	format     Format
	log        *logrus.Entry
	encodes    int
	last       *canvas
}

// canvas is a working pixel buffer at fixed dimensions.
type canvas struct {
	img       image.Image
	width     int
	height    int
	sharpened bool
}

// canvasFor resamples the source once per distinct size, sharpening the
// result when it is much smaller than the original.
func (r *run) canvasFor(width, height int) *canvas {
	if r.last != nil && r.last.width == width && r.last.height == height {
		return r.last
	}
	cv := &canvas{
		img:    r.compressor.resampler.Resample(r.src.Image, width, height, r.format),
		width:  width,
		height: height,
	}
	if r.opts.Sharpen && needsSharpen(r.src.Width, width) {
		cv.img = sharpen(cv.img)
		cv.sharpened = true
	}
	r.last = cv
	return cv
}

func (r *run) encode(cv *canvas, quality float64) (*candidate, error) {
	r.encodes++
	metrics.EncodesTotal.WithLabelValues(string(r.format)).Inc()

	data, err := r.compressor.encoder.Encode(cv.img, r.format, quality)
	if err != nil {
		return nil, &EncodeError{
			Format:  r.format,
			Width:   cv.width,
			Height:  cv.height,
			Quality: quality,
			Err:     err,
		}
	}
	return &candidate{
		width:     cv.width,
		height:    cv.height,
		quality:   quality,
		data:      data,
		sharpened: cv.sharpened,
	}, nil
}

func compressionRatio(compressed, original int) float64 {
	if original == 0 {
		return 0
	}
	return round2((1 - float64(compressed)/float64(original)) * 100)
}
