package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"photo-shrink-go/internal/compressor"

	webp "github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const defaultBufferSize = 256 * 1024

type encodeFunc func(buf *bytes.Buffer, img image.Image, quality float64) error

// Encoder encodes to JPEG, PNG and WebP through pooled buffers.
type Encoder struct {
	pool     *BufferPool
	encoders map[compressor.Format]encodeFunc
}

// NewEncoder returns an Encoder for every encodable format.
func NewEncoder() *Encoder {
	return &Encoder{
		pool: NewBufferPool(defaultBufferSize),
		encoders: map[compressor.Format]encodeFunc{
			compressor.FormatJPEG: encodeJPEG,
			compressor.FormatPNG:  encodePNG,
			compressor.FormatWebP: encodeWebP,
		},
	}
}

// Formats lists the formats this encoder can produce.
func (e *Encoder) Formats() []compressor.Format {
	var out []compressor.Format
	for _, f := range []compressor.Format{compressor.FormatJPEG, compressor.FormatWebP, compressor.FormatPNG} {
		if _, ok := e.encoders[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Encode implements compressor.Encoder. quality is in [0,1] and ignored
// for PNG.
func (e *Encoder) Encode(img image.Image, format compressor.Format, quality float64) ([]byte, error) {
	enc, ok := e.encoders[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", compressor.ErrUnsupportedFormat, format)
	}

	buf := e.pool.Get()
	defer e.pool.Put(buf)

	if err := enc(buf, img, quality); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// percent maps a [0,1] quality to the 1..100 scale the encoders take.
func percent(quality float64) int {
	q := int(math.Round(quality * 100))
	return max(1, min(q, 100))
}

func encodeJPEG(buf *bytes.Buffer, img image.Image, quality float64) error {
	return imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(percent(quality)))
}

func encodePNG(buf *bytes.Buffer, img image.Image, _ float64) error {
	return imaging.Encode(buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
}

func encodeWebP(buf *bytes.Buffer, img image.Image, quality float64) error {
	return webp.Encode(buf, toRGBA(img), &webp.Options{Quality: float32(percent(quality))})
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
