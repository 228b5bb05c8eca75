package codec

import (
	"image"
	"image/color"

	"photo-shrink-go/internal/compressor"

	"github.com/disintegration/imaging"
)

// Resampler resizes with a Lanczos filter and flattens transparency onto
// a background for formats that cannot carry alpha.
type Resampler struct {
	filter     imaging.ResampleFilter
	background color.Color
}

// NewResampler returns a Lanczos resampler that flattens onto white.
func NewResampler() *Resampler {
	return &Resampler{
		filter:     imaging.Lanczos,
		background: color.White,
	}
}

// Resample implements compressor.Resampler. src is never modified.
func (r *Resampler) Resample(src image.Image, width, height int, format compressor.Format) image.Image {
	var dst *image.NRGBA
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		dst = imaging.Clone(src)
	} else {
		dst = imaging.Resize(src, width, height, r.filter)
	}

	if format.SupportsAlpha() || dst.Opaque() {
		return dst
	}
	bg := imaging.New(width, height, r.background)
	return imaging.Overlay(bg, dst, image.Pt(0, 0), 1.0)
}
