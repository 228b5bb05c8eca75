// Package codec implements the decode, resample and encode capabilities
// the compressor consumes.
package codec

import (
	"bytes"
	"fmt"
	"image"

	"photo-shrink-go/internal/compressor"

	"github.com/adrium/goheif"
	"github.com/disintegration/imaging"

	// Register decoders that image.Decode does not ship with.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoder decodes every format the compressor accepts as input.
type Decoder struct {
	autoOrient bool
}

// NewDecoder returns a Decoder. When autoOrient is set, JPEG and TIFF
// inputs are rotated according to their EXIF orientation tag.
func NewDecoder(autoOrient bool) *Decoder {
	return &Decoder{autoOrient: autoOrient}
}

// Decode implements compressor.Decoder.
func (d *Decoder) Decode(data []byte, format compressor.Format) (image.Image, error) {
	if format == compressor.FormatHEIC {
		img, err := goheif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode heic: %w", err)
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(d.autoOrient))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format.Extension(), err)
	}
	return img, nil
}
