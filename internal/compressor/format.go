package compressor

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// Format is an image MIME type.
type Format string

const (
	FormatJPEG Format = "image/jpeg"
	FormatPNG  Format = "image/png"
	FormatWebP Format = "image/webp"
	FormatGIF  Format = "image/gif"
	FormatBMP  Format = "image/bmp"
	FormatTIFF Format = "image/tiff"
	FormatHEIC Format = "image/heic"
)

var formatAliases = map[string]Format{
	"jpeg":       FormatJPEG,
	"jpg":        FormatJPEG,
	"image/jpeg": FormatJPEG,
	"image/jpg":  FormatJPEG,
	"png":        FormatPNG,
	"image/png":  FormatPNG,
	"webp":       FormatWebP,
	"image/webp": FormatWebP,
	"gif":        FormatGIF,
	"image/gif":  FormatGIF,
	"bmp":        FormatBMP,
	"image/bmp":  FormatBMP,
	"tif":        FormatTIFF,
	"tiff":       FormatTIFF,
	"image/tiff": FormatTIFF,
	"heic":       FormatHEIC,
	"heif":       FormatHEIC,
	"image/heic": FormatHEIC,
	"image/heif": FormatHEIC,
}

// ParseFormat accepts MIME types, bare names and file extensions.
func ParseFormat(s string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimPrefix(key, ".")
	if i := strings.IndexByte(key, ';'); i >= 0 {
		key = strings.TrimSpace(key[:i])
	}
	if f, ok := formatAliases[key]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// DetectFormat sniffs the image format from magic bytes. It returns ""
// when the data is not a recognised image.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		brand := strings.ToLower(string(data[8:12]))
		if strings.HasPrefix(brand, "he") || brand == "mif1" || brand == "msf1" {
			return FormatHEIC
		}
		return ""
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	case len(data) >= 4 && (bytes.Equal(data[0:4], []byte("II*\x00")) || bytes.Equal(data[0:4], []byte("MM\x00*"))):
		return FormatTIFF
	}
	if f, err := ParseFormat(http.DetectContentType(data)); err == nil {
		return f
	}
	return ""
}

// Encodable reports whether the engine can produce this format.
func (f Format) Encodable() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWebP:
		return true
	default:
		return false
	}
}

// Lossy reports whether the quality parameter affects output size.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWebP
}

// SupportsAlpha reports whether the encoded format keeps transparency.
func (f Format) SupportsAlpha() bool {
	return f == FormatPNG || f == FormatWebP
}

// Extension returns the usual file extension without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatGIF:
		return "gif"
	case FormatBMP:
		return "bmp"
	case FormatTIFF:
		return "tiff"
	case FormatHEIC:
		return "heic"
	default:
		return "bin"
	}
}

func (f Format) String() string {
	return string(f)
}

// FormatPolicy selects the output format of a run.
type FormatPolicy struct {
	fixed Format
}

// AutoFormat prefers a smaller lossy format for inputs that are not
// already lossy.
func AutoFormat() FormatPolicy {
	return FormatPolicy{}
}

// FixedFormat always encodes to f.
func FixedFormat(f Format) FormatPolicy {
	return FormatPolicy{fixed: f}
}

// ParseFormatPolicy maps "auto" (or "") to AutoFormat and anything else
// to a fixed format.
func ParseFormatPolicy(s string) (FormatPolicy, error) {
	if s == "" || strings.EqualFold(s, "auto") {
		return AutoFormat(), nil
	}
	f, err := ParseFormat(s)
	if err != nil {
		return FormatPolicy{}, err
	}
	return FixedFormat(f), nil
}

// IsAuto reports whether the policy is Auto.
func (p FormatPolicy) IsAuto() bool {
	return p.fixed == ""
}

// Fixed returns the fixed format, or "" for Auto.
func (p FormatPolicy) Fixed() Format {
	return p.fixed
}

// Resolve returns the output format for an input of the given format.
func (p FormatPolicy) Resolve(input Format) Format {
	if !p.IsAuto() {
		return p.fixed
	}
	switch input {
	case FormatJPEG, FormatWebP:
		return input
	default:
		// PNG and the non-encodable inputs go to JPEG.
		return FormatJPEG
	}
}

func (p FormatPolicy) String() string {
	if p.IsAuto() {
		return "auto"
	}
	return string(p.fixed)
}
