package compressor

import (
	"errors"
	"image"
	"image/color"
	"sync"
)

// blankImage reports dimensions without allocating pixels.
type blankImage struct {
	w, h int
}

func (b blankImage) ColorModel() color.Model { return color.NRGBAModel }
func (b blankImage) Bounds() image.Rectangle { return image.Rect(0, 0, b.w, b.h) }
func (b blankImage) At(x, y int) color.Color { return color.NRGBA{128, 128, 128, 255} }

type encodeCall struct {
	width, height int
	format        Format
	quality       float64
}

// fakeCodec is a deterministic codec whose output size is
// width*height*quality*bytesPerPixel, which grows monotonically with both
// area and quality.
type fakeCodec struct {
	width, height int
	bytesPerPixel float64
	decodeErr     error
	// failEncode returns an error for matching calls when set.
	failEncode func(encodeCall) bool

	mu    sync.Mutex
	calls []encodeCall
}

func (f *fakeCodec) Decode(data []byte, format Format) (image.Image, error) {
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return blankImage{f.width, f.height}, nil
}

func (f *fakeCodec) Resample(src image.Image, width, height int, format Format) image.Image {
	return blankImage{width, height}
}

func (f *fakeCodec) Encode(img image.Image, format Format, quality float64) ([]byte, error) {
	b := img.Bounds()
	call := encodeCall{width: b.Dx(), height: b.Dy(), format: format, quality: quality}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.failEncode != nil && f.failEncode(call) {
		return nil, errors.New("codec rejected parameters")
	}
	n := int(float64(b.Dx()*b.Dy()) * quality * f.bytesPerPixel)
	return make([]byte, max(n, 1)), nil
}

func (f *fakeCodec) encodeCalls() []encodeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]encodeCall(nil), f.calls...)
}

func newFakeCompressor(f *fakeCodec) *DefaultCompressor {
	return NewDefaultCompressor(f, f, f, nil)
}

// input returns n KB of placeholder bytes standing in for an encoded file.
func input(kb float64) []byte {
	return make([]byte, int(kb*1024))
}

func mustOptions(t interface{ Fatalf(string, ...any) }, opts ...Option) CompressionOptions {
	o, err := NewCompressionOptions(append([]Option{WithSharpen(false)}, opts...)...)
	if err != nil {
		t.Fatalf("NewCompressionOptions: %v", err)
	}
	return o
}
