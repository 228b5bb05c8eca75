package compressor

import (
	"image"

	"github.com/disintegration/imaging"
)

// sharpenThreshold is the width ratio below which downscaled canvases
// get sharpened.
const sharpenThreshold = 0.8

// sharpenKernel is a 3x3 unsharp mask. Its weights sum to 1, so flat
// regions are left unchanged.
var sharpenKernel = [9]float64{
	0, -0.25, 0,
	-0.25, 2, -0.25,
	0, -0.25, 0,
}

func needsSharpen(originalWidth, width int) bool {
	return float64(width) < float64(originalWidth)*sharpenThreshold
}

// sharpen convolves each color channel with sharpenKernel. Edge pixels are
// replicated, results clamped to [0,255] and alpha kept. img is not
// modified.
func sharpen(img image.Image) image.Image {
	return imaging.Convolve3x3(img, sharpenKernel, nil)
}
