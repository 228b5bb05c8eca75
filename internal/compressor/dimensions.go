package compressor

import "math"

const (
	// earlyExitFactor keeps the original dimensions when the input is
	// already close to the target.
	earlyExitFactor = 1.3
	// scaleSafetyMargin compensates for size not shrinking linearly with
	// the linear scale of lossy images.
	scaleSafetyMargin = 0.9
	// minDimensionFloor is the smallest shorter axis the policy proposes.
	minDimensionFloor = 200
)

// ScaleDimensions returns the working dimensions for the primary search.
// It is pure and deterministic. Returned values are always >= 1.
func ScaleDimensions(width, height int, originalKB, targetKB float64, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return max(width, 1), max(height, 1)
	}
	if originalKB <= targetKB*earlyExitFactor {
		return width, height
	}

	scale := math.Sqrt(targetKB/originalKB) * scaleSafetyMargin
	w := int(math.Floor(float64(width) * scale))
	h := int(math.Floor(float64(height) * scale))

	w, h = fitWithin(width, height, w, h, maxWidth, maxHeight)
	w, h = raiseToFloor(width, height, w, h, minDimensionFloor)
	w, h = fitWithin(width, height, w, h, maxWidth, maxHeight)

	return max(w, 1), max(h, 1)
}

// fitWithin clamps (w, h) to the max bounds, re-deriving the other axis
// from the original aspect ratio.
func fitWithin(origW, origH, w, h, maxW, maxH int) (int, int) {
	if maxW > 0 && w > maxW {
		w = maxW
		h = origH * w / origW
	}
	if maxH > 0 && h > maxH {
		h = maxH
		w = origW * h / origH
	}
	return w, h
}

// raiseToFloor lifts the shorter axis to floor, never beyond the original
// shorter side, re-deriving the other axis.
func raiseToFloor(origW, origH, w, h, floor int) (int, int) {
	floor = min(floor, min(origW, origH))
	if min(w, h) >= floor {
		return w, h
	}
	if origW <= origH {
		w = floor
		h = origH * floor / origW
	} else {
		h = floor
		w = origW * floor / origH
	}
	return w, h
}

// scaledDimensions applies a uniform factor to the original dimensions.
func scaledDimensions(width, height int, factor float64) (int, int) {
	return int(math.Floor(float64(width) * factor)), int(math.Floor(float64(height) * factor))
}
