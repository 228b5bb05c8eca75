// Package metadata reads EXIF data and tags compressed outputs so that
// they are not processed twice.
package metadata

import (
	"time"
)

const (
	// MarkerTag is the substring of the EXIF Software tag that identifies
	// files written by photo-shrink.
	MarkerTag = "PhotoShrink"
	// MarkerValue is written into the Software tag of compressed outputs.
	MarkerValue = "PhotoShrink Compressed"
)

// MarkerChecker reports whether a file was already compressed.
type MarkerChecker interface {
	HasMarker(filePath string) bool
}

// Marker copies metadata from a source file to its compressed output and
// tags the output.
type Marker interface {
	MarkOutput(src, dst string) error
}

// Info is a summary of the EXIF data of one file.
type Info struct {
	Make        string     `json:"make,omitempty"`
	Model       string     `json:"model,omitempty"`
	Software    string     `json:"software,omitempty"`
	DateTaken   *time.Time `json:"date_taken,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	PixelX      int        `json:"pixel_x,omitempty"`
	PixelY      int        `json:"pixel_y,omitempty"`
}

// Marked reports whether the Software tag carries the compression marker.
func (i *Info) Marked() bool {
	return i != nil && containsMarker(i.Software)
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	HitRate      float64
	TotalQueries int64
}
