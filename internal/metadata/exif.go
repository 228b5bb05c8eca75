package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// EXIFReader reads EXIF summaries with rwcarlsen/goexif. Results are cached
// by path, size and modification time.
type EXIFReader struct {
	logger *logrus.Logger
	cache  *sync.Map
	stats  CacheStats
	mutex  sync.RWMutex
}

// NewEXIFReader returns a new EXIFReader.
func NewEXIFReader(logger *logrus.Logger) *EXIFReader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EXIFReader{
		logger: logger,
		cache:  &sync.Map{},
	}
}

// SupportsFile reports whether the file may carry EXIF data.
func (e *EXIFReader) SupportsFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return slices.Contains([]string{".jpg", ".jpeg", ".tif", ".tiff", ".heic", ".heif"}, ext)
}

// HasMarker returns true if the EXIF Software tag contains MarkerTag.
// Files without readable EXIF are reported as unmarked.
func (e *EXIFReader) HasMarker(filePath string) bool {
	info, err := e.Inspect(filePath)
	if err != nil {
		e.logger.Debugf("No EXIF marker for %s: %v", filePath, err)
		return false
	}
	return info.Marked()
}

// Inspect returns the EXIF summary of a file.
func (e *EXIFReader) Inspect(filePath string) (*Info, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	key := e.getCacheKey(filePath, fileInfo)
	if value, ok := e.cache.Load(key); ok {
		e.incrementCacheHits()
		return value.(*Info), nil
	}
	e.incrementCacheMisses()

	info, err := e.decode(filePath)
	if err != nil {
		return nil, err
	}
	e.cache.Store(key, info)
	return info, nil
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (e *EXIFReader) ClearCache() {
	e.cache = &sync.Map{}
	e.mutex.Lock()
	e.stats = CacheStats{}
	e.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this reader.
func (e *EXIFReader) GetCacheStats() CacheStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	stats := e.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (e *EXIFReader) decode(filePath string) (*Info, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	info := &Info{
		Make:     stringTag(x, exif.Make),
		Model:    stringTag(x, exif.Model),
		Software: stringTag(x, exif.Software),
	}
	info.Orientation = intTag(x, exif.Orientation)
	info.PixelX = intTag(x, exif.PixelXDimension)
	info.PixelY = intTag(x, exif.PixelYDimension)

	if tm, err := x.DateTime(); err == nil {
		info.DateTaken = &tm
	} else if date := parseEXIFDateTime(stringTag(x, exif.DateTimeOriginal)); date != nil {
		info.DateTaken = date
	}

	e.logger.WithFields(logrus.Fields{
		"file":     filePath,
		"software": info.Software,
	}).Debug("Decoded EXIF")
	return info, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(val, "\x00"))
}

func intTag(x *exif.Exif, name exif.FieldName) int {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

// parseEXIFDateTime parses an EXIF date time string.
// Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}

func containsMarker(software string) bool {
	return strings.Contains(software, MarkerTag)
}

func (e *EXIFReader) getCacheKey(filePath string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", filePath, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func (e *EXIFReader) incrementCacheHits() {
	e.mutex.Lock()
	e.stats.Hits++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}

func (e *EXIFReader) incrementCacheMisses() {
	e.mutex.Lock()
	e.stats.Misses++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}
