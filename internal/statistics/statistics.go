package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all statistics for a compression job.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesCompressed     int64
	FilesKeptOriginal   int64
	FilesSkipped        int64
	FilesMarked         int64
	FilesWithErrors     int64
	TargetMissed        int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	BytesIn  int64
	BytesOut int64
	Encodes  int64

	Errors []StatError

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of Statistics safe to serialize.
type Snapshot struct {
	TotalFilesFound     int64            `json:"total_files_found"`
	TotalFilesProcessed int64            `json:"total_files_processed"`
	FilesCompressed     int64            `json:"files_compressed"`
	FilesKeptOriginal   int64            `json:"files_kept_original"`
	FilesSkipped        int64            `json:"files_skipped"`
	FilesMarked         int64            `json:"files_marked"`
	FilesWithErrors     int64            `json:"files_with_errors"`
	TargetMissed        int64            `json:"target_missed"`
	BytesIn             int64            `json:"bytes_in"`
	BytesOut            int64            `json:"bytes_out"`
	BytesSaved          int64            `json:"bytes_saved"`
	SavedPercent        float64          `json:"saved_percent"`
	Encodes             int64            `json:"encodes"`
	Duration            time.Duration    `json:"duration_ns"`
	FilesPerSecond      float64          `json:"files_per_second"`
	FormatStats         map[string]int64 `json:"format_stats"`
	Errors              []StatError      `json:"errors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.TotalFilesFound, 1)
}

// AddFilesFound increases the count of found files by n.
func (s *Statistics) AddFilesFound(n int) {
	atomic.AddInt64(&s.TotalFilesFound, int64(n))
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// IncrementFilesCompressed increases the count of re-encoded files by 1.
func (s *Statistics) IncrementFilesCompressed() {
	atomic.AddInt64(&s.FilesCompressed, 1)
}

// IncrementFilesKeptOriginal counts files whose original bytes were kept
// because no smaller encoding was found.
func (s *Statistics) IncrementFilesKeptOriginal() {
	atomic.AddInt64(&s.FilesKeptOriginal, 1)
}

// IncrementFilesSkipped counts files already within the target size.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesMarked counts files dropped because they carry the
// compression marker.
func (s *Statistics) IncrementFilesMarked() {
	atomic.AddInt64(&s.FilesMarked, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// IncrementTargetMissed counts results above the target size.
func (s *Statistics) IncrementTargetMissed() {
	atomic.AddInt64(&s.TargetMissed, 1)
}

// AddBytes records the input and output size of one file.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// AddEncodes adds the encode attempts of one file.
func (s *Statistics) AddEncodes(n int) {
	atomic.AddInt64(&s.Encodes, int64(n))
}

// IncrementFormat increases the count for an output format by 1.
func (s *Statistics) IncrementFormat(format string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[format]++
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// BytesSaved returns input bytes minus output bytes.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesIn) - atomic.LoadInt64(&s.BytesOut)
}

// SavedPercent returns the share of input bytes saved, in percent.
func (s *Statistics) SavedPercent() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(s.BytesSaved()) * 100 / float64(in)
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	formats := make(map[string]int64, len(s.FormatStats))
	for k, v := range s.FormatStats {
		formats[k] = v
	}

	return Snapshot{
		TotalFilesFound:     atomic.LoadInt64(&s.TotalFilesFound),
		TotalFilesProcessed: atomic.LoadInt64(&s.TotalFilesProcessed),
		FilesCompressed:     atomic.LoadInt64(&s.FilesCompressed),
		FilesKeptOriginal:   atomic.LoadInt64(&s.FilesKeptOriginal),
		FilesSkipped:        atomic.LoadInt64(&s.FilesSkipped),
		FilesMarked:         atomic.LoadInt64(&s.FilesMarked),
		FilesWithErrors:     atomic.LoadInt64(&s.FilesWithErrors),
		TargetMissed:        atomic.LoadInt64(&s.TargetMissed),
		BytesIn:             atomic.LoadInt64(&s.BytesIn),
		BytesOut:            atomic.LoadInt64(&s.BytesOut),
		BytesSaved:          s.BytesSaved(),
		SavedPercent:        s.SavedPercent(),
		Encodes:             atomic.LoadInt64(&s.Encodes),
		Duration:            s.Duration,
		FilesPerSecond:      s.FilesPerSecond,
		FormatStats:         formats,
		Errors:              append([]StatError(nil), s.Errors...),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration, fps := s.Duration, s.FilesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`Photo Shrink Statistics Summary:

Files:
		Total Found: %d
		Total Processed: %d
		Compressed: %d
		Kept Original: %d
		Already Within Target: %d
		Already Marked: %d
		Target Missed: %d
		Errors: %d

Size:
		Input: %s
		Output: %s
		Saved: %s (%.1f%%)

Performance:
		Duration: %v
		Files/Second: %.2f
		Encodes: %d`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesKeptOriginal),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesMarked),
		atomic.LoadInt64(&s.TargetMissed),
		atomic.LoadInt64(&s.FilesWithErrors),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		formatBytes(s.BytesSaved()),
		s.SavedPercent(),
		duration,
		fps,
		atomic.LoadInt64(&s.Encodes))
}

// GetFormatBreakdown returns a formatted breakdown of output formats.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	formats := make([]string, 0, len(s.FormatStats))
	for f := range s.FormatStats {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	result := "Output Format Breakdown:\n"
	for _, f := range formats {
		result += fmt.Sprintf("  %s: %d\n", f, s.FormatStats[f])
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + formatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetTotalFilesProcessed returns the total number of files processed.
func (s *Statistics) GetTotalFilesProcessed() int64 {
	return atomic.LoadInt64(&s.TotalFilesProcessed)
}

// GetFilesWithErrors returns the total number of files with errors.
func (s *Statistics) GetFilesWithErrors() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return int64(len(s.Errors))
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
