// Package batch compresses image files found on disk using a pool of
// worker slots, writing <name>_magic.<ext> outputs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"photo-shrink-go/internal/compressor"
	"photo-shrink-go/internal/config"
	"photo-shrink-go/internal/logger"
	"photo-shrink-go/internal/metadata"
	"photo-shrink-go/internal/metrics"
	"photo-shrink-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// Action describes what happened to one file.
type Action string

const (
	ActionCompressed Action = "compressed"
	ActionOriginal   Action = "original"
	ActionSkipped    Action = "skipped"
	ActionMarked     Action = "marked"
	ActionError      Action = "error"
	ActionCancelled  Action = "cancelled"
)

// FileResult is the outcome of one file of a run.
type FileResult struct {
	SourcePath string                        `json:"source"`
	OutputPath string                        `json:"output,omitempty"`
	Action     Action                        `json:"action"`
	DryRun     bool                          `json:"dry_run,omitempty"`
	Result     *compressor.CompressionResult `json:"result,omitempty"`

	// WrittenBytes is the size of the file on disk, marker included.
	WrittenBytes int64  `json:"written_bytes,omitempty"`
	Err          error  `json:"-"`
	Error        string `json:"error,omitempty"`
}

// Progress is reported after every file.
type Progress struct {
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Percent   float64    `json:"percent"`
	File      FileResult `json:"file"`
}

// ProgressHook receives progress updates. Calls are serialized.
type ProgressHook func(Progress)

// LogHookFunc forwards user-facing log lines, e.g. to a WebSocket.
type LogHookFunc func(level, message string)

// Runner runs the compression engine over files on disk.
type Runner struct {
	config  *config.Config
	logger  *logrus.Logger
	stats   *statistics.Statistics
	engine  compressor.Compressor
	checker metadata.MarkerChecker
	marker  metadata.Marker
	workers int

	progressHook ProgressHook
	logHook      LogHookFunc
}

// RunnerOption configures optional Runner collaborators.
type RunnerOption func(*Runner)

// WithMarkerChecker sets the checker used to drop already compressed files.
func WithMarkerChecker(c metadata.MarkerChecker) RunnerOption {
	return func(r *Runner) { r.checker = c }
}

// WithMarker sets the marker applied to JPEG outputs.
func WithMarker(m metadata.Marker) RunnerOption {
	return func(r *Runner) { r.marker = m }
}

func WithProgressHook(h ProgressHook) RunnerOption {
	return func(r *Runner) { r.progressHook = h }
}

func WithLogHook(h LogHookFunc) RunnerOption {
	return func(r *Runner) { r.logHook = h }
}

// NewRunner returns a new Runner.
func NewRunner(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	engine compressor.Compressor,
	opts ...RunnerOption,
) *Runner {
	workers := cfg.Batch.WorkerThreads
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = logger.Discard()
	}
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	r := &Runner{
		config:  cfg,
		logger:  log,
		stats:   stats,
		engine:  engine,
		workers: workers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Statistics returns the statistics updated by this runner.
func (r *Runner) Statistics() *statistics.Statistics {
	return r.stats
}

type job struct {
	index int
	path  string
}

// Run compresses every supported file under paths. Results are returned
// in discovery order. The error is non-nil only when discovery fails or
// ctx was cancelled; per-file failures are reported in the results.
func (r *Runner) Run(ctx context.Context, paths []string) ([]FileResult, error) {
	opts, err := r.config.CompressionOptions()
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"paths":     paths,
		"target_kb": opts.TargetSizeKB,
		"workers":   r.workers,
		"dry_run":   r.config.Batch.DryRun,
	}).Info("Starting compression run")
	r.stats.StartTime = time.Now()

	files, err := r.collectImageFiles(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	r.stats.AddFilesFound(len(files))

	if len(files) == 0 {
		r.logger.Info("No image files found to compress")
		r.stats.Finalize()
		return nil, nil
	}
	r.logger.Infof("Found %d image files", len(files))

	index := make(map[string]int, len(files))
	for i, f := range files {
		index[f] = i
	}

	pending := files
	var marked []string
	if r.config.Batch.SkipMarked {
		pending, marked = r.filterUnmarked(files)
	}

	results := make([]FileResult, len(files))
	total := len(files)
	var mu sync.Mutex
	completed := 0

	report := func(i int, res FileResult) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = res
		completed++
		if r.progressHook != nil {
			r.progressHook(Progress{
				Completed: completed,
				Total:     total,
				Percent:   float64(completed) / float64(total) * 100,
				File:      res,
			})
		}
	}

	for _, path := range marked {
		r.stats.IncrementFilesMarked()
		r.emit("info", fmt.Sprintf("Skipping already compressed file: %s", path))
		report(index[path], FileResult{SourcePath: path, Action: ActionMarked})
	}

	if r.config.Batch.DryRun {
		r.logger.Info("Running in dry-run mode - no files will be written")
	}

	var wg sync.WaitGroup
	jobs := make(chan job)
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				report(j.index, r.processFile(ctx, j.path, opts))
			}
		}()
	}
	for _, path := range pending {
		jobs <- job{index: index[path], path: path}
	}
	close(jobs)
	wg.Wait()

	r.stats.Finalize()
	r.logger.WithFields(logrus.Fields{
		"processed":  r.stats.GetTotalFilesProcessed(),
		"errors":     r.stats.GetFilesWithErrors(),
		"duration_s": r.stats.GetDuration().Seconds(),
	}).Info("Compression run completed")

	return results, ctx.Err()
}

// processFile compresses one file and writes its output.
func (r *Runner) processFile(ctx context.Context, path string, opts compressor.CompressionOptions) FileResult {
	res := FileResult{SourcePath: path, DryRun: r.config.Batch.DryRun}
	if err := ctx.Err(); err != nil {
		res.Action = ActionCancelled
		res.Err = err
		res.Error = err.Error()
		return res
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	log := logger.WithFileOperation(r.logger, path, "compress")
	log.Debug("Processing file")
	r.stats.IncrementFilesProcessed()

	data, err := os.ReadFile(path)
	if err != nil {
		return r.fail(res, "read_file", err)
	}

	out, err := r.engine.Compress(ctx, data, filepath.Ext(path), opts)
	if err != nil {
		return r.fail(res, "compress", err)
	}
	res.Result = out
	r.stats.AddEncodes(out.Encodes)

	switch {
	case out.Skipped():
		res.Action = ActionSkipped
	case out.KeptOriginal():
		res.Action = ActionOriginal
	default:
		res.Action = ActionCompressed
	}

	ext := filepath.Ext(path)
	if !out.KeptOriginal() {
		ext = "." + out.OutputFormat.Extension()
	}

	// An unchanged copy beside the source is of no use.
	if out.KeptOriginal() && r.config.Batch.TargetDirectory == "" {
		log.WithField("action", res.Action).Info("Keeping original file")
		r.record(res, len(data), len(data))
		return res
	}

	outPath := r.outputPath(path, ext)
	if !r.config.Batch.Overwrite {
		if _, err := os.Stat(outPath); err == nil {
			outPath = generateUniqueFilename(outPath)
		}
	}
	res.OutputPath = outPath

	if r.config.Batch.DryRun {
		r.emit("info", fmt.Sprintf("DRY-RUN: Would write %s -> %s (%.1f KB -> %.1f KB)",
			path, outPath, out.OriginalSizeKB, out.CompressedSizeKB))
		r.record(res, len(data), len(out.EncodedBytes))
		return res
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return r.fail(res, "directory_creation", err)
	}

	written := int64(len(data))
	if out.KeptOriginal() {
		err = copyFile(path, outPath)
	} else {
		written, err = r.writeOutput(path, outPath, out, int64(len(data)), opts.TargetBytes())
	}
	if err != nil {
		return r.fail(res, "write_output", err)
	}
	res.WrittenBytes = written

	log.WithFields(logrus.Fields{
		"output":        outPath,
		"action":        res.Action,
		"compressed_kb": out.CompressedSizeKB,
		"written_bytes": written,
	}).Info("Wrote output")
	r.record(res, len(data), int(written))
	return res
}

// writeOutput writes encoded bytes next to outPath and renames them into
// place, marking JPEG outputs on the way. It returns the size written.
//
// Marking copies the source metadata, so the marked file is checked again:
// when it is no longer smaller than the original, or it misses a target the
// encoded bytes met, the unmarked bytes are written instead.
func (r *Runner) writeOutput(src, outPath string, out *compressor.CompressionResult, originalSize int64, targetBytes float64) (int64, error) {
	dir, base := filepath.Split(outPath)
	tmpPath := filepath.Join(dir, ".tmp-"+base)

	if err := os.WriteFile(tmpPath, out.EncodedBytes, 0644); err != nil {
		return 0, err
	}
	written := int64(len(out.EncodedBytes))

	if r.marker != nil && r.config.Batch.MarkOutput && out.OutputFormat == compressor.FormatJPEG {
		log := logger.WithFile(r.logger, outPath)
		if err := r.marker.MarkOutput(src, tmpPath); err != nil {
			log.WithError(err).Warn("Could not mark output")
		}

		info, err := os.Stat(tmpPath)
		if err != nil {
			os.Remove(tmpPath)
			return 0, fmt.Errorf("stat marked output: %w", err)
		}
		marked := info.Size()
		overTarget := out.TargetMet && float64(marked) > targetBytes
		if marked >= originalSize || overTarget {
			log.WithFields(logrus.Fields{
				"marked_bytes":   marked,
				"encoded_bytes":  written,
				"original_bytes": originalSize,
			}).Warn("Marked output too large, writing unmarked bytes")
			if err := os.WriteFile(tmpPath, out.EncodedBytes, 0644); err != nil {
				os.Remove(tmpPath)
				return 0, err
			}
		} else {
			written = marked
		}
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return written, nil
}

func (r *Runner) record(res FileResult, in, out int) {
	switch res.Action {
	case ActionCompressed:
		r.stats.IncrementFilesCompressed()
		if !res.Result.TargetMet {
			r.stats.IncrementTargetMissed()
		}
	case ActionOriginal:
		r.stats.IncrementFilesKeptOriginal()
	case ActionSkipped:
		r.stats.IncrementFilesSkipped()
	}
	r.stats.AddBytes(int64(in), int64(out))
	r.stats.IncrementFormat(strings.ToUpper(res.Result.OutputFormat.Extension()))
}

func (r *Runner) fail(res FileResult, operation string, err error) FileResult {
	res.Action = ActionError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		res.Action = ActionCancelled
	}
	res.Err = err
	res.Error = err.Error()

	r.stats.IncrementFilesWithErrors()
	r.stats.AddError(res.SourcePath, operation, err.Error())
	logger.WithFileOperation(r.logger, res.SourcePath, operation).WithError(err).Error("Could not process file")
	if r.logHook != nil {
		r.logHook("error", fmt.Sprintf("%s: %v", res.SourcePath, err))
	}
	return res
}

// emit logs a user-facing message and forwards it to the log hook.
func (r *Runner) emit(level, message string) {
	switch level {
	case "error":
		r.logger.Error(message)
	case "warn":
		r.logger.Warn(message)
	default:
		r.logger.Info(message)
	}
	if r.logHook != nil {
		r.logHook(level, message)
	}
}
