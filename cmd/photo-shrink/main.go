package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photo-shrink-go/internal/batch"
	"photo-shrink-go/internal/codec"
	"photo-shrink-go/internal/compressor"
	"photo-shrink-go/internal/config"
	"photo-shrink-go/internal/logger"
	"photo-shrink-go/internal/metadata"
	"photo-shrink-go/internal/statistics"
	"photo-shrink-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	targetSize float64
	format     string
	outputDir  string
	workers    int
	dryRun     bool
	noSharpen  bool
	escalation string
	noMark     bool
	jsonOutput bool
	showAll    bool
	verbose    bool
	quiet      bool
	version    = "dev"
	buildTime  = "unknown"
	port       int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "photo-shrink [paths...]",
	Short: "Shrink photos to fit a target file size",
	Long: `PhotoShrink re-encodes images so that each one fits a target file size.

For every image it picks working dimensions from the size ratio, bisects the
encoder quality, walks a ladder of smaller dimensions when that is not enough
and never returns a file larger than the original.

Outputs are written as <name>_magic.<ext> next to the source or into --output.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// inspectCmd shows what would happen to a single file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show image details and the planned working dimensions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd, args[0])
	},
}

// serveCmd starts the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server exposing the compressor:

  POST /api/compress        compress one uploaded image
  POST /api/compress/batch  compress several uploaded images
  POST /api/jobs            compress files on the server's disk
  GET  /ws                  job progress over WebSocket
  GET  /metrics             Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("photo-shrink %s (built %s)\n", version, buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().Float64Var(&targetSize, "target-size", 0, "target size in KB")
	rootCmd.PersistentFlags().StringVar(&format, "format", "", "output format: auto, jpeg, png, webp")
	rootCmd.PersistentFlags().StringVar(&escalation, "escalation", "", "escalation mode: search, probe")
	rootCmd.PersistentFlags().BoolVar(&noSharpen, "no-sharpen", false, "disable sharpening of downscaled images")

	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: next to each source)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of parallel workers")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compress in memory without writing files")
	rootCmd.Flags().BoolVar(&noMark, "no-mark", false, "do not tag outputs with the EXIF marker")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "print per-file results as JSON")

	inspectCmd.Flags().BoolVar(&showAll, "all", false, "dump every tag with exiftool")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (default from config)")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// runCompress compresses every image under args.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()

	opts := []batch.RunnerOption{
		batch.WithMarkerChecker(metadata.NewEXIFReader(log)),
	}
	if cfg.Batch.MarkOutput && !cfg.Batch.DryRun {
		if metadata.ExiftoolAvailable() {
			opts = append(opts, batch.WithMarker(metadata.NewExiftoolMarker()))
		} else {
			log.Warn("exiftool not found, outputs will not be marked")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := batch.NewRunner(cfg, log, stats, newEngine(cfg, log), opts...)
	results, err := runner.Run(ctx, args)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println(stats.GetFormatBreakdown())
		if stats.GetFilesWithErrors() > 0 {
			fmt.Println(stats.GetErrorSummary())
		}
	}

	if n := stats.GetFilesWithErrors(); n > 0 {
		return fmt.Errorf("%d files failed", n)
	}
	return nil
}

// runInspect prints decoded dimensions, EXIF summary and the plan for one file.
func runInspect(cmd *cobra.Command, filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	detected := compressor.DetectFormat(data)
	if detected == "" {
		return fmt.Errorf("not a recognised image: %s", filePath)
	}

	img, err := codec.NewDecoder(cfg.Compression.AutoOrient).Decode(data, detected)
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	opts, err := cfg.CompressionOptions()
	if err != nil {
		return err
	}

	b := img.Bounds()
	sizeKB := float64(len(data)) / 1024
	fmt.Printf("File:       %s\n", filePath)
	fmt.Printf("Format:     %s\n", detected)
	fmt.Printf("Dimensions: %dx%d\n", b.Dx(), b.Dy())
	fmt.Printf("Size:       %.2f KB\n", sizeKB)
	fmt.Printf("Output:     %s\n", opts.OutputFormat.Resolve(detected))

	if sizeKB <= opts.TargetSizeKB {
		fmt.Printf("Plan:       already within %.0f KB, original would be kept\n", opts.TargetSizeKB)
	} else {
		w, h := compressor.ScaleDimensions(b.Dx(), b.Dy(), sizeKB, opts.TargetSizeKB, opts.MaxWidth, opts.MaxHeight)
		fmt.Printf("Plan:       %dx%d for %.0f KB target\n", w, h, opts.TargetSizeKB)
	}

	reader := metadata.NewEXIFReader(log)
	if info, err := reader.Inspect(filePath); err != nil {
		fmt.Printf("EXIF:       none (%v)\n", err)
	} else {
		fmt.Printf("Camera:     %s %s\n", info.Make, info.Model)
		fmt.Printf("Software:   %s\n", info.Software)
		fmt.Printf("Orientation: %d\n", info.Orientation)
		if info.DateTaken != nil {
			fmt.Printf("Taken:      %s\n", info.DateTaken.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Marked:     %v\n", info.Marked())
	}

	if showAll {
		inspector := metadata.NewExiftoolInspector(log)
		defer inspector.Close()

		fields, err := inspector.Fields(filePath)
		if err != nil {
			return fmt.Errorf("exiftool: %w", err)
		}
		fmt.Println("\nAll tags:")
		for _, k := range metadata.SortedKeys(fields) {
			fmt.Printf("  %-32s %v\n", k, fields[k])
		}
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	log := setupLogger(cfg)
	serverOpts := []web.ServerOption{web.WithMarkerChecker(metadata.NewEXIFReader(log))}
	if cfg.Batch.MarkOutput && metadata.ExiftoolAvailable() {
		serverOpts = append(serverOpts, web.WithMarker(metadata.NewExiftoolMarker()))
	}
	server := web.NewServer(cfg, log, newEngine(cfg, log), serverOpts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("PhotoShrink API listening on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("target-size") {
		cfg.Compression.TargetSizeKB = targetSize
	}
	if flags.Changed("format") {
		cfg.Compression.OutputFormat = format
	}
	if flags.Changed("escalation") {
		cfg.Compression.Escalation = escalation
	}
	if noSharpen {
		cfg.Compression.Sharpen = false
	}
	if outputDir != "" {
		cfg.Batch.TargetDirectory = outputDir
	}
	if workers > 0 {
		cfg.Batch.WorkerThreads = workers
	}
	if dryRun {
		cfg.Batch.DryRun = true
	}
	if noMark {
		cfg.Batch.MarkOutput = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newEngine(cfg *config.Config, log *logrus.Logger) *compressor.DefaultCompressor {
	return compressor.NewDefaultCompressor(
		codec.NewDecoder(cfg.Compression.AutoOrient),
		codec.NewResampler(),
		codec.NewEncoder(),
		log,
	)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.FromConfig(cfg.Logging).WithVerbosity(verbose, quiet)
	if quiet {
		loggerCfg.Console = false
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
