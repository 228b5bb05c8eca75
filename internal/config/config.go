package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photo-shrink-go/internal/compressor"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	SupportedExtensions []string          `mapstructure:"supported_extensions"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Batch               BatchConfig       `mapstructure:"batch"`
	Server              ServerConfig      `mapstructure:"server"`
	Logging             LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig mirrors compressor.CompressionOptions in
// configuration-friendly types.
type CompressionConfig struct {
	TargetSizeKB     float64   `mapstructure:"target_size_kb"`
	MaxWidth         int       `mapstructure:"max_width"`
	MaxHeight        int       `mapstructure:"max_height"`
	MinQuality       float64   `mapstructure:"min_quality"`
	MaxQuality       float64   `mapstructure:"max_quality"`
	QualityTolerance float64   `mapstructure:"quality_tolerance"`
	OutputFormat     string    `mapstructure:"output_format"` // auto, jpeg, png, webp
	MaxIterations    int       `mapstructure:"max_iterations"`
	Escalation       string    `mapstructure:"escalation"` // search, probe
	EscalationSteps  []float64 `mapstructure:"escalation_steps"`
	FallbackQuality  float64   `mapstructure:"fallback_quality"`
	Sharpen          bool      `mapstructure:"sharpen"`
	AutoOrient       bool      `mapstructure:"auto_orient"`
}

// BatchConfig contains filesystem batch settings
type BatchConfig struct {
	TargetDirectory string `mapstructure:"target_directory"`
	OutputSuffix    string `mapstructure:"output_suffix"`
	WorkerThreads   int    `mapstructure:"worker_threads"`
	Recursive       bool   `mapstructure:"recursive"`
	DryRun          bool   `mapstructure:"dry_run"`
	SkipMarked      bool   `mapstructure:"skip_marked"`
	MarkOutput      bool   `mapstructure:"mark_output"`
	Overwrite       bool   `mapstructure:"overwrite"`
	MaxFilesPerRun  int    `mapstructure:"max_files_per_run"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	MaxUploadMB  int           `mapstructure:"max_upload_mb"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		SupportedExtensions: []string{
			".jpg", ".jpeg", ".png", ".webp", ".gif",
			".bmp", ".tif", ".tiff", ".heic", ".heif",
		},
		Compression: CompressionConfig{
			TargetSizeKB:     compressor.DefaultTargetSizeKB,
			MaxWidth:         compressor.DefaultMaxDimension,
			MaxHeight:        compressor.DefaultMaxDimension,
			MinQuality:       compressor.DefaultMinQuality,
			MaxQuality:       compressor.DefaultMaxQuality,
			QualityTolerance: compressor.DefaultQualityTolerance,
			OutputFormat:     "auto",
			MaxIterations:    compressor.DefaultMaxIterations,
			Escalation:       "search",
			EscalationSteps:  append([]float64(nil), compressor.DefaultEscalationSteps...),
			FallbackQuality:  compressor.DefaultFallbackQuality,
			Sharpen:          true,
			AutoOrient:       true,
		},
		Batch: BatchConfig{
			OutputSuffix:  "_magic",
			WorkerThreads: 4,
			Recursive:     true,
			SkipMarked:    true,
			MarkOutput:    true,
		},
		Server: ServerConfig{
			Port:         8080,
			MaxUploadMB:  32,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "photo-shrink.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Console:    true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-shrink")
		v.AddConfigPath("/etc/photo-shrink")
	}

	// Defaults make every key known to viper, so env overrides apply
	// even without a config file.
	setDefaults(v, config)

	v.SetEnvPrefix("PHOTO_SHRINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("supported_extensions", c.SupportedExtensions)

	v.SetDefault("compression.target_size_kb", c.Compression.TargetSizeKB)
	v.SetDefault("compression.max_width", c.Compression.MaxWidth)
	v.SetDefault("compression.max_height", c.Compression.MaxHeight)
	v.SetDefault("compression.min_quality", c.Compression.MinQuality)
	v.SetDefault("compression.max_quality", c.Compression.MaxQuality)
	v.SetDefault("compression.quality_tolerance", c.Compression.QualityTolerance)
	v.SetDefault("compression.output_format", c.Compression.OutputFormat)
	v.SetDefault("compression.max_iterations", c.Compression.MaxIterations)
	v.SetDefault("compression.escalation", c.Compression.Escalation)
	v.SetDefault("compression.escalation_steps", c.Compression.EscalationSteps)
	v.SetDefault("compression.fallback_quality", c.Compression.FallbackQuality)
	v.SetDefault("compression.sharpen", c.Compression.Sharpen)
	v.SetDefault("compression.auto_orient", c.Compression.AutoOrient)

	v.SetDefault("batch.target_directory", c.Batch.TargetDirectory)
	v.SetDefault("batch.output_suffix", c.Batch.OutputSuffix)
	v.SetDefault("batch.worker_threads", c.Batch.WorkerThreads)
	v.SetDefault("batch.recursive", c.Batch.Recursive)
	v.SetDefault("batch.dry_run", c.Batch.DryRun)
	v.SetDefault("batch.skip_marked", c.Batch.SkipMarked)
	v.SetDefault("batch.mark_output", c.Batch.MarkOutput)
	v.SetDefault("batch.overwrite", c.Batch.Overwrite)
	v.SetDefault("batch.max_files_per_run", c.Batch.MaxFilesPerRun)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.console", c.Logging.Console)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate target directory if provided
	if c.Batch.TargetDirectory != "" {
		c.Batch.TargetDirectory = expandPath(c.Batch.TargetDirectory)
		if info, err := os.Stat(c.Batch.TargetDirectory); err == nil && !info.IsDir() {
			return fmt.Errorf("target_directory is not a directory: %s", c.Batch.TargetDirectory)
		}
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	if len(c.SupportedExtensions) == 0 {
		return fmt.Errorf("supported_extensions must not be empty")
	}

	if c.Batch.OutputSuffix == "" {
		c.Batch.OutputSuffix = "_magic"
	}
	if strings.ContainsAny(c.Batch.OutputSuffix, `/\`) {
		return fmt.Errorf("invalid output_suffix: %q", c.Batch.OutputSuffix)
	}
	if c.Batch.WorkerThreads <= 0 {
		c.Batch.WorkerThreads = 4
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 32
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if _, err := c.CompressionOptions(); err != nil {
		return err
	}
	return nil
}

// CompressionOptions converts the compression section into validated
// engine options.
func (c *Config) CompressionOptions() (compressor.CompressionOptions, error) {
	cc := c.Compression

	policy, err := compressor.ParseFormatPolicy(cc.OutputFormat)
	if err != nil {
		return compressor.CompressionOptions{}, compressor.NewConfigError("output_format", cc.OutputFormat, err)
	}
	mode, err := compressor.ParseEscalationMode(cc.Escalation)
	if err != nil {
		return compressor.CompressionOptions{}, compressor.NewConfigError("escalation", cc.Escalation, err)
	}

	return compressor.NewCompressionOptions(
		compressor.WithTargetSizeKB(cc.TargetSizeKB),
		compressor.WithMaxDimensions(cc.MaxWidth, cc.MaxHeight),
		compressor.WithQualityRange(cc.MinQuality, cc.MaxQuality),
		compressor.WithQualityTolerance(cc.QualityTolerance),
		compressor.WithOutputFormat(policy),
		compressor.WithMaxIterations(cc.MaxIterations),
		compressor.WithEscalation(mode),
		compressor.WithEscalationSteps(cc.EscalationSteps...),
		compressor.WithFallbackQuality(cc.FallbackQuality),
		compressor.WithSharpen(cc.Sharpen),
	)
}

// IsSupportedExtension checks if the extension is for a supported image file
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Helper functions

func expandPath(path string) string {
	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expandedPath
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}
	return expandedPath
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return normalized
}
