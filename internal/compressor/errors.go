package compressor

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when no input bytes were supplied.
	ErrEmptyInput = errors.New("empty input")
	// ErrUnsupportedFormat is returned for formats the codec cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ConfigError reports an invalid CompressionOptions field. It is raised
// before any decoding or encoding takes place.
type ConfigError struct {
	Field string
	Value any
	Err   error
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value any, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid option %s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DecodeError reports malformed or unsupported input. It aborts the run
// for that input only.
type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a codec rejecting an encode attempt.
type EncodeError struct {
	Format  Format
	Width   int
	Height  int
	Quality float64
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s %dx%d q=%.2f: %v", e.Format, e.Width, e.Height, e.Quality, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// IsConfigError checks if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsDecodeError checks if err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsEncodeError checks if err is or wraps an EncodeError.
func IsEncodeError(err error) bool {
	var ee *EncodeError
	return errors.As(err, &ee)
}
