package metadata

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// ErrExiftoolUnavailable is returned when the exiftool binary is missing.
var ErrExiftoolUnavailable = errors.New("exiftool not found in PATH")

// ExiftoolAvailable reports whether the exiftool binary can be found.
func ExiftoolAvailable() bool {
	_, err := exec.LookPath("exiftool")
	return err == nil
}

// ExiftoolInspector dumps every tag exiftool knows about. A single
// exiftool process is started lazily and reused.
type ExiftoolInspector struct {
	logger *logrus.Logger

	once sync.Once
	mu   sync.Mutex
	et   *exiftool.Exiftool
	err  error
}

// NewExiftoolInspector returns an inspector backed by a long-running
// exiftool process.
func NewExiftoolInspector(logger *logrus.Logger) *ExiftoolInspector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExiftoolInspector{logger: logger}
}

func (i *ExiftoolInspector) start() error {
	i.once.Do(func() {
		if !ExiftoolAvailable() {
			i.err = ErrExiftoolUnavailable
			return
		}
		i.et, i.err = exiftool.NewExiftool()
	})
	return i.err
}

// Fields returns all metadata fields of a file.
func (i *ExiftoolInspector) Fields(filePath string) (map[string]interface{}, error) {
	if err := i.start(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	files := i.et.ExtractMetadata(filePath)
	i.mu.Unlock()

	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", filePath)
	}
	if files[0].Err != nil {
		return nil, files[0].Err
	}
	return files[0].Fields, nil
}

// HasMarker checks the Software tag with exiftool.
func (i *ExiftoolInspector) HasMarker(filePath string) bool {
	fields, err := i.Fields(filePath)
	if err != nil {
		i.logger.Debugf("exiftool marker check failed for %s: %v", filePath, err)
		return false
	}
	sw, _ := fields["Software"].(string)
	return containsMarker(sw)
}

// Close stops the exiftool process if one was started.
func (i *ExiftoolInspector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.et == nil {
		return nil
	}
	err := i.et.Close()
	i.et = nil
	return err
}

// SortedKeys returns the field names in alphabetical order.
func SortedKeys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExiftoolMarker copies metadata and writes the marker with the exiftool
// binary.
type ExiftoolMarker struct {
	binary string
}

// NewExiftoolMarker returns a marker invoking exiftool from PATH.
func NewExiftoolMarker() *ExiftoolMarker {
	return &ExiftoolMarker{binary: "exiftool"}
}

// MarkOutput copies EXIF from src to dst and sets the Software tag to
// MarkerValue. Orientation is reset since outputs are stored upright.
func (m *ExiftoolMarker) MarkOutput(src, dst string) error {
	if _, err := exec.LookPath(m.binary); err != nil {
		return ErrExiftoolUnavailable
	}
	cmdCopy := exec.Command(m.binary, "-q", "-TagsFromFile", src, "-overwrite_original", dst)
	if out, err := cmdCopy.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool copy failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	cmdSet := exec.Command(m.binary, "-q", "-overwrite_original", "-Software="+MarkerValue, "-Orientation#=1", dst)
	if out, err := cmdSet.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool set Software failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
