package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// markerExtensions are the formats whose outputs carry the EXIF marker.
var markerExtensions = []string{".jpg", ".jpeg"}

// collectImageFiles walks paths and returns supported image files.
// Plain file arguments are taken as they are if their extension matches.
func (r *Runner) collectImageFiles(paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string

	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", root, err)
		}
		if !info.IsDir() {
			if r.config.IsSupportedExtension(filepath.Ext(root)) {
				add(root)
			}
			continue
		}

		err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				r.logger.Warnf("Error accessing path %s: %v", path, err)
				return nil
			}
			if info.IsDir() {
				if path != root && !r.config.Batch.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if r.config.IsSupportedExtension(filepath.Ext(path)) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	if max := r.config.Batch.MaxFilesPerRun; max > 0 && len(files) > max {
		r.logger.Infof("Reached maximum files limit (%d), ignoring %d files", max, len(files)-max)
		files = files[:max]
	}
	return files, nil
}

// filterUnmarked splits files into those still to compress and those
// that are outputs of an earlier run. Marker checks run in parallel.
func (r *Runner) filterUnmarked(files []string) (pending, marked []string) {
	isMarked := make([]bool, len(files))

	var wg sync.WaitGroup
	fileChan := make(chan int)
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range fileChan {
				isMarked[idx] = r.isMarked(files[idx])
			}
		}()
	}
	for i := range files {
		fileChan <- i
	}
	close(fileChan)
	wg.Wait()

	for i, f := range files {
		if isMarked[i] {
			marked = append(marked, f)
		} else {
			pending = append(pending, f)
		}
	}
	return pending, marked
}

func (r *Runner) isMarked(path string) bool {
	ext := filepath.Ext(path)
	if strings.HasSuffix(strings.TrimSuffix(filepath.Base(path), ext), r.config.Batch.OutputSuffix) {
		return true
	}
	if r.checker == nil || !slices.Contains(markerExtensions, strings.ToLower(ext)) {
		return false
	}
	return r.checker.HasMarker(path)
}

// outputPath returns <dir>/<name><suffix><ext> for the given source.
func (r *Runner) outputPath(source, ext string) string {
	dir := r.config.Batch.TargetDirectory
	if dir == "" {
		dir = filepath.Dir(source)
	}
	base := filepath.Base(source)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+r.config.Batch.OutputSuffix+ext)
}

// generateUniqueFilename returns a unique filename by adding a counter.
func generateUniqueFilename(basePath string) string {
	dir := filepath.Dir(basePath)
	name := filepath.Base(basePath)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)

	counter := 1
	for {
		newPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			return newPath
		}
		counter++
	}
}

// copyFile copies a file from source to destination.
func copyFile(sourcePath, destPath string) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	return os.Chmod(destPath, sourceInfo.Mode())
}
