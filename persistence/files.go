package persistence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SaveToFile writes a single file crash-safely: content goes to a temp file
// in the target directory, is fsynced, then atomically renamed over the
// target. Readers never observe a partially written file.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Temp file in the same directory so the rename cannot cross filesystems.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	tmpName = ""

	syncDir(dir)
	return nil
}

// LoadFromFile opens a file and hands a buffered reader to readFunc.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024)
	return readFunc(buf)
}

// AtomicSaveToDir saves multiple files to a directory as one commit: every
// file is fully written and fsynced to a temp name first, then all are
// renamed into place. A failure before the rename phase leaves the previous
// snapshot untouched. A crash between renames is possible on power loss;
// callers detect it on load by cross-checking the artifacts against each
// other (the metadata log is authoritative).
func AtomicSaveToDir(dir string, files map[string]func(io.Writer) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistence: create directory %s: %w", dir, err)
	}

	tempFiles := make([]string, 0, len(files))
	defer func() {
		for _, tmp := range tempFiles {
			_ = os.Remove(tmp)
		}
	}()

	type fileMapping struct {
		temp   string
		target string
	}
	mappings := make([]fileMapping, 0, len(files))

	for filename, writeFunc := range files {
		target := filepath.Join(dir, filename)

		tmp, err := os.CreateTemp(dir, filename+".tmp-*")
		if err != nil {
			return fmt.Errorf("persistence: create temp file for %s: %w", filename, err)
		}
		tempFiles = append(tempFiles, tmp.Name())
		_ = tmp.Chmod(0o644)

		buf := bufio.NewWriterSize(tmp, 256*1024)
		if err := writeFunc(buf); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: write %s: %w", filename, err)
		}
		if err := buf.Flush(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: flush %s: %w", filename, err)
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("persistence: sync %s: %w", filename, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("persistence: close %s: %w", filename, err)
		}

		mappings = append(mappings, fileMapping{temp: tmp.Name(), target: target})
	}

	for _, m := range mappings {
		if err := os.Rename(m.temp, m.target); err != nil {
			return fmt.Errorf("persistence: rename %s: %w", m.target, err)
		}
	}
	tempFiles = nil

	syncDir(dir)
	return nil
}

// syncDir fsyncs a directory so renames within it are durable on POSIX.
// Best-effort: some platforms reject directory fsync.
func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
