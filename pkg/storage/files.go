package storage

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mercator-hq/llmtap/pkg/capture"
)

// FileStore reads and writes capture documents in one directory. It is
// safe for concurrent use; every capture gets a distinct file name.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, &PersistenceError{Op: "open", Cause: fmt.Errorf("no capture directory")}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "open", Path: dir, Cause: err}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, logger: logger.With("component", "storage.files")}, nil
}

// Dir returns the capture directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the absolute location of name inside the store. Names
// that already contain a directory are returned unchanged.
func (s *FileStore) Path(name string) string {
	if filepath.Base(name) != name {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Save writes c and returns the document path. The document appears
// atomically: it is written to a temporary file and renamed.
func (s *FileStore) Save(c *capture.Capture) (string, error) {
	data, err := capture.Marshal(c)
	if err != nil {
		return "", &PersistenceError{Op: "save", Cause: err}
	}
	path := filepath.Join(s.dir, CaptureFileName(c))
	if err := writeAtomic(path, data); err != nil {
		return "", &PersistenceError{Op: "save", Path: path, Cause: err}
	}
	s.logger.Debug("capture saved", "capture_id", c.ID, "path", path, "bytes", len(data))
	return path, nil
}

// WriteDumps writes the raw request body (when present) and the
// concatenated response body (when a response exists). It returns the
// paths written.
func (s *FileStore) WriteDumps(c *capture.Capture) ([]string, error) {
	var paths []string
	if len(c.Request.Body) > 0 {
		path := filepath.Join(s.dir, DumpFileName(c, DumpRequest))
		if err := writeAtomic(path, c.Request.Body); err != nil {
			return paths, &PersistenceError{Op: "dump", Path: path, Cause: err}
		}
		paths = append(paths, path)
	}
	if c.Response != nil {
		path := filepath.Join(s.dir, DumpFileName(c, DumpResponse))
		if err := writeAtomic(path, c.Response.Body()); err != nil {
			return paths, &PersistenceError{Op: "dump", Path: path, Cause: err}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Load reads a capture document.
func (s *FileStore) Load(path string) (*capture.Capture, error) {
	path = s.Path(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Cause: err}
	}
	c, err := capture.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Cause: err}
	}
	return c, nil
}

// Remove deletes a capture document and every dump that shares its time
// and ID suffix. Missing files are not an error.
func (s *FileStore) Remove(path string) error {
	path = s.Path(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &PersistenceError{Op: "remove", Path: path, Cause: err}
	}
	name := filepath.Base(path)
	if !IsCaptureFile(name) {
		return nil
	}
	suffix := "-" + strings.TrimPrefix(name, capturePrefix)
	dumps, err := filepath.Glob(filepath.Join(s.dir, dumpPrefix+"*"+suffix))
	if err != nil {
		return &PersistenceError{Op: "remove", Path: path, Cause: err}
	}
	for _, d := range dumps {
		if err := os.Remove(d); err != nil && !os.IsNotExist(err) {
			return &PersistenceError{Op: "remove", Path: d, Cause: err}
		}
	}
	return nil
}

// List returns the capture documents in the directory, oldest first.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Path: s.dir, Cause: err}
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsCaptureFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
