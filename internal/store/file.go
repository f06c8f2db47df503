package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File keeps the snapshot in a single file. Writes go to a temporary file in
// the same directory which is then renamed over the target, so readers never
// observe a partially written document.
type File struct {
	path string
	// flush syncs a staged file to disk.
	flush   func(*os.File) error
	pending sync.WaitGroup
}

// OpenFile prepares a file store at path. The file itself is created lazily
// on the first Write; its directory is created up front.
func OpenFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state path is required")
	}
	clean := filepath.Clean(path)
	if dir := filepath.Dir(clean); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return &File{path: clean, flush: (*os.File).Sync}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Backend() string {
	return BackendFile
}

func (f *File) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return data, nil
}

// Write stages data in a temporary file and renames it over the snapshot.
// The write and fsync run in the background; if ctx ends first, Write
// returns ctx.Err() without renaming and the temporary file is removed once
// the stalled write returns.
func (f *File) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()

	staged := make(chan error, 1)
	f.pending.Add(1)
	go func() {
		staged <- f.stage(tmp, data)
	}()

	select {
	case err := <-staged:
		f.pending.Done()
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			os.Remove(tmpPath)
			return err
		}
	case <-ctx.Done():
		go func() {
			defer f.pending.Done()
			<-staged
			os.Remove(tmpPath)
		}()
		return ctx.Err()
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (f *File) stage(tmp *os.File, data []byte) error {
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := f.flush(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	return nil
}

// Close waits for abandoned writes to clean up their temporary files.
func (f *File) Close() error {
	f.pending.Wait()
	return nil
}
