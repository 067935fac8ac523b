// Package local writes exported artifacts to a directory on disk.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory exports are written under.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes exports to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	probe, err := os.CreateTemp(base, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return &BlobStore{baseDir: filepath.Clean(base)}, nil
}

// PutObject writes data below the base directory and returns a file:// URI.
// The file is written to a temporary name and renamed into place so readers
// never observe a partial export.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename export: %w", err)
	}
	return "file://" + fullPath, nil
}
