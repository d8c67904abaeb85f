package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalDisk is the fallback Store used when R2 credentials are not
// configured. Files land under baseDir and are served back out by the
// static file handler mounted at publicPrefix (see server.go).
type LocalDisk struct {
	baseDir      string
	publicPrefix string
}

func NewLocalDisk(baseDir, publicPrefix string) (*LocalDisk, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalDisk{baseDir: baseDir, publicPrefix: publicPrefix}, nil
}

func (d *LocalDisk) Put(_ context.Context, objectKey, _ string, body io.Reader, _ int64) (string, error) {
	dst := filepath.Join(d.baseDir, filepath.Base(objectKey))
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return d.publicPrefix + "/" + filepath.Base(objectKey), nil
}

func (d *LocalDisk) Delete(_ context.Context, objectKey string) error {
	err := os.Remove(filepath.Join(d.baseDir, filepath.Base(objectKey)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
