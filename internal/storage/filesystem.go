package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"server/internal/domain"
)

// Kind names an artifact produced by the pipeline for a job.
type Kind string

const (
	KindAudio     Kind = "audio"
	KindVideo     Kind = "video"
	KindThumbnail Kind = "thumbnail"
)

// Kinds lists every artifact kind a job may own.
var Kinds = []Kind{KindAudio, KindVideo, KindThumbnail}

func (k Kind) ext() string {
	switch k {
	case KindAudio:
		return ".mp3"
	case KindVideo:
		return ".mp4"
	case KindThumbnail:
		return ".jpg"
	default:
		return ".bin"
	}
}

// FileStore persists job artifacts onto the local filesystem. Keys derive
// deterministically from the job id and artifact kind, so lookups never need
// a separate index. Writes are once-per-kind: completed artifacts are never
// overwritten in place.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Key returns the storage key for a job's artifact of the given kind.
func Key(jobID string, kind Kind) string {
	return "jobs/" + jobID + "/" + string(kind) + kind.ext()
}

// Write persists data as the job's artifact of the given kind and returns the
// storage key. A second write for the same (job, kind) fails with ErrConflict.
func (s *FileStore) Write(ctx context.Context, jobID string, kind Kind, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateJobID(jobID); err != nil {
		return "", err
	}
	key := Key(jobID, kind)
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("storage: artifact %s already written for job %s: %w", kind, jobID, domain.ErrConflict)
		}
		return "", fmt.Errorf("storage: create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(fullPath)
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	return key, nil
}

// Read opens the job's artifact of the given kind for streaming and returns
// its size. The caller closes the reader.
func (s *FileStore) Read(ctx context.Context, jobID string, kind Kind) (io.ReadCloser, int64, error) {
	if s == nil {
		return nil, 0, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := validateJobID(jobID); err != nil {
		return nil, 0, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(Key(jobID, kind)))
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, fmt.Errorf("storage: open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("storage: stat file: %w", err)
	}
	return f, info.Size(), nil
}

// Delete removes every artifact belonging to the job. Deleting a job with no
// artifacts is not an error.
func (s *FileStore) Delete(ctx context.Context, jobID string) error {
	if s == nil {
		return errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateJobID(jobID); err != nil {
		return err
	}
	dir := filepath.Join(s.basePath, "jobs", jobID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("storage: delete artifacts: %w", err)
	}
	return nil
}

// validateJobID rejects ids that could escape the storage root.
func validateJobID(jobID string) error {
	if jobID == "" {
		return errors.New("storage: job id is required")
	}
	if strings.ContainsAny(jobID, "/\\") || strings.Contains(jobID, "..") {
		return fmt.Errorf("storage: invalid job id %q", jobID)
	}
	return nil
}
