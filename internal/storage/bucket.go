package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	errMissingRoot = errors.New("storage: root directory is required")
	// ErrInvalidBucket indicates a bucket name outside the allowed charset.
	ErrInvalidBucket = errors.New("storage: invalid bucket name")
	// ErrInvalidPath indicates an empty path or one escaping its bucket.
	ErrInvalidPath = errors.New("storage: invalid object path")
	// ErrObjectNotFound indicates no object exists at the path.
	ErrObjectNotFound = errors.New("storage: object not found")
)

// Store keeps uploaded files on disk under root/<bucket>/<path> and exposes
// them via public URLs under publicBase. Re-uploading to an existing path
// overwrites the object (avatar replacement relies on this).
type Store struct {
	root       string
	publicBase string
	logger     *zap.Logger
	mu         sync.Mutex
}

// Config describes a disk-backed store.
type Config struct {
	Root          string
	PublicBaseURL string
	Logger        *zap.Logger
}

// NewStore constructs the store and ensures the root directory exists.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errMissingRoot
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		root:       cfg.Root,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:     logger,
	}, nil
}

// Upload writes the object and returns its public URL.
func (s *Store) Upload(bucket, path string, data []byte) (string, error) {
	cleanBucket, cleanPath, err := s.resolve(bucket, path)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.root, cleanBucket, filepath.FromSlash(cleanPath))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		s.logger.Error("object write failed", zap.Error(err),
			zap.String("bucket", cleanBucket), zap.String("path", cleanPath))
		return "", err
	}

	s.logger.Info("object stored",
		zap.String("bucket", cleanBucket),
		zap.String("path", cleanPath),
		zap.Int("bytes", len(data)))
	return fmt.Sprintf("%s/storage/%s/%s", s.publicBase, cleanBucket, cleanPath), nil
}

// Open returns the object's bytes.
func (s *Store) Open(bucket, path string) ([]byte, error) {
	cleanBucket, cleanPath, err := s.resolve(bucket, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, cleanBucket, filepath.FromSlash(cleanPath)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) resolve(bucket, path string) (string, string, error) {
	cleanBucket := strings.TrimSpace(bucket)
	if cleanBucket == "" || strings.ContainsAny(cleanBucket, "/\\.") {
		return "", "", ErrInvalidBucket
	}

	cleanPath := strings.TrimSpace(strings.Trim(path, "/"))
	if cleanPath == "" {
		return "", "", ErrInvalidPath
	}
	normalized := filepath.ToSlash(filepath.Clean(cleanPath))
	if normalized == "." || strings.HasPrefix(normalized, "..") || strings.Contains(normalized, "/../") {
		return "", "", ErrInvalidPath
	}
	return cleanBucket, normalized, nil
}
