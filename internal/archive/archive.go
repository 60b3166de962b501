// Package archive persists finalized execution records to object storage.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/pkg/types"
)

// ErrNotFound is returned when no archived object exists at a path.
var ErrNotFound = errors.New("archive object not found")

// ErrPresignUnsupported is returned by backends without presigned URLs.
var ErrPresignUnsupported = errors.New("presigned URLs not supported by this backend")

// ArchiveRef describes a stored archive object.
type ArchiveRef struct {
	// URI is the full object path (e.g., "s3://bucket/executions/exec-1.json")
	URI string `json:"uri"`

	// ContentType is the MIME type
	ContentType string `json:"content_type,omitempty"`

	// Size in bytes
	Size int64 `json:"size,omitempty"`

	// Checksum (SHA256)
	Checksum string `json:"checksum,omitempty"`

	// CreatedAt timestamp
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Backend defines the object storage interface.
type Backend interface {
	// Put stores data at a path and returns a reference
	Put(ctx context.Context, path string, data io.Reader, contentType string) (*ArchiveRef, error)

	// Get retrieves the object at a path
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at a path
	Delete(ctx context.Context, path string) error

	// PresignGet generates a presigned download URL for a path
	PresignGet(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// Config holds archive service configuration.
type Config struct {
	// Backend type: "memory", "s3", "minio"
	Backend string

	// S3/MinIO configuration
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// PresignTTL bounds the lifetime of download URLs
	PresignTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:    "memory",
		Bucket:     "flowmesh-archive",
		Region:     "us-east-1",
		PresignTTL: 15 * time.Minute,
	}
}

// Service archives execution records as JSON objects.
type Service struct {
	backend    Backend
	presignTTL time.Duration
}

// New creates an archive service for the configured backend.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	presignTTL := cfg.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}

	var backend Backend
	switch cfg.Backend {
	case "memory":
		backend = NewMemoryBackend()
	case "s3", "minio":
		s3Backend, err := NewS3Backend(cfg)
		if err != nil {
			return nil, fmt.Errorf("create s3 backend: %w", err)
		}
		backend = s3Backend
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}

	return &Service{backend: backend, presignTTL: presignTTL}, nil
}

// NewWithBackend creates a service over an existing backend.
func NewWithBackend(backend Backend, presignTTL time.Duration) *Service {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Service{backend: backend, presignTTL: presignTTL}
}

// executionKey returns the object path for an execution record.
func executionKey(executionID string) string {
	return fmt.Sprintf("executions/%s.json", executionID)
}

// ArchiveExecution stores the record as a JSON object.
func (s *Service) ArchiveExecution(ctx context.Context, exec *types.Execution) (*ArchiveRef, error) {
	if exec == nil || exec.ID == "" {
		return nil, errors.New("execution record with ID is required")
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return nil, fmt.Errorf("marshal execution: %w", err)
	}

	ref, err := s.backend.Put(ctx, executionKey(exec.ID), bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, fmt.Errorf("archive execution %s: %w", exec.ID, err)
	}

	return ref, nil
}

// LoadExecution reads an archived record back.
func (s *Service) LoadExecution(ctx context.Context, executionID string) (*types.Execution, error) {
	body, err := s.backend.Get(ctx, executionKey(executionID))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read archived execution: %w", err)
	}

	var exec types.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal archived execution: %w", err)
	}

	return &exec, nil
}

// DownloadURL returns a presigned URL for an archived record.
// Returns ErrPresignUnsupported when the backend cannot presign.
func (s *Service) DownloadURL(ctx context.Context, executionID string) (string, error) {
	return s.backend.PresignGet(ctx, executionKey(executionID), s.presignTTL)
}

// Delete removes an archived record.
func (s *Service) Delete(ctx context.Context, executionID string) error {
	return s.backend.Delete(ctx, executionKey(executionID))
}

// MemoryBackend provides in-memory object storage for tests and
// single-node deployments.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
}

type memoryObject struct {
	ref  *ArchiveRef
	data []byte
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]*memoryObject),
	}
}

func (m *MemoryBackend) Put(ctx context.Context, path string, data io.Reader, contentType string) (*ArchiveRef, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(content)

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ref := &ArchiveRef{
		URI:         fmt.Sprintf("memory://%s", path),
		ContentType: contentType,
		Size:        int64(len(content)),
		Checksum:    hex.EncodeToString(hash[:]),
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.objects[path] = &memoryObject{ref: ref, data: content}
	m.mu.Unlock()

	return ref, nil
}

func (m *MemoryBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) PresignGet(ctx context.Context, path string, expiry time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// List returns references for stored objects under a prefix.
func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]*ArchiveRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []*ArchiveRef
	for path, obj := range m.objects {
		if strings.HasPrefix(path, prefix) {
			refs = append(refs, obj.ref)
		}
	}
	return refs, nil
}

// Verify interface compliance
var _ Backend = (*MemoryBackend)(nil)
