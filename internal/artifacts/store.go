// Package artifacts implements the content-addressed artifact store of
// SPEC_FULL §4.1: content lives in "{id}{extension}", metadata in a sidecar
// "{id}.meta" JSON file, so listing never needs to interpret content bytes.
//
// Grounded on the teacher's internal/artifacts/local_store.go (file layout)
// and internal/artifacts/repository.go (Put/Get/List/Delete contract,
// logging via *slog.Logger).
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/agentmesh/runtime/pkg/models"
)

// ErrNotFound is returned by Get when the artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

const metaSuffix = ".meta"

// Content is the result of a successful Get.
type Content struct {
	Data []byte
	Meta *models.Artifact
}

// Store is the artifact store contract consumed by the tool executor and
// the capability router.
type Store interface {
	// Put writes content, assigns a uuid, and returns its "artifact:{id}"
	// reference. meta is optional free-form metadata merged onto the
	// sidecar record.
	Put(ctx context.Context, content []byte, artifactType string, meta map[string]any) (string, error)

	// PutWithExtension is like Put but records an explicit file extension
	// (including the leading dot) and MIME type, for content whose type
	// cannot be inferred from artifactType alone (e.g. images).
	PutWithExtension(ctx context.Context, content []byte, artifactType, extension, mimeType string, meta map[string]any) (string, error)

	// Get resolves a ref ("artifact:{id}" or a bare id) to its content and
	// metadata. Returns ErrNotFound if absent.
	Get(ctx context.Context, ref string) (*Content, error)

	// SaveImage stores raw image bytes under the "image" artifact type and
	// returns a generated filename (not a full ref) matching the
	// SPEC_FULL §4.1 saveImage contract used by run_javascript's canvas
	// export.
	SaveImage(ctx context.Context, data []byte, meta map[string]any) (string, error)

	// GenerateID returns a fresh uuid, exposed for callers that need to
	// pre-allocate an artifact id before content is ready.
	GenerateID() string

	// List returns the metadata records of stored artifacts whose type equals
	// typeFilter exactly ("" for all). Sidecar .meta files are never returned.
	List(ctx context.Context, typeFilter string) ([]*models.Artifact, error)

	// Prune removes artifacts created before the given time. Returns the
	// count removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// LocalStore is a filesystem-backed Store: content in "{dir}/{id}{ext}",
// metadata in "{dir}/{id}.meta".
type LocalStore struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewLocalStore creates a store rooted at dir, creating it if necessary.
func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

func refID(ref string) string {
	return strings.TrimPrefix(ref, "artifact:")
}

func (s *LocalStore) GenerateID() string {
	return uuid.NewString()
}

func (s *LocalStore) Put(ctx context.Context, content []byte, artifactType string, meta map[string]any) (string, error) {
	return s.PutWithExtension(ctx, content, artifactType, "", "", meta)
}

func (s *LocalStore) PutWithExtension(ctx context.Context, content []byte, artifactType, extension, mimeType string, meta map[string]any) (string, error) {
	id := s.GenerateID()
	if err := s.writeAtomic(id, content, extension); err != nil {
		return "", fmt.Errorf("write artifact content: %w", err)
	}

	art := &models.Artifact{
		ID:        id,
		Type:      artifactType,
		CreatedAt: time.Now(),
		Extension: extension,
		MimeType:  mimeType,
		Size:      int64(len(content)),
		Meta:      meta,
	}
	if err := s.writeMeta(art); err != nil {
		return "", fmt.Errorf("write artifact metadata: %w", err)
	}

	s.logger.Info("artifact stored", "id", id, "type", artifactType, "size", len(content))
	return art.Ref(), nil
}

func (s *LocalStore) SaveImage(ctx context.Context, data []byte, meta map[string]any) (string, error) {
	ref, err := s.PutWithExtension(ctx, data, "image", ".png", "image/png", meta)
	if err != nil {
		return "", err
	}
	return refID(ref) + ".png", nil
}

func (s *LocalStore) writeAtomic(id string, content []byte, extension string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, id+extension)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *LocalStore) writeMeta(art *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(art)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, art.ID+metaSuffix)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *LocalStore) readMeta(id string) (*models.Artifact, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+metaSuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var art models.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("corrupt artifact metadata %s: %w", id, err)
	}
	return &art, nil
}

func (s *LocalStore) Get(ctx context.Context, ref string) (*Content, error) {
	id := refID(ref)
	meta, err := s.readMeta(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+meta.Extension))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Content{Data: data, Meta: meta}, nil
}

func (s *LocalStore) List(ctx context.Context, typeFilter string) ([]*models.Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*models.Artifact
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, metaSuffix) {
			continue // listing must skip sidecar-adjacent content files
		}
		id := strings.TrimSuffix(name, metaSuffix)
		meta, err := s.readMeta(id)
		if err != nil {
			continue
		}
		if typeFilter != "" && meta.Type != typeFilter {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *LocalStore) Prune(ctx context.Context, before time.Time) (int, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}
	count := 0
	for _, art := range all {
		if art.CreatedAt.Before(before) {
			s.mu.Lock()
			os.Remove(filepath.Join(s.dir, art.ID+art.Extension))
			os.Remove(filepath.Join(s.dir, art.ID+metaSuffix))
			s.mu.Unlock()
			count++
		}
	}
	if count > 0 {
		s.logger.Info("pruned expired artifacts", "count", count)
	}
	return count, nil
}
