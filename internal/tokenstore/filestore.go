package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/nickknissen/aula-sub000/internal/auth/autherr"
)

// Storage is the persistence collaborator consumed by the lifecycle manager.
// Load returns (nil, nil) when no usable document exists; a malformed
// document is reported through the returned error but callers treat it as
// absence of cache.
type Storage interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record *Record) error
}

// FileStore persists the credential document as a JSON file, owner-readable
// only where the host OS supports it.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads and validates the persisted document. A missing file yields
// (nil, nil); an unreadable or malformed one yields (nil, *StorageError).
func (s *FileStore) Load(_ context.Context) (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("token file does not exist: %s", s.path)
			return nil, nil
		}
		return nil, &autherr.StorageError{Path: s.path, Err: err}
	}

	if !gjson.ValidBytes(data) || !gjson.GetBytes(data, "tokens").Exists() {
		return nil, &autherr.StorageError{Path: s.path, Err: fmt.Errorf("invalid token file format")}
	}

	var record Record
	if err = json.Unmarshal(data, &record); err != nil {
		return nil, &autherr.StorageError{Path: s.path, Err: err}
	}
	return &record, nil
}

// Save writes the document with 0600 permissions, creating parent
// directories as needed.
func (s *FileStore) Save(_ context.Context, record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return &autherr.StorageError{Path: s.path, Err: err}
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return &autherr.StorageError{Path: s.path, Err: err}
		}
	}
	if err = os.WriteFile(s.path, data, 0o600); err != nil {
		return &autherr.StorageError{Path: s.path, Err: err}
	}
	if runtime.GOOS != "windows" {
		if err = os.Chmod(s.path, 0o600); err != nil {
			return &autherr.StorageError{Path: s.path, Err: err}
		}
	}
	log.Debugf("tokens saved to %s", s.path)
	return nil
}
