package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSON file per document under Dir. Writes go to a
// temporary file that is renamed into place, and are serialized across
// processes with an advisory lock on Dir/.lock.
type FileStore struct {
	Dir string

	mu sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: strings.TrimSpace(dir)}
}

func (s *FileStore) Read(ctx context.Context, documentID string) (Document, error) {
	path, err := s.documentPath(documentID)
	if err != nil {
		return Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *FileStore) Write(ctx context.Context, documentID, content, editorUserID string, at time.Time) error {
	path, err := s.documentPath(documentID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Document{
		ID:           documentID,
		Content:      content,
		LastEditedBy: editorUserID,
		AutosaveAt:   at.UTC(),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	unlock, err := lockFile(filepath.Join(s.Dir, ".lock"))
	if err != nil {
		return err
	}
	defer unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) documentPath(documentID string) (string, error) {
	if s == nil || s.Dir == "" || strings.TrimSpace(documentID) == "" {
		return "", ErrInvalidInput
	}
	return filepath.Join(s.Dir, url.PathEscape(documentID)+".json"), nil
}
