// Package docstore persists document content on behalf of collaboration
// sessions. A session only ever overwrites the whole content of a document;
// there is no partial update and no revision check.
package docstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

type Document struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	LastEditedBy string    `json:"lastEditedBy,omitempty"`
	AutosaveAt   time.Time `json:"autosaveAt"`
}

// Store is the document store gateway. Write replaces the content of the
// document and creates it when it does not exist yet.
type Store interface {
	Read(ctx context.Context, documentID string) (Document, error)
	Write(ctx context.Context, documentID, content, editorUserID string, at time.Time) error
}

// Close releases the resources held by store when it has any.
func Close(store Store) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]Document{}}
}

func (s *MemoryStore) Read(ctx context.Context, documentID string) (Document, error) {
	if documentID == "" {
		return Document{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) Write(ctx context.Context, documentID, content, editorUserID string, at time.Time) error {
	if documentID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[documentID] = Document{
		ID:           documentID,
		Content:      content,
		LastEditedBy: editorUserID,
		AutosaveAt:   at.UTC(),
	}
	return nil
}
