package client

import "sync"

// MemorySurface is a Surface holding plain content, for headless clients.
// When OnSet is non-nil it is called after every SetContent, the way rich
// editors report programmatic writes as change events.
type MemorySurface struct {
	OnSet func(content string)

	mu      sync.Mutex
	content string
}

func NewMemorySurface(content string) *MemorySurface {
	return &MemorySurface{content: content}
}

func (s *MemorySurface) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

func (s *MemorySurface) SetContent(content string) {
	s.mu.Lock()
	s.content = content
	onSet := s.OnSet
	s.mu.Unlock()
	if onSet != nil {
		onSet(content)
	}
}
