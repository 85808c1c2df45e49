package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// aclFile is the on-disk format read by FileOracle:
//
//	{"defaultRole": "", "documents": {"doc-1": {"user-a": "owner"}}}
type aclFile struct {
	DefaultRole string                       `json:"defaultRole,omitempty"`
	Documents   map[string]map[string]string `json:"documents"`
}

// FileOracle serves grants from a JSON file and reloads it whenever the file
// changes on disk. A reload that fails to parse keeps the previous grants.
type FileOracle struct {
	path string

	mu     sync.RWMutex
	grants map[string]map[string]Role
	def    Role

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  sync.Once
}

func NewFileOracle(path string) (*FileOracle, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	o := &FileOracle{path: abs, grants: map[string]map[string]Role{}, done: make(chan struct{})}
	if err := o.reload(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so editors that replace the file by rename are seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	o.watcher = watcher
	go o.watch()
	return o, nil
}

func (o *FileOracle) RoleFor(ctx context.Context, documentID, userID string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return RoleNone, err
	}
	if documentID == "" || userID == "" {
		return RoleNone, ErrInvalidInput
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if role, ok := o.grants[documentID][userID]; ok {
		return role, nil
	}
	return o.def, nil
}

func (o *FileOracle) Close() error {
	var err error
	o.closed.Do(func() {
		close(o.done)
		if o.watcher != nil {
			err = o.watcher.Close()
		}
	})
	return err
}

func (o *FileOracle) watch() {
	for {
		select {
		case <-o.done:
			return
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != o.path {
				continue
			}
			// Remove and Rename reload too: a missing file denies everyone.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := o.reload(); err != nil {
				glog.Warningf("access: reload %s: %v", o.path, err)
				continue
			}
			glog.V(1).Infof("access: reloaded %s", o.path)
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			glog.Warningf("access: watch %s: %v", o.path, err)
		}
	}
}

func (o *FileOracle) reload() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			o.swap(map[string]map[string]Role{}, RoleNone)
			return nil
		}
		return err
	}
	var parsed aclFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	def, err := ParseRole(parsed.DefaultRole)
	if err != nil {
		return err
	}
	grants := make(map[string]map[string]Role, len(parsed.Documents))
	for documentID, users := range parsed.Documents {
		grants[documentID] = make(map[string]Role, len(users))
		for userID, raw := range users {
			role, err := ParseRole(raw)
			if err != nil {
				return fmt.Errorf("document %q user %q: %w", documentID, userID, err)
			}
			grants[documentID][userID] = role
		}
	}
	o.swap(grants, def)
	return nil
}

func (o *FileOracle) swap(grants map[string]map[string]Role, def Role) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.grants = grants
	o.def = def
}
