package access

import (
	"context"
	"sync"
)

// StaticOracle holds grants in memory. DefaultRole applies to every pair
// without an explicit grant.
type StaticOracle struct {
	DefaultRole Role

	mu     sync.RWMutex
	grants map[string]map[string]Role
}

func NewStaticOracle(defaultRole Role) *StaticOracle {
	return &StaticOracle{DefaultRole: defaultRole, grants: map[string]map[string]Role{}}
}

func (o *StaticOracle) Grant(documentID, userID string, role Role) {
	o.mu.Lock()
	defer o.mu.Unlock()
	users, ok := o.grants[documentID]
	if !ok {
		users = map[string]Role{}
		o.grants[documentID] = users
	}
	users[userID] = role
}

func (o *StaticOracle) Revoke(documentID, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.grants[documentID], userID)
	if len(o.grants[documentID]) == 0 {
		delete(o.grants, documentID)
	}
}

func (o *StaticOracle) RoleFor(ctx context.Context, documentID, userID string) (Role, error) {
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
	return o.DefaultRole, nil
}
