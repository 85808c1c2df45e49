// Package access answers the single question a collaboration session asks
// about a user: what role, if any, do they hold on a document.
//
// Oracles are read-only from this service's point of view. Granting and
// revoking access is done elsewhere; the static and postgres oracles expose
// Grant only so that development setups and tests can seed them.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

type Role string

const (
	RoleNone   Role = ""
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleViewer:
		return RoleViewer, nil
	case "", "none":
		return RoleNone, nil
	default:
		return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

// CanEdit reports whether the role may submit content changes.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// Oracle resolves a user's role on a document. RoleNone with a nil error
// means the user has no access; a non-nil error means the answer is unknown.
type Oracle interface {
	RoleFor(ctx context.Context, documentID, userID string) (Role, error)
}
