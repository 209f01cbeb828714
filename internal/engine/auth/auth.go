package auth

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleReviewer    Role = "reviewer"
	RoleContributor Role = "contributor"
)

// ParseRole accepts the role names used in tokens, API keys and CLI flags.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleReviewer:
		return RoleReviewer, nil
	case RoleContributor, "":
		return RoleContributor, nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

// RoleFromClaims picks reviewer when any claimed role names it.
func RoleFromClaims(roles ...string) Role {
	for _, r := range roles {
		if Role(strings.ToLower(strings.TrimSpace(r))) == RoleReviewer {
			return RoleReviewer
		}
	}
	return RoleContributor
}

// Actor is the caller of a lifecycle operation. The role is derived by the
// authentication layer and trusted as given.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role" enum:"reviewer,contributor"`
}

func (a Actor) IsReviewer() bool { return a.Role == RoleReviewer }

// DisplayName falls back to the id when no name was supplied.
func (a Actor) DisplayName() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.ID
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// RequireReviewer guards operations only a reviewer may perform.
func RequireReviewer(a Actor, permission string) error {
	if !a.IsReviewer() {
		return ForbiddenError{Permission: permission}
	}
	return nil
}
