// Package permission decides whether a permission set satisfies a requirement.
// Evaluation is pure: it only looks at its two inputs.
package permission

import "strings"

// Mode tells how a list of permissions combines.
type Mode string

const (
	ModeAny Mode = "any"
	ModeAll Mode = "all"
)

// Requirement is either a single permission name or a list of names plus a Mode.
// The zero Requirement means open access.
type Requirement struct {
	Permission  string   `yaml:"permission,omitempty" json:"permission,omitempty"`
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Mode        Mode     `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Checker is anything that can answer permission membership (session.PermissionSet, Names).
type Checker interface {
	Has(name string) bool
}

// Require builds a single-permission Requirement.
func Require(name string) Requirement {
	return Requirement{Permission: name}
}

// RequireAny is satisfied by at least one of names.
func RequireAny(names ...string) Requirement {
	return Requirement{Permissions: names, Mode: ModeAny}
}

// RequireAll is satisfied only by every one of names.
func RequireAll(names ...string) Requirement {
	return Requirement{Permissions: names, Mode: ModeAll}
}

func (r Requirement) IsOpen() bool {
	return r.Permission == "" && len(r.Permissions) == 0
}

func (r Requirement) String() string {
	switch {
	case r.IsOpen():
		return "open"
	case r.Permission != "":
		return r.Permission
	case r.Mode == ModeAll:
		return "all(" + strings.Join(r.Permissions, ",") + ")"
	default:
		return "any(" + strings.Join(r.Permissions, ",") + ")"
	}
}

// Evaluate reports whether perms satisfies req.
func Evaluate(req Requirement, perms Checker) bool {
	if req.IsOpen() {
		return true
	}
	if perms == nil {
		return false
	}
	if req.Permission != "" {
		return perms.Has(req.Permission)
	}
	if req.Mode == ModeAll {
		for _, name := range req.Permissions {
			if !perms.Has(name) {
				return false
			}
		}
		return true
	}
	for _, name := range req.Permissions {
		if perms.Has(name) {
			return true
		}
	}
	return false
}

// Names is a Checker over a plain list of permission names.
type Names []string

func (n Names) Has(name string) bool {
	for _, p := range n {
		if p == name {
			return true
		}
	}
	return false
}
