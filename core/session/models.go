package session

import (
	"encoding/json"
	"sort"
)

// User is the profile record returned by the backend. Fields the console does not
// interpret are kept in Extra so they survive a snapshot round trip.
type User struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Email string                 `json:"email,omitempty"`
	Role  string                 `json:"role"`
	Extra map[string]interface{} `json:"-"`
}

var userKnownFields = []string{"id", "_id", "name", "email", "role"}

func (u User) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(u.Extra)+4)
	for k, v := range u.Extra {
		m[k] = v
	}
	m["id"] = u.ID
	m["name"] = u.Name
	m["role"] = u.Role
	if u.Email != "" {
		m["email"] = u.Email
	}
	return json.Marshal(m)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User{
		ID:    idString(raw["id"]),
		Name:  str(raw["name"]),
		Email: str(raw["email"]),
		Role:  str(raw["role"]),
	}
	if u.ID == "" {
		u.ID = idString(raw["_id"])
	}
	for _, k := range userKnownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		u.Extra = raw
	}
	return nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// idString accepts both string and numeric ids.
func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return formatFloat(id)
	}
	return ""
}

func formatFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// PermissionSet is an immutable set of permission names.
// The zero value is a valid empty set.
type PermissionSet struct {
	names map[string]struct{}
}

func NewPermissionSet(names ...string) PermissionSet {
	set := PermissionSet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if name != "" {
			set.names[name] = struct{}{}
		}
	}
	return set
}

func (ps PermissionSet) Has(name string) bool {
	_, ok := ps.names[name]
	return ok
}

func (ps PermissionSet) Len() int {
	return len(ps.names)
}

// Names returns the permissions sorted alphabetically.
func (ps PermissionSet) Names() []string {
	names := make([]string, 0, len(ps.names))
	for name := range ps.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ps PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ps.Names())
}

func (ps *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*ps = NewPermissionSet(names...)
	return nil
}

// Session is the authenticated identity snapshot. Values handed out by the Store
// are never modified afterwards.
type Session struct {
	User            *User
	AccessToken     string
	RefreshToken    string
	Permissions     PermissionSet
	IsAuthenticated bool
}

func (s Session) HasToken() bool {
	return s.AccessToken != ""
}

// Snapshot is the durable form of a Session. It holds the same five fields and nothing transient.
type Snapshot struct {
	User            *User         `json:"user"`
	Token           string        `json:"token"`
	RefreshToken    string        `json:"refreshToken"`
	Permissions     PermissionSet `json:"permissions"`
	IsAuthenticated bool          `json:"isAuthenticated"`
}

func (s Session) Snapshot() Snapshot {
	return Snapshot{
		User:            s.User,
		Token:           s.AccessToken,
		RefreshToken:    s.RefreshToken,
		Permissions:     s.Permissions,
		IsAuthenticated: s.IsAuthenticated,
	}
}

// Session restores a Session from its snapshot, dropping the authenticated flag
// when the snapshot carries no access token.
func (snap Snapshot) Session() Session {
	sess := Session{
		User:            snap.User,
		AccessToken:     snap.Token,
		RefreshToken:    snap.RefreshToken,
		Permissions:     snap.Permissions,
		IsAuthenticated: snap.IsAuthenticated && snap.Token != "",
	}
	if sess.Permissions.names == nil {
		sess.Permissions = NewPermissionSet()
	}
	return sess
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Extra != nil {
		cp.Extra = make(map[string]interface{}, len(u.Extra))
		for k, v := range u.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}
