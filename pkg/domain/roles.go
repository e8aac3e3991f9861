package domain

import "sort"

// Role is a capability granted to an identity by the administrator.
type Role string

// Supported roles. Each role set is independent.
const (
	RoleManufacturer Role = "manufacturer"
	RoleDoctor       Role = "doctor"
	RolePharmacy     Role = "pharmacy"
)

// Roles lists every supported role.
var Roles = []Role{RoleManufacturer, RoleDoctor, RolePharmacy}

// Valid reports whether r is a supported role.
func (r Role) Valid() bool {
	switch r {
	case RoleManufacturer, RoleDoctor, RolePharmacy:
		return true
	}
	return false
}

// RoleSet holds the three capability sets and the administrator slot.
// Renounced marks the terminal state in which no administrator exists and no
// role may change again.
type RoleSet struct {
	Administrator Identity                       `json:"administrator"`
	Renounced     bool                           `json:"renounced"`
	Members       map[Role]map[Identity]struct{} `json:"members"`
}

// NewRoleSet returns an empty role set administered by admin.
func NewRoleSet(admin Identity) RoleSet {
	rs := RoleSet{Administrator: admin, Members: make(map[Role]map[Identity]struct{}, len(Roles))}
	for _, r := range Roles {
		rs.Members[r] = make(map[Identity]struct{})
	}
	return rs
}

// Has reports whether id holds role r.
func (rs RoleSet) Has(id Identity, r Role) bool {
	_, ok := rs.Members[r][id]
	return ok
}

// IsAdministrator reports whether id is the current administrator.
func (rs RoleSet) IsAdministrator(id Identity) bool {
	return !rs.Renounced && !id.IsZero() && rs.Administrator == id
}

// List returns the members of role r sorted ascending.
func (rs RoleSet) List(r Role) []Identity {
	out := make([]Identity, 0, len(rs.Members[r]))
	for id := range rs.Members[r] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone deep-copies the role set.
func (rs RoleSet) Clone() RoleSet {
	cp := RoleSet{Administrator: rs.Administrator, Renounced: rs.Renounced, Members: make(map[Role]map[Identity]struct{}, len(Roles))}
	for _, r := range Roles {
		set := make(map[Identity]struct{}, len(rs.Members[r]))
		for id := range rs.Members[r] {
			set[id] = struct{}{}
		}
		cp.Members[r] = set
	}
	return cp
}
