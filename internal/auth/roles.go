// Package auth provides the rank catalog, authorization predicates and
// identity resolution for hub sessions.
package auth

import "strings"

// Role is a rank from the fixed PSP hierarchy. The string value is the rank
// name as stored in role documents and roster records.
type Role string

// Direção Nacional
const (
	RoleNationalDirector       Role = "Diretor Nacional"
	RoleDeputyNationalDirector Role = "Diretor Nacional Adjunto"
)

// Carreira de Oficiais
const (
	RoleChiefSuperintendent Role = "Superintendente-Chefe"
	RoleSuperintendent      Role = "Superintendente"
	RoleIntendant           Role = "Intendente"
	RoleSubintendant        Role = "Subintendente"
	RoleCommissioner        Role = "Comissário"
	RoleSubcommissioner     Role = "Subcomissário"
)

// Carreira de Chefes
const (
	RoleCoordinatingChief Role = "Chefe Coordenador"
	RolePrincipalChief    Role = "Chefe Principal"
	RoleChief             Role = "Chefe"
)

// Carreira de Agentes
const (
	RoleCoordinatingAgent Role = "Agente Coordenador"
	RolePrincipalAgent    Role = "Agente Principal"
	RoleAgent             Role = "Agente"
	RoleProvisionalAgent  Role = "Agente Provisório"
)

// DefaultRole is assigned to any identity or record whose rank is unknown.
const DefaultRole = RoleAgent

// catalog lists every rank from the top down. Levels strictly decrease.
var catalog = []rankInfo{
	{RoleNationalDirector, 100, "Direção Nacional"},
	{RoleDeputyNationalDirector, 90, "Direção Nacional"},
	{RoleChiefSuperintendent, 80, "Carreira de Oficiais"},
	{RoleSuperintendent, 70, "Carreira de Oficiais"},
	{RoleIntendant, 60, "Carreira de Oficiais"},
	{RoleSubintendant, 50, "Carreira de Oficiais"},
	{RoleCommissioner, 40, "Carreira de Oficiais"},
	{RoleSubcommissioner, 35, "Carreira de Oficiais"},
	{RoleCoordinatingChief, 30, "Carreira de Chefes"},
	{RolePrincipalChief, 28, "Carreira de Chefes"},
	{RoleChief, 25, "Carreira de Chefes"},
	{RoleCoordinatingAgent, 20, "Carreira de Agentes"},
	{RolePrincipalAgent, 15, "Carreira de Agentes"},
	{RoleAgent, 10, "Carreira de Agentes"},
	{RoleProvisionalAgent, 5, "Carreira de Agentes"},
}

// superiorCount is the size of the superior subset taken from the top of the catalog.
const superiorCount = 8

type rankInfo struct {
	role   Role
	level  int
	career string
}

var (
	levels    = make(map[Role]int, len(catalog))
	careers   = make(map[Role]string, len(catalog))
	superiors = make(map[Role]bool, superiorCount)
)

func init() {
	for i, r := range catalog {
		levels[r.role] = r.level
		careers[r.role] = r.career
		if i < superiorCount {
			superiors[r.role] = true
		}
	}
}

// Valid reports whether r is a catalog rank.
func (r Role) Valid() bool {
	_, ok := levels[r]
	return ok
}

// Level returns the numeric level of r, or 0 for an unknown rank.
func (r Role) Level() int {
	return levels[r]
}

// Career returns the career group of r.
func (r Role) Career() string {
	return careers[r]
}

func (r Role) String() string {
	return string(r)
}

// ParseRole maps a stored rank string onto the catalog. Surrounding spaces are
// ignored; anything else that is not an exact catalog name becomes DefaultRole.
func ParseRole(s string) Role {
	r := Role(strings.TrimSpace(s))
	if r.Valid() {
		return r
	}
	return DefaultRole
}

// LookupRole is ParseRole without the fallback.
func LookupRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(s))
	return r, r.Valid()
}

// IsSuperior reports membership in the top eight ranks. Unknown ranks are not superior.
func IsSuperior(r Role) bool {
	return superiors[r]
}

// IsTopDirector reports whether r is the single highest rank.
func IsTopDirector(r Role) bool {
	return r == RoleNationalDirector
}

// Tier groups ranks for presentation.
type Tier string

const (
	TierHigh Tier = "high"
	TierMid  Tier = "mid"
	TierBase Tier = "base"
)

// TierOf returns the presentation tier of r.
func TierOf(r Role) Tier {
	switch level := r.Level(); {
	case level >= 100:
		return TierHigh
	case level >= 50:
		return TierMid
	default:
		return TierBase
	}
}

// Rank is one row of the published hierarchy.
type Rank struct {
	Role     Role   `json:"role"`
	Level    int    `json:"level"`
	Career   string `json:"career"`
	Superior bool   `json:"superior"`
	Tier     Tier   `json:"tier"`
}

// Hierarchy returns the catalog from the top rank down.
func Hierarchy() []Rank {
	out := make([]Rank, 0, len(catalog))
	for _, r := range catalog {
		out = append(out, Rank{
			Role:     r.role,
			Level:    r.level,
			Career:   r.career,
			Superior: IsSuperior(r.role),
			Tier:     TierOf(r.role),
		})
	}
	return out
}

// Permission names an action gated by rank.
type Permission string

const (
	PermRosterRead    Permission = "roster.read"
	PermRosterEdit    Permission = "roster.edit"
	PermAuditRead     Permission = "audit.read"
	PermAuditRecord   Permission = "audit.record"
	PermHierarchyRead Permission = "hierarchy.read"
)

// HasPermission checks if a role has a specific permission. Unknown roles and
// unknown permissions are denied.
func HasPermission(role Role, perm Permission) bool {
	if !role.Valid() {
		return false
	}
	switch perm {
	case PermRosterRead, PermAuditRecord:
		return true
	case PermAuditRead, PermHierarchyRead:
		return IsSuperior(role)
	case PermRosterEdit:
		return IsTopDirector(role)
	default:
		return false
	}
}
