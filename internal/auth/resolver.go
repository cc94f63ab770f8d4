package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/psp-hub/platform/internal/docstore"
)

// ErrRoleNotFound means no role record exists for an identity.
var ErrRoleNotFound = errors.New("role not found")

// RoleSource looks up the stored role of an identity.
type RoleSource interface {
	RoleOf(ctx context.Context, uid string) (string, error)
}

// StoreRoleSource reads role documents ({"role": "..."}) keyed by identity id.
type StoreRoleSource struct {
	reader     docstore.Reader
	collection string
}

// NewStoreRoleSource creates a RoleSource over a document collection.
func NewStoreRoleSource(reader docstore.Reader, collection string) *StoreRoleSource {
	return &StoreRoleSource{reader: reader, collection: collection}
}

// RoleOf implements RoleSource.
func (s *StoreRoleSource) RoleOf(ctx context.Context, uid string) (string, error) {
	doc, err := s.reader.GetDocument(ctx, s.collection, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", ErrRoleNotFound
		}
		return "", fmt.Errorf("failed to read role document: %w", err)
	}
	role, _ := doc.Fields["role"].(string)
	if strings.TrimSpace(role) == "" {
		return "", ErrRoleNotFound
	}
	return role, nil
}

// staticRoles is the legacy username to rank table used when no role document exists.
var staticRoles = map[string]Role{
	"tomas":             RoleNationalDirector,
	"jose":              RoleDeputyNationalDirector,
	"rodrigo":           RoleDeputyNationalDirector,
	"superior1":         RoleChiefSuperintendent,
	"superior2":         RoleChiefSuperintendent,
	"superior3":         RoleSuperintendent,
	"ferreira":          RoleIntendant,
	"aaaa":              RoleSubintendant,
	"comissario1":       RoleCommissioner,
	"subcomissario1":    RoleSubcommissioner,
	"miguel":            RoleCoordinatingChief,
	"chefeprincipal1":   RolePrincipalChief,
	"viveiros":          RoleChief,
	"gui":               RoleChief,
	"crazy":             RoleChief,
	"limz":              RoleChief,
	"afonso":            RoleCoordinatingAgent,
	"silvazin":          RoleCoordinatingAgent,
	"rayzer":            RolePrincipalAgent,
	"leandro":           RolePrincipalAgent,
	"enzo":              RolePrincipalAgent,
	"raul":              RoleAgent,
	"silva":             RoleAgent,
	"lopes":             RoleAgent,
	"ganso":             RoleAgent,
	"falcon":            RoleAgent,
	"amir":              RoleAgent,
	"pocoyo":            RoleAgent,
	"vortex":            RoleAgent,
	"monteiro":          RoleAgent,
	"agenteprovisorio1": RoleProvisionalAgent,
}

// StaticRole looks username up in the legacy table, case-insensitively.
// Unknown names get DefaultRole.
func StaticRole(username string) Role {
	if role, ok := staticRoles[strings.ToLower(strings.TrimSpace(username))]; ok {
		return role
	}
	return DefaultRole
}

// Resolver turns provider users into identities. It never fails: lookup
// errors fall through to the static table.
type Resolver struct {
	source RoleSource
}

// NewResolver creates a resolver. A nil source uses the static table only.
func NewResolver(source RoleSource) *Resolver {
	return &Resolver{source: source}
}

// ResolveRole returns the rank for uid, consulting the stored role first.
func (r *Resolver) ResolveRole(ctx context.Context, uid, username string) Role {
	if r.source != nil && uid != "" {
		stored, err := r.source.RoleOf(ctx, uid)
		switch {
		case err == nil:
			return ParseRole(stored)
		case !errors.Is(err, ErrRoleNotFound):
			log.Printf("auth: role lookup for %s failed, using fallback: %v", uid, err)
		}
	}
	return StaticRole(username)
}

// Resolve builds the identity for a signed-in provider user. It returns nil
// for a nil user or one without an e-mail, which counts as signed out.
func (r *Resolver) Resolve(ctx context.Context, user *ProviderUser) *Identity {
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return nil
	}
	username := UsernameFromEmail(user.Email)
	return &Identity{
		ID:          user.UID,
		DisplayName: DisplayName(username),
		Role:        r.ResolveRole(ctx, user.UID, username),
	}
}
