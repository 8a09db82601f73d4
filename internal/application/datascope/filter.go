// Package datascope decides which orders a viewer is entitled to see before any
// user-chosen filter is applied.
//
// Three scope types are supported:
//   - ALL: elevated roles see every order in the cache
//   - TEAM: orders created by the viewer or a member of the viewer's team,
//     plus orders explicitly assigned to the viewer
//   - SELF: only orders created by the viewer
//
// Missing team membership degrades TEAM to SELF. An unknown viewer sees nothing.
//
// Usage:
//
//	resolver := datascope.NewResolver(cfg.Dashboard.ElevatedRoles)
//	visible := resolver.Filter(cache.GetAll(), viewer)
package datascope

import (
	"strings"

	"github.com/erp/orderboard/internal/domain/order"
)

// ScopeType is the effective visibility scope of a viewer
type ScopeType string

const (
	ScopeAll  ScopeType = "ALL"
	ScopeTeam ScopeType = "TEAM"
	ScopeSelf ScopeType = "SELF"
	ScopeNone ScopeType = "NONE"
)

// DefaultElevatedRoles are the administrative tiers that bypass scoping
var DefaultElevatedRoles = []string{"SuperAdmin", "GlobalAdmin", "Admin"}

// Resolver applies role-based visibility scoping to order records
type Resolver struct {
	elevated map[string]struct{}
}

// NewResolver creates a resolver treating the given roles as elevated.
// Role names are compared case-insensitively.
func NewResolver(elevatedRoles []string) *Resolver {
	if len(elevatedRoles) == 0 {
		elevatedRoles = DefaultElevatedRoles
	}
	elevated := make(map[string]struct{}, len(elevatedRoles))
	for _, role := range elevatedRoles {
		elevated[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}
	return &Resolver{elevated: elevated}
}

// IsElevated reports whether the role bypasses scoping
func (r *Resolver) IsElevated(role string) bool {
	_, ok := r.elevated[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// ScopeFor returns the effective scope of the viewer
func (r *Resolver) ScopeFor(viewer order.Viewer) ScopeType {
	if r.IsElevated(viewer.Role) {
		return ScopeAll
	}
	if viewer.ID == "" {
		// No identity - nothing is visible (safety)
		return ScopeNone
	}
	if viewer.ScopeMode == order.ScopeModeTeam && viewer.TeamKnown {
		return ScopeTeam
	}
	// "own" mode, unknown modes and missing team data all fail closed
	return ScopeSelf
}

// Filter returns the records visible to the viewer as a new slice, preserving order
func (r *Resolver) Filter(records []order.Record, viewer order.Viewer) []order.Record {
	scope := r.ScopeFor(viewer)
	if scope == ScopeAll {
		out := make([]order.Record, len(records))
		copy(out, records)
		return out
	}

	allowed := r.authors(scope, viewer)
	out := make([]order.Record, 0, len(records))
	for _, rec := range records {
		if canSee(rec, scope, viewer, allowed) {
			out = append(out, rec)
		}
	}
	return out
}

// CanSee reports whether a single record is visible to the viewer
func (r *Resolver) CanSee(rec order.Record, viewer order.Viewer) bool {
	scope := r.ScopeFor(viewer)
	return canSee(rec, scope, viewer, r.authors(scope, viewer))
}

// authors returns the set of creator ids whose orders the scope admits
func (r *Resolver) authors(scope ScopeType, viewer order.Viewer) map[string]struct{} {
	allowed := make(map[string]struct{}, len(viewer.TeamMemberIDs)+1)
	switch scope {
	case ScopeTeam:
		for _, id := range viewer.TeamMemberIDs {
			if id != "" {
				allowed[id] = struct{}{}
			}
		}
		allowed[viewer.ID] = struct{}{}
	case ScopeSelf:
		allowed[viewer.ID] = struct{}{}
	}
	return allowed
}

func canSee(rec order.Record, scope ScopeType, viewer order.Viewer, allowed map[string]struct{}) bool {
	switch scope {
	case ScopeAll:
		return true
	case ScopeTeam:
		if _, ok := allowed[rec.CreatedBy.ID]; ok {
			return true
		}
		return rec.IsAssignedTo(viewer.ID)
	case ScopeSelf:
		_, ok := allowed[rec.CreatedBy.ID]
		return ok && rec.CreatedBy.ID != ""
	default:
		return false
	}
}
