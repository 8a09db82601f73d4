package order

// ScopeMode selects how much of the order book a contributor sees
type ScopeMode string

const (
	ScopeModeOwn  ScopeMode = "own"
	ScopeModeTeam ScopeMode = "team"
)

// IsValid checks if the mode is a known ScopeMode
func (m ScopeMode) IsValid() bool {
	return m == ScopeModeOwn || m == ScopeModeTeam
}

// Viewer is the identity of the user a dashboard session is rendered for.
// It is passed explicitly into the scope resolver and the live cache.
type Viewer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	ScopeMode   ScopeMode `json:"scope_mode"`

	// TeamMemberIDs lists the users led by the viewer. TeamKnown is false when
	// the membership lookup has not succeeded, in which case visibility fails closed.
	TeamMemberIDs []string `json:"team_member_ids,omitempty"`
	TeamKnown     bool     `json:"team_known"`
}

// Self returns the viewer as a resolved user reference
func (v Viewer) Self() UserRef {
	return UserRef{ID: v.ID, DisplayName: v.DisplayName, Resolved: v.DisplayName != ""}
}

// WithTeam returns a copy of the viewer carrying the given team membership
func (v Viewer) WithTeam(memberIDs []string) Viewer {
	v.TeamMemberIDs = append([]string(nil), memberIDs...)
	v.TeamKnown = true
	return v
}

// WithoutTeam returns a copy of the viewer with team membership marked unknown
func (v Viewer) WithoutTeam() Viewer {
	v.TeamMemberIDs = nil
	v.TeamKnown = false
	return v
}
