package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/orderboard/internal/application/dashboard"
	"github.com/erp/orderboard/internal/application/display"
	"github.com/erp/orderboard/internal/application/filter"
	"github.com/erp/orderboard/internal/application/report"
	"github.com/erp/orderboard/internal/domain/order"
)

// RequestDateLayout is the calendar date format accepted in criteria
const RequestDateLayout = "2006-01-02"

// DashboardInfo describes a registered dashboard
type DashboardInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OpenSessionRequest opens a dashboard session
type OpenSessionRequest struct {
	Dashboard string           `json:"dashboard" binding:"required,max=64"`
	Criteria  *CriteriaRequest `json:"criteria,omitempty"`
}

// SessionResponse describes an open session
type SessionResponse struct {
	ID          string          `json:"id"`
	Dashboard   string          `json:"dashboard"`
	UserID      string          `json:"user_id"`
	Role        string          `json:"role"`
	ScopeMode   order.ScopeMode `json:"scope_mode"`
	TeamKnown   bool            `json:"team_known"`
	TeamSize    int             `json:"team_size"`
	CreatedAt   time.Time       `json:"created_at"`
	CacheSize   int             `json:"cache_size"`
	Generation  uint64          `json:"generation"`
	Watchers    int             `json:"watchers"`
	Criteria    filter.Criteria `json:"criteria"`
	Description string          `json:"description,omitempty"`
}

// NewSessionResponse converts a session
func NewSessionResponse(s *dashboard.Session) SessionResponse {
	v := s.Viewer()
	d := s.Dashboard()
	return SessionResponse{
		ID:          s.ID(),
		Dashboard:   d.Name,
		Description: d.Description,
		UserID:      v.ID,
		Role:        v.Role,
		ScopeMode:   v.ScopeMode,
		TeamKnown:   v.TeamKnown,
		TeamSize:    len(v.TeamMemberIDs),
		CreatedAt:   s.CreatedAt(),
		CacheSize:   s.Cache().Len(),
		Generation:  s.Cache().Generation(),
		Watchers:    s.WatcherCount(),
		Criteria:    s.Criteria(),
	}
}

// CriteriaRequest is the wire form of filter criteria. Dates are calendar
// days interpreted in the server's configured time zone.
type CriteriaRequest struct {
	Search       string            `json:"search" binding:"max=200"`
	Billing      string            `json:"billing" binding:"max=64"`
	Dispatch     string            `json:"dispatch" binding:"max=64"`
	Fulfilling   string            `json:"fulfilling" binding:"max=64"`
	Installation string            `json:"installation" binding:"max=64"`
	Freight      string            `json:"freight" binding:"max=64"`
	DateField    string            `json:"date_field" binding:"omitempty,oneof=so_date dispatch_date invoice_date installation_date"`
	StartDate    string            `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate      string            `json:"end_date" binding:"omitempty,datetime=2006-01-02"`
	Derived      map[string]string `json:"derived"`
	SortField    string            `json:"sort_field" binding:"omitempty,oneof=so_date dispatch_date invoice_date installation_date"`
}

// ToCriteria converts the request, anchoring dates in loc
func (r CriteriaRequest) ToCriteria(loc *time.Location) (filter.Criteria, error) {
	c := filter.Criteria{
		Search:       r.Search,
		Billing:      r.Billing,
		Dispatch:     r.Dispatch,
		Fulfilling:   r.Fulfilling,
		Installation: r.Installation,
		Freight:      r.Freight,
		Derived:      r.Derived,
		SortField:    order.DateField(r.SortField),
	}
	if r.StartDate == "" && r.EndDate == "" {
		return c, nil
	}
	if r.DateField == "" {
		return filter.Criteria{}, fmt.Errorf("date_field is required with a date range")
	}
	if loc == nil {
		loc = time.UTC
	}
	start, err := parseDay(r.StartDate, loc)
	if err != nil {
		return filter.Criteria{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := parseDay(r.EndDate, loc)
	if err != nil {
		return filter.Criteria{}, fmt.Errorf("end_date: %w", err)
	}
	dr := filter.NewDateRange(order.DateField(r.DateField), start, end, loc)
	c.DateRange = &dr
	return c, nil
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(RequestDateLayout, s, loc)
}

// SearchRequest updates the search term. Immediate skips the typing delay.
type SearchRequest struct {
	Term      string `json:"term" binding:"max=200"`
	Immediate bool   `json:"immediate"`
}

// EditResultRequest carries the order returned by a successful edit.
// With Publish set the result is also relayed to the other sessions.
type EditResultRequest struct {
	Order   json.RawMessage `json:"order" binding:"required"`
	Publish bool            `json:"publish"`
}

// EditResultResponse reports what the edit did to the session's cache
type EditResultResponse struct {
	Outcome    string `json:"outcome"`
	Generation uint64 `json:"generation"`
	Published  bool   `json:"published"`
}

// ViewResponse is the rendered current view
type ViewResponse struct {
	Criteria filter.Criteria `json:"criteria"`
	Rows     []display.Row   `json:"rows"`
}

// RollupQuery selects the rollup mode
type RollupQuery struct {
	Mode string `form:"mode" binding:"omitempty,oneof=salesperson team"`
}

// IsTeam reports whether team mode was requested
func (q RollupQuery) IsTeam() bool {
	return q.Mode == dashboard.RollupModeTeam
}

// RollupResponse is a rollup plus its flattened rows. Every row is an
// export row, so money matches the CSV export.
type RollupResponse struct {
	Mode           string               `json:"mode"`
	ViewGeneration uint64               `json:"view_generation"`
	AsOf           time.Time            `json:"as_of"`
	Summary        *SummaryResponse     `json:"summary,omitempty"`
	Teams          *TeamSummaryResponse `json:"teams,omitempty"`
	Rows           []report.ExportRow   `json:"rows"`
}

// SummaryResponse is the per-salesperson rollup
type SummaryResponse struct {
	Rows    []report.ExportRow `json:"rows"`
	Overall report.ExportRow   `json:"overall"`
}

// TeamResponse is one leader's section
type TeamResponse struct {
	LeaderID string             `json:"leader_id"`
	Leader   string             `json:"leader"`
	Rows     []report.ExportRow `json:"rows"`
	Totals   report.ExportRow   `json:"totals"`
}

// TeamSummaryResponse is the team rollup
type TeamSummaryResponse struct {
	Teams       []TeamResponse     `json:"teams"`
	Individuals []report.ExportRow `json:"individuals"`
	Overall     report.ExportRow   `json:"overall"`
}

// NewRollupResponse converts a rollup
func NewRollupResponse(r dashboard.Rollups) RollupResponse {
	resp := RollupResponse{
		Mode:           r.Mode,
		ViewGeneration: r.ViewGeneration,
		AsOf:           r.AsOf,
		Rows:           r.ExportRows(),
	}
	if r.Summary != nil {
		resp.Summary = &SummaryResponse{
			Rows:    exportRows(r.Summary.Rows),
			Overall: r.Summary.Overall.Export(),
		}
	}
	if r.Teams != nil {
		teams := make([]TeamResponse, 0, len(r.Teams.Teams))
		for _, t := range r.Teams.Teams {
			teams = append(teams, TeamResponse{
				LeaderID: t.LeaderID,
				Leader:   t.Leader,
				Rows:     exportRows(t.Rows),
				Totals:   t.Totals.Export(),
			})
		}
		resp.Teams = &TeamSummaryResponse{
			Teams:       teams,
			Individuals: exportRows(r.Teams.Individuals),
			Overall:     r.Teams.Overall.Export(),
		}
	}
	return resp
}

func exportRows(rows []report.Row) []report.ExportRow {
	out := make([]report.ExportRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Export())
	}
	return out
}

// ExportQuery selects the rollup mode and whether the file is archived
type ExportQuery struct {
	RollupQuery
	Archive bool `form:"archive"`
}

// ExportResponse points to an archived export
type ExportResponse struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int       `json:"size"`
}

// RefreshResponse reports the cache after a refresh
type RefreshResponse struct {
	CacheSize  int    `json:"cache_size"`
	Generation uint64 `json:"generation"`
}
