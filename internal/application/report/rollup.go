package report

import (
	"sort"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
)

// teamKeySeparator joins leader and person in team-mode accumulator keys
const teamKeySeparator = ":::"

// Options controls an aggregation run
type Options struct {
	// Now is the reference instant for the aging bucket
	Now time.Time
	// AgingDays overrides DefaultAgingDays when positive
	AgingDays int
}

func (o Options) agingDays() int {
	if o.AgingDays > 0 {
		return o.AgingDays
	}
	return DefaultAgingDays
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Row is one rolled-up entity
type Row struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Leader string `json:"leader,omitempty"`
	Totals
	Ratios
}

func newRow(key, name, leader string, t Totals) Row {
	return Row{Key: key, Name: name, Leader: leader, Totals: t, Ratios: t.Ratios()}
}

// Summary is the default (non-team) rollup
type Summary struct {
	Rows    []Row `json:"rows"`
	Overall Row   `json:"overall"`
}

// Team is one leader's section of a team rollup. Rows lists the leader's own
// row first, followed by members.
type Team struct {
	LeaderID string `json:"leader_id"`
	Leader   string `json:"leader"`
	Rows     []Row  `json:"rows"`
	Totals   Row    `json:"totals"`
}

// TeamSummary is the two-level rollup. Individuals holds the rows of
// contributors who do not belong to an emitted team section.
type TeamSummary struct {
	Teams       []Team `json:"teams"`
	Individuals []Row  `json:"individuals"`
	Overall     Row    `json:"overall"`
}

// SalespersonName is the accumulator key of a record in default mode
func SalespersonName(r order.Record) string {
	return r.CreatedBy.Name()
}

// creatorID identifies the creator; creators without an id fall back to
// their display name
func creatorID(r order.Record) string {
	if r.CreatedBy.ID != "" {
		return r.CreatedBy.ID
	}
	return r.CreatedBy.Name()
}

// LeaderID returns the id of the team leader the record rolls up to. A
// creator without a leader leads their own group.
func LeaderID(r order.Record) string {
	if l := r.LeaderRef(); l != nil && l.ID != "" {
		return l.ID
	}
	return creatorID(r)
}

// TeamKey is the accumulator key of a record in team mode: leader id and
// creator id
func TeamKey(r order.Record) string {
	return LeaderID(r) + teamKeySeparator + creatorID(r)
}

// leaderNames maps leader ids to display names. A resolved creator with the
// leader's id wins over the name carried on the leader reference.
func leaderNames(view []order.Record) map[string]string {
	names := make(map[string]string)
	for _, r := range view {
		if r.CreatedBy.Resolved || r.CreatedBy.ID == "" {
			names[creatorID(r)] = r.CreatedBy.Name()
		}
	}
	for _, r := range view {
		l := r.LeaderRef()
		if l == nil || l.ID == "" || !l.Resolved {
			continue
		}
		if _, ok := names[l.ID]; !ok {
			names[l.ID] = l.Name()
		}
	}
	return names
}

// SplitTeamKey splits a team-mode key into leader and person
func SplitTeamKey(key string) (leader, person string) {
	leader, person, ok := strings.Cut(key, teamKeySeparator)
	if !ok {
		return "", key
	}
	return leader, person
}

// Overall computes totals directly over the view
func Overall(view []order.Record, opts Options) Totals {
	var t Totals
	now, aging := opts.now(), opts.agingDays()
	for _, r := range view {
		t.Add(r, now, aging)
	}
	return t
}

// accumulate groups the view by key in first-seen order
func accumulate(view []order.Record, opts Options, key func(order.Record) string) (map[string]*Totals, []string) {
	now, aging := opts.now(), opts.agingDays()
	acc := make(map[string]*Totals)
	var keys []string
	for _, r := range view {
		k := key(r)
		t, ok := acc[k]
		if !ok {
			t = &Totals{}
			acc[k] = t
			keys = append(keys, k)
		}
		t.Add(r, now, aging)
	}
	return acc, keys
}

// sortRows orders rows by amount descending, then name ascending
func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].Amount.Cmp(rows[j].Amount); c != 0 {
			return c > 0
		}
		return rows[i].Name < rows[j].Name
	})
}

func sumRows(key, name string, rows []Row) Row {
	var t Totals
	for _, r := range rows {
		t.Merge(r.Totals)
	}
	return newRow(key, name, "", t)
}

// OverallKey is the key of the overall totals row
const OverallKey = "overall"

// Aggregate rolls the view up per salesperson. The overall row is the
// elementwise sum of the rows.
func Aggregate(view []order.Record, opts Options) Summary {
	acc, keys := accumulate(view, opts, SalespersonName)
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, newRow(k, k, "", *acc[k]))
	}
	sortRows(rows)
	return Summary{Rows: rows, Overall: sumRows(OverallKey, "Overall", rows)}
}

// AggregateTeams rolls the view up per team leader and member. Leaders are
// grouped by id. A leader with no rows from anyone but themself gets no team
// section; such rows are reported under Individuals.
func AggregateTeams(view []order.Record, opts Options) TeamSummary {
	acc, keys := accumulate(view, opts, TeamKey)
	names := leaderNames(view)
	people := make(map[string]string, len(keys))
	for _, r := range view {
		if k := TeamKey(r); people[k] == "" {
			people[k] = SalespersonName(r)
		}
	}
	leaderName := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return order.UnresolvedCreatorName
	}

	type group struct {
		id      string
		name    string
		own     *Row
		members []Row
	}
	groups := make(map[string]*group)
	var leaders []string
	for _, k := range keys {
		id, person := SplitTeamKey(k)
		g, ok := groups[id]
		if !ok {
			g = &group{id: id, name: leaderName(id)}
			groups[id] = g
			leaders = append(leaders, id)
		}
		if person == id {
			row := newRow(k, g.name, g.name, *acc[k])
			g.own = &row
			continue
		}
		row := newRow(k, people[k], g.name, *acc[k])
		g.members = append(g.members, row)
	}

	var (
		teams       []Team
		individuals []Row
		all         []Row
	)
	for _, id := range leaders {
		g := groups[id]
		if len(g.members) == 0 {
			if g.own != nil {
				row := *g.own
				row.Leader = ""
				individuals = append(individuals, row)
				all = append(all, row)
			}
			continue
		}
		sortRows(g.members)
		rows := make([]Row, 0, len(g.members)+1)
		if g.own != nil {
			rows = append(rows, *g.own)
		}
		rows = append(rows, g.members...)
		all = append(all, rows...)
		teams = append(teams, Team{
			LeaderID: g.id,
			Leader:   g.name,
			Rows:     rows,
			Totals:   sumRows(g.id, g.name, rows),
		})
	}

	sort.SliceStable(teams, func(i, j int) bool {
		if c := teams[i].Totals.Amount.Cmp(teams[j].Totals.Amount); c != 0 {
			return c > 0
		}
		if teams[i].Leader != teams[j].Leader {
			return teams[i].Leader < teams[j].Leader
		}
		return teams[i].LeaderID < teams[j].LeaderID
	})
	sortRows(individuals)

	return TeamSummary{
		Teams:       teams,
		Individuals: individuals,
		Overall:     sumRows(OverallKey, "Overall", all),
	}
}
