package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
)

// Predicate decides whether a record stays in the view
type Predicate func(order.Record) bool

// Predicates returns the active predicates of the criteria. Unknown derived
// mappings are skipped; Validate reports them.
func Predicates(c Criteria) []Predicate {
	var preds []Predicate

	if term := order.FoldSearch(c.Search); term != "" {
		preds = append(preds, func(r order.Record) bool {
			return strings.Contains(r.SearchText(), term)
		})
	}

	statuses := []struct {
		want  string
		value func(order.Record) string
	}{
		{c.Billing, func(r order.Record) string { return string(r.BillingStatus) }},
		{c.Dispatch, func(r order.Record) string { return string(r.DispatchStatus) }},
		{c.Fulfilling, func(r order.Record) string { return string(r.FulfillingStatus) }},
		{c.Installation, func(r order.Record) string { return string(r.InstallationStatus) }},
		{c.Freight, func(r order.Record) string { return string(r.FreightStatus) }},
	}
	for _, s := range statuses {
		want := active(s.want)
		if want == "" {
			continue
		}
		value := s.value
		preds = append(preds, func(r order.Record) bool {
			return value(r) == want
		})
	}

	if c.DateRange != nil && !c.DateRange.IsOpen() {
		rng := *c.DateRange
		preds = append(preds, func(r order.Record) bool {
			t, ok := r.Date(rng.Field)
			return ok && rng.Contains(t)
		})
	}

	for name, bucket := range c.Derived {
		if bucket == "" {
			continue
		}
		m, err := LookupMapping(name)
		if err != nil {
			continue
		}
		want := bucket
		preds = append(preds, func(r order.Record) bool {
			got, ok := m.Bucket(r)
			return ok && got == want
		})
	}

	return preds
}

// Apply returns the records matching every active criterion, sorted newest
// first on the criteria's date field with ties broken by descending id.
// The input slice is not modified.
func Apply(records []order.Record, c Criteria) []order.Record {
	preds := Predicates(c)
	out := make([]order.Record, 0, len(records))
next:
	for _, r := range records {
		for _, p := range preds {
			if !p(r) {
				continue next
			}
		}
		out = append(out, r)
	}
	Sort(out, c.SortBy())
	return out
}

// Sort orders records in place by field descending, then id descending.
// Records without the date sort as the Unix epoch.
func Sort(records []order.Record, field order.DateField) {
	epoch := time.Unix(0, 0).UTC()
	key := func(r order.Record) time.Time {
		if t, ok := r.Date(field); ok {
			return t
		}
		return epoch
	}
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := key(records[i]), key(records[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return records[i].ID > records[j].ID
	})
}
