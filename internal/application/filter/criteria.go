// Package filter turns a scoped order collection into the filtered, sorted view
// shown on a dashboard. Every predicate is pure; the pipeline never mutates its input.
package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
)

// AllValues is the selector value that disables a status criterion
const AllValues = "All"

// Criteria is the set of user-chosen filters. Zero values disable a criterion.
type Criteria struct {
	Search       string            `json:"search,omitempty"`
	Billing      string            `json:"billing,omitempty"`
	Dispatch     string            `json:"dispatch,omitempty"`
	Fulfilling   string            `json:"fulfilling,omitempty"`
	Installation string            `json:"installation,omitempty"`
	Freight      string            `json:"freight,omitempty"`
	DateRange    *DateRange        `json:"date_range,omitempty"`
	Derived      map[string]string `json:"derived,omitempty"`
	SortField    order.DateField   `json:"sort_field,omitempty"`
}

// SortBy returns the date field the view is ordered on
func (c Criteria) SortBy() order.DateField {
	if c.SortField.IsValid() {
		return c.SortField
	}
	return order.DateFieldSO
}

// Validate checks the criteria for unknown fields and mappings
func (c Criteria) Validate() error {
	if c.SortField != "" && !c.SortField.IsValid() {
		return fmt.Errorf("unknown sort field %q", c.SortField)
	}
	if c.DateRange != nil {
		if err := c.DateRange.Validate(); err != nil {
			return err
		}
	}
	for name, bucket := range c.Derived {
		m, err := LookupMapping(name)
		if err != nil {
			return err
		}
		if bucket != "" && !m.HasBucket(bucket) {
			return fmt.Errorf("mapping %q has no bucket %q", name, bucket)
		}
	}
	return nil
}

// Key returns a canonical string identifying the criteria, used as a memoization key
func (c Criteria) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "q=%s|b=%s|d=%s|f=%s|i=%s|fr=%s|s=%s",
		order.FoldSearch(c.Search),
		active(c.Billing), active(c.Dispatch), active(c.Fulfilling),
		active(c.Installation), active(c.Freight), c.SortBy(),
	)
	if c.DateRange != nil {
		fmt.Fprintf(&b, "|r=%s:%d:%d", c.DateRange.Field, c.DateRange.Start.UnixMilli(), c.DateRange.End.UnixMilli())
	}
	names := make([]string, 0, len(c.Derived))
	for name, bucket := range c.Derived {
		if bucket != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "|m=%s:%s", name, c.Derived[name])
	}
	return b.String()
}

// WithSearch returns a copy of the criteria with a different search term
func (c Criteria) WithSearch(term string) Criteria {
	c.Search = term
	return c
}

// active returns the selector value, or "" when it selects everything
func active(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, AllValues) {
		return ""
	}
	return v
}

// DateRange is an inclusive range on one of the record's date fields. Start is
// normalized to the first millisecond of its day and End to the last one.
// A zero bound leaves that side open.
type DateRange struct {
	Field order.DateField `json:"field"`
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
}

// NewDateRange builds a range whose bounds cover whole calendar days in loc
func NewDateRange(field order.DateField, start, end time.Time, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	r := DateRange{Field: field}
	if !start.IsZero() {
		r.Start = StartOfDay(start, loc)
	}
	if !end.IsZero() {
		r.End = EndOfDay(end, loc)
	}
	return r
}

// Validate checks the field name and bound ordering
func (r DateRange) Validate() error {
	if !r.Field.IsValid() {
		return fmt.Errorf("unknown date field %q", r.Field)
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s is before start %s", r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// IsOpen reports whether neither bound is set
func (r DateRange) IsOpen() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t lies inside the range, bounds included
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// StartOfDay returns 00:00:00.000 of t's calendar day in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59.999 of t's calendar day in loc
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
}
