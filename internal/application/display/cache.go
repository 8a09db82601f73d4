package display

import (
	"slices"
	"sync"

	"github.com/erp/orderboard/internal/domain/order"
)

// Row pairs a record id with its display fields
type Row struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

type entry struct {
	revision uint64
	fields   Fields
}

// Cache memoizes display fields per (record id, revision). Rows is rebuilt
// only when the view generation changes; entries for records that left the
// view are evicted on each rebuild.
type Cache struct {
	formatter *Formatter

	mu         sync.Mutex
	entries    map[string]entry
	generation uint64
	built      bool
	rows       []Row

	derived uint64
}

// NewCache creates a display cache using f
func NewCache(f *Formatter) *Cache {
	return &Cache{formatter: f, entries: make(map[string]entry)}
}

// Rows returns a copy of the display rows of view, in view order. generation
// identifies the view; a repeated generation reuses the previous result.
func (c *Cache) Rows(view []order.Record, generation uint64) []Row {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.built && generation == c.generation {
		return slices.Clone(c.rows)
	}

	next := make(map[string]entry, len(view))
	rows := make([]Row, 0, len(view))
	for _, r := range view {
		e, ok := c.entries[r.ID]
		if !ok || e.revision != r.Revision {
			e = entry{revision: r.Revision, fields: c.formatter.Derive(r)}
			c.derived++
		}
		next[r.ID] = e
		rows = append(rows, Row{ID: r.ID, Fields: e.fields})
	}

	c.entries = next
	c.rows = rows
	c.generation = generation
	c.built = true
	return slices.Clone(rows)
}

// Len returns the number of memoized entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Derivations returns how many times fields were computed, for tests and metrics
func (c *Cache) Derivations() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derived
}
