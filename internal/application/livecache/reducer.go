package livecache

import (
	"fmt"

	"github.com/erp/orderboard/internal/domain/order"
)

// Outcome describes what a reducer step did to the state
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeRemoved   Outcome = "removed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDropped   Outcome = "dropped"
)

// Changed reports whether the step produced a new state
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeInserted, OutcomeUpdated, OutcomeRemoved:
		return true
	}
	return false
}

// State is an immutable snapshot of the cache contents.
// Reducer steps return a new State and never modify the receiver.
type State struct {
	records []order.Record
	index   map[string]int
}

// EmptyState returns a state holding no records
func EmptyState() State {
	return State{index: map[string]int{}}
}

// Len returns the number of records
func (s State) Len() int {
	return len(s.records)
}

// Get returns the record stored under id
func (s State) Get(id string) (order.Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return order.Record{}, false
	}
	return s.records[i], true
}

// Records returns a copy of the records in cache order
func (s State) Records() []order.Record {
	out := make([]order.Record, len(s.records))
	copy(out, s.records)
	return out
}

func newState(records []order.Record) State {
	index := make(map[string]int, len(records))
	for i, r := range records {
		index[r.ID] = i
	}
	return State{records: records, index: index}
}

// ReplaceAll builds a fresh state from a full fetch. Records are mapped and
// filtered through the dashboard, bare-id creators are resolved against the
// viewer, and a repeated id keeps its first position with the last payload.
func ReplaceAll(records []order.Record, d Dashboard, viewer order.Viewer) State {
	kept := make([]order.Record, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		mapped, ok := d.admit(order.ResolveCreator(r, viewer))
		if !ok {
			continue
		}
		if i, dup := index[mapped.ID]; dup {
			kept[i] = mapped
			continue
		}
		index[mapped.ID] = len(kept)
		kept = append(kept, mapped)
	}
	return State{records: kept, index: index}
}

// Reduce applies one change event to the state. Malformed events leave the
// state untouched and are reported through the returned error; update and
// delete of unknown ids are no-ops.
func Reduce(s State, ev order.ChangeEvent, d Dashboard, viewer order.Viewer) (State, Outcome, error) {
	if ev.DocumentID == "" || !ev.OperationType.IsValid() {
		return s, OutcomeDropped, fmt.Errorf("%w: operation %q on id %q", order.ErrMalformedEvent, ev.OperationType, ev.DocumentID)
	}

	if ev.OperationType == order.OperationDelete {
		return remove(s, ev.DocumentID)
	}

	rec, err := ev.Record(viewer)
	if err != nil {
		return s, OutcomeDropped, err
	}
	rec, ok := d.admit(rec)
	if !ok {
		// failing the inclusion predicate is an implicit delete
		return remove(s, rec.ID)
	}

	i, known := s.index[rec.ID]
	switch {
	case known:
		if sameRevision(s.records[i], rec) {
			return s, OutcomeUnchanged, nil
		}
		return replaceAt(s, i, rec), OutcomeUpdated, nil
	case ev.OperationType == order.OperationInsert:
		return prepend(s, rec), OutcomeInserted, nil
	default:
		return s, OutcomeIgnored, nil
	}
}

func sameRevision(a, b order.Record) bool {
	return a.Revision == b.Revision && a.CreatedBy == b.CreatedBy
}

func remove(s State, id string) (State, Outcome, error) {
	i, ok := s.index[id]
	if !ok {
		return s, OutcomeIgnored, nil
	}
	records := make([]order.Record, 0, len(s.records)-1)
	records = append(records, s.records[:i]...)
	records = append(records, s.records[i+1:]...)
	return newState(records), OutcomeRemoved, nil
}

func prepend(s State, r order.Record) State {
	records := make([]order.Record, 0, len(s.records)+1)
	records = append(records, r)
	records = append(records, s.records...)
	return newState(records)
}

// replaceAt swaps the payload at position i; positions do not move so the
// index is shared with the previous state
func replaceAt(s State, i int, r order.Record) State {
	records := make([]order.Record, len(s.records))
	copy(records, s.records)
	records[i] = r
	return State{records: records, index: s.index}
}
