package livecache

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var viewer = order.Viewer{ID: "U1", DisplayName: "Asha", Role: "Sales", ScopeMode: order.ScopeModeOwn}

func doc(id string, fields ...string) json.RawMessage {
	body := fmt.Sprintf(`{"_id":%q`, id)
	for i := 0; i+1 < len(fields); i += 2 {
		body += fmt.Sprintf(`,%q:%q`, fields[i], fields[i+1])
	}
	return json.RawMessage(body + "}")
}

func event(op order.OperationType, id string, fields ...string) order.ChangeEvent {
	ev := order.ChangeEvent{OperationType: op, DocumentID: id}
	if op != order.OperationDelete {
		ev.FullDocument = doc(id, fields...)
	}
	return ev
}

func records(t *testing.T, ids ...string) []order.Record {
	t.Helper()
	out := make([]order.Record, 0, len(ids))
	for _, id := range ids {
		r, err := order.Decode(doc(id), viewer)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func ids(s State) []string {
	out := make([]string, 0, s.Len())
	for _, r := range s.Records() {
		out = append(out, r.ID)
	}
	return out
}

func TestReplaceAll(t *testing.T) {
	t.Run("applies the inclusion predicate", func(t *testing.T) {
		complete, err := order.Decode(doc("c", "billStatus", "Billing Complete"), viewer)
		require.NoError(t, err)
		in := append(records(t, "a", "b"), complete)

		s := ReplaceAll(in, MustLookup(DashboardBilling), viewer)
		assert.Equal(t, []string{"a", "b"}, ids(s))
	})

	t.Run("duplicate ids keep first position and last payload", func(t *testing.T) {
		second, err := order.Decode(doc("a", "customername", "Second"), viewer)
		require.NoError(t, err)
		in := append(records(t, "a", "b"), second)

		s := ReplaceAll(in, MustLookup(DashboardAll), viewer)
		assert.Equal(t, []string{"a", "b"}, ids(s))
		got, ok := s.Get("a")
		require.True(t, ok)
		assert.Equal(t, "Second", got.CustomerName)
	})

	t.Run("resolves bare-id creators matching the viewer", func(t *testing.T) {
		r, err := order.Decode(doc("a", "createdBy", "U1"), order.Viewer{})
		require.NoError(t, err)

		s := ReplaceAll([]order.Record{r}, MustLookup(DashboardAll), viewer)
		got, _ := s.Get("a")
		assert.Equal(t, "Asha", got.CreatedBy.Name())
	})

	t.Run("finished goods drops records mapped to fulfilled", func(t *testing.T) {
		dispatched, err := order.Decode(doc("d", "dispatchStatus", "Dispatched"), viewer)
		require.NoError(t, err)
		fulfilled, err := order.Decode(doc("f", "fulfillingStatus", "Fulfilled"), viewer)
		require.NoError(t, err)
		in := append(records(t, "open"), dispatched, fulfilled)

		s := ReplaceAll(in, MustLookup(DashboardFinishedGoods), viewer)
		assert.Equal(t, []string{"open"}, ids(s))
	})
}

func TestReduce(t *testing.T) {
	all := MustLookup(DashboardAll)

	t.Run("insert of unknown id prepends", func(t *testing.T) {
		s := ReplaceAll(records(t, "a", "b"), all, viewer)
		next, outcome, err := Reduce(s, event(order.OperationInsert, "c"), all, viewer)
		require.NoError(t, err)
		assert.Equal(t, OutcomeInserted, outcome)
		assert.Equal(t, []string{"c", "a", "b"}, ids(next))
		assert.Equal(t, []string{"a", "b"}, ids(s), "previous state is untouched")
	})

	t.Run("update of known id replaces in place", func(t *testing.T) {
		s := ReplaceAll(records(t, "a", "b", "c"), all, viewer)
		next, outcome, err := Reduce(s, event(order.OperationUpdate, "b", "customername", "Updated"), all, viewer)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, outcome)
		assert.Equal(t, []string{"a", "b", "c"}, ids(next))
		got, _ := next.Get("b")
		assert.Equal(t, "Updated", got.CustomerName)
	})

	t.Run("insert of known id replaces in place", func(t *testing.T) {
		s := ReplaceAll(records(t, "a", "b"), all, viewer)
		next, outcome, err := Reduce(s, event(order.OperationInsert, "b", "city", "Pune"), all, viewer)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, outcome)
		assert.Equal(t, []string{"a", "b"}, ids(next))
	})

	t.Run("update of unknown id is a no-op", func(t *testing.T) {
		s := ReplaceAll(records(t, "a"), all, viewer)
		next, outcome, err := Reduce(s, event(order.OperationUpdate, "zzz"), all, viewer)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		assert.Equal(t, []string{"a"}, ids(next))
	})

	t.Run("delete of unknown id is a no-op", func(t *testing.T) {
		s := ReplaceAll(records(t, "a", "b"), all, viewer)
		next, outcome, err := Reduce(s, event(order.OperationDelete, "unknown"), all, viewer)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		assert.Equal(t, 2, next.Len())
	})

	t.Run("delete removes a known id", func(t *testing.T) {
		s := ReplaceAll(records(t, "a", "b", "c"), all, viewer)
		next, outcome, err := Reduce(s, event(order.OperationDelete, "b"), all, viewer)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRemoved, outcome)
		assert.Equal(t, []string{"a", "c"}, ids(next))
		_, ok := next.Get("c")
		assert.True(t, ok)
	})

	t.Run("applying the same update twice is idempotent", func(t *testing.T) {
		s := ReplaceAll(records(t, "a", "b"), all, viewer)
		ev := event(order.OperationUpdate, "a", "total", "500", "createdBy", "U1")

		once, _, err := Reduce(s, ev, all, viewer)
		require.NoError(t, err)
		twice, outcome, err := Reduce(once, ev, all, viewer)
		require.NoError(t, err)

		assert.Equal(t, OutcomeUnchanged, outcome)
		assert.Equal(t, once.Records(), twice.Records())
	})

	t.Run("malformed events are dropped without touching the state", func(t *testing.T) {
		s := ReplaceAll(records(t, "a"), all, viewer)
		malformed := []order.ChangeEvent{
			{OperationType: order.OperationUpdate, DocumentID: ""},
			{OperationType: "replace", DocumentID: "a"},
			{OperationType: order.OperationInsert, DocumentID: "x"},
			{OperationType: order.OperationUpdate, DocumentID: "a", FullDocument: json.RawMessage(`"oops"`)},
		}
		for _, ev := range malformed {
			next, outcome, err := Reduce(s, ev, all, viewer)
			assert.ErrorIs(t, err, order.ErrMalformedEvent)
			assert.Equal(t, OutcomeDropped, outcome)
			assert.Equal(t, []string{"a"}, ids(next))
		}
	})

	t.Run("bare-id creator equal to the viewer is resolved before storing", func(t *testing.T) {
		next, _, err := Reduce(EmptyState(), event(order.OperationInsert, "n", "createdBy", "U1"), all, viewer)
		require.NoError(t, err)
		got, _ := next.Get("n")
		assert.Equal(t, "Asha", got.CreatedBy.Name())

		next, _, err = Reduce(next, event(order.OperationInsert, "m", "createdBy", "U2"), all, viewer)
		require.NoError(t, err)
		got, _ = next.Get("m")
		assert.Equal(t, order.UnresolvedCreatorName, got.CreatedBy.Name())
	})
}

func TestReduce_TerminalPredicate(t *testing.T) {
	billing := MustLookup(DashboardBilling)
	s, _, err := Reduce(EmptyState(), event(order.OperationInsert, "o1", "billStatus", "Under Billing"), billing, viewer)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	s, outcome, err := Reduce(s, event(order.OperationUpdate, "o1", "billStatus", "Billing Complete"), billing, viewer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, outcome)
	assert.Equal(t, 0, s.Len())

	// an excluded insert for an unknown id stores nothing
	s, outcome, err = Reduce(s, event(order.OperationInsert, "o2", "billStatus", "Billing Complete"), billing, viewer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, 0, s.Len())
}

func TestDashboards(t *testing.T) {
	tests := []struct {
		dashboard string
		fields    []string
		included  bool
	}{
		{DashboardAll, []string{"billStatus", "Billing Complete"}, true},
		{DashboardBilling, []string{"billStatus", "Under Billing"}, true},
		{DashboardBilling, []string{"billStatus", "Billing Complete"}, false},
		{DashboardDispatch, []string{"dispatchStatus", "Dispatched"}, true},
		{DashboardDispatch, []string{"dispatchStatus", "Delivered"}, false},
		{DashboardDispatch, []string{"dispatchStatus", "Order Cancelled"}, false},
		{DashboardInstallation, []string{"installationStatus", "In Progress"}, true},
		{DashboardInstallation, []string{"installationReport", "Yes"}, false},
		{DashboardInstallation, []string{"installationStatus", "N/A"}, false},
		{DashboardFinishedGoods, []string{"fulfillingStatus", "Under Process"}, true},
		{DashboardFinishedGoods, []string{"dispatchStatus", "Delivered"}, false},
		{DashboardStamp, []string{"dispatchStatus", "Delivered"}, true},
		{DashboardStamp, []string{"dispatchStatus", "Delivered", "stamp", "Received"}, false},
		{DashboardStamp, []string{"dispatchStatus", "Dispatched"}, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %v", tt.dashboard, tt.fields), func(t *testing.T) {
			d, err := Lookup(tt.dashboard)
			require.NoError(t, err)
			r, err := order.Decode(doc("o", tt.fields...), viewer)
			require.NoError(t, err)
			_, ok := d.admit(r)
			assert.Equal(t, tt.included, ok)
		})
	}

	_, err := Lookup("nope")
	assert.Error(t, err)
	assert.Len(t, Names(), 6)
}
