package display

import (
	"testing"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func decode(t *testing.T, doc string) order.Record {
	t.Helper()
	r, err := order.Decode([]byte(doc), order.Viewer{ID: "U1", DisplayName: "Asha"})
	require.NoError(t, err)
	return r
}

func TestFormatter_Derive(t *testing.T) {
	f := NewFormatter(language.English, time.UTC, "")
	r := decode(t, `{
		"_id":"o1","orderId":"SO-9","createdBy":"U1","assignedToLeader":{"_id":"L","username":"Lead"},
		"customername":"Acme","soDate":"2024-03-05T10:00:00Z","total":"1234.5","paymentDue":"NaN",
		"products":[
			{"productType":"Panel","modelNo":"P-1","qty":2,"serialNos":["S1","S2"],"modelNos":["M1"]},
			{"productType":"Mount","serialNos":["S3"]},
			{}
		]}`)

	fields := f.Derive(r)
	assert.Equal(t, "SO-9", fields.OrderID)
	assert.Equal(t, "Asha", fields.CreatedBy)
	assert.Equal(t, "Lead", fields.Leader)
	assert.Equal(t, "Panel P-1 x2, Mount", fields.ProductSummary)
	assert.Equal(t, "S1, S2, S3", fields.SerialNumbers)
	assert.Equal(t, "M1", fields.ModelNumbers)
	assert.Equal(t, "05 Mar 2024", fields.SODate)
	assert.Equal(t, Placeholder, fields.DispatchDate)
	assert.Contains(t, fields.Total, "1,234.5")
	assert.Equal(t, Placeholder, fields.PaymentDue)

	assert.Equal(t, fields, f.Derive(r), "derivation is deterministic")
}

func TestFormatter_DateUsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	f := NewFormatter(language.English, loc, "2006-01-02")
	r := decode(t, `{"_id":"o1","soDate":"2024-03-05T20:00:00Z"}`)
	assert.Equal(t, "2024-03-06", f.Derive(r).SODate)
	assert.Equal(t, "o1", f.Derive(r).OrderID)
}

func TestParseLocale(t *testing.T) {
	assert.Equal(t, language.MustParse("en-IN"), ParseLocale("en-IN"))
	assert.Equal(t, language.English, ParseLocale("%%"))
}

func TestCache_MemoizesByRevision(t *testing.T) {
	c := NewCache(NewFormatter(language.English, nil, ""))
	a := decode(t, `{"_id":"a","customername":"First"}`)
	b := decode(t, `{"_id":"b"}`)

	rows := c.Rows([]order.Record{a, b}, 1)
	require.Len(t, rows, 2)
	assert.Equal(t, "First", rows[0].Fields.Customer)
	assert.Equal(t, uint64(2), c.Derivations())

	// same generation returns the memoized rows
	c.Rows([]order.Record{a, b}, 1)
	assert.Equal(t, uint64(2), c.Derivations())

	// new generation with one changed record derives only that record
	a2 := decode(t, `{"_id":"a","customername":"Second"}`)
	rows = c.Rows([]order.Record{b, a2}, 2)
	assert.Equal(t, uint64(3), c.Derivations())
	assert.Equal(t, "b", rows[0].ID)
	assert.Equal(t, "Second", rows[1].Fields.Customer)

	// records leaving the view are evicted
	c.Rows([]order.Record{b}, 3)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(3), c.Derivations())
}

func TestCache_RowsAreCopies(t *testing.T) {
	c := NewCache(NewFormatter(language.English, nil, ""))
	a := decode(t, `{"_id":"a","customername":"First"}`)

	rows := c.Rows([]order.Record{a}, 1)
	rows[0].Fields.Customer = "changed"
	rows[0].ID = "x"

	again := c.Rows([]order.Record{a}, 1)
	require.Len(t, again, 1)
	assert.Equal(t, "a", again[0].ID)
	assert.Equal(t, "First", again[0].Fields.Customer)
	assert.Equal(t, uint64(1), c.Derivations(), "still memoized")
}
