package filter

import (
	"fmt"
	"sort"

	"github.com/erp/orderboard/internal/domain/order"
)

// Mapping collapses the raw values of one record attribute into coarser
// buckets through an explicit table. Values missing from the table belong to
// no bucket and fail any filter on the mapping.
type Mapping struct {
	Name  string
	key   func(order.Record) string
	table map[string]string
}

// Bucket returns the bucket the record falls into
func (m Mapping) Bucket(r order.Record) (string, bool) {
	b, ok := m.table[m.key(r)]
	return b, ok
}

// HasBucket reports whether any table entry maps to bucket
func (m Mapping) HasBucket(bucket string) bool {
	for _, b := range m.table {
		if b == bucket {
			return true
		}
	}
	return false
}

// Buckets returns the distinct buckets in sorted order
func (m Mapping) Buckets() []string {
	seen := make(map[string]bool, len(m.table))
	out := make([]string, 0, len(m.table))
	for _, b := range m.table {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// Bucket names
const (
	BucketDispatched    = "dispatched"
	BucketNotDispatched = "not_dispatched"
	BucketCancelled     = "cancelled"

	BucketOutstanding = "outstanding"
	BucketSettled     = "settled"

	BucketInstallOpen      = "open"
	BucketInstallDone      = "done"
	BucketInstallNotNeeded = "not_required"
)

// Payment states fed into PaymentStateMapping
const (
	paymentDue     = "due"
	paymentClear   = "clear"
	paymentUnknown = "unknown"
)

// DispatchedMapping splits dispatch statuses into dispatched and not dispatched
var DispatchedMapping = Mapping{
	Name: "dispatched",
	key:  func(r order.Record) string { return string(r.DispatchStatus) },
	table: map[string]string{
		string(order.DispatchStatusNotDispatched):     BucketNotDispatched,
		string(order.DispatchStatusHoldBySalesperson): BucketNotDispatched,
		string(order.DispatchStatusHoldByClient):      BucketNotDispatched,
		string(order.DispatchStatusDocketAwaited):     BucketDispatched,
		string(order.DispatchStatusDispatched):        BucketDispatched,
		string(order.DispatchStatusDelivered):         BucketDispatched,
		string(order.DispatchStatusOrderCancelled):    BucketCancelled,
	},
}

// PaymentStateMapping separates orders with money still due from settled ones.
// Orders with an absent or non-numeric due amount belong to no bucket.
var PaymentStateMapping = Mapping{
	Name: "payment",
	key: func(r order.Record) string {
		switch {
		case !r.PaymentDue.Valid:
			return paymentUnknown
		case r.PaymentDue.Decimal.IsPositive():
			return paymentDue
		default:
			return paymentClear
		}
	},
	table: map[string]string{
		paymentDue:   BucketOutstanding,
		paymentClear: BucketSettled,
	},
}

// InstallationMapping groups installation statuses by whether work remains
var InstallationMapping = Mapping{
	Name: "installation",
	key:  func(r order.Record) string { return string(r.InstallationStatus) },
	table: map[string]string{
		string(order.InstallationStatusPending):    BucketInstallOpen,
		string(order.InstallationStatusInProgress): BucketInstallOpen,
		string(order.InstallationStatusFailed):     BucketInstallOpen,
		string(order.InstallationStatusCompleted):  BucketInstallDone,
		string(order.InstallationStatusNA):         BucketInstallNotNeeded,
	},
}

var mappings = map[string]Mapping{
	DispatchedMapping.Name:   DispatchedMapping,
	PaymentStateMapping.Name: PaymentStateMapping,
	InstallationMapping.Name: InstallationMapping,
}

// LookupMapping returns the mapping registered under name
func LookupMapping(name string) (Mapping, error) {
	m, ok := mappings[name]
	if !ok {
		return Mapping{}, fmt.Errorf("unknown derived filter %q", name)
	}
	return m, nil
}
