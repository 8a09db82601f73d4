// Package livecache holds the authoritative in-memory copy of the orders a
// dashboard session works on. The cache is mutated only through the reducer in
// this package; every downstream stage reads snapshots of it.
package livecache

import (
	"fmt"
	"sort"

	"github.com/erp/orderboard/internal/domain/order"
)

// Dashboard names a working set and the business rule that decides which
// orders belong to it. Records failing Includes are treated as removed.
type Dashboard struct {
	Name        string
	Description string

	includes func(order.Record) bool
	mapper   func(order.Record) order.Record
}

// Includes reports whether the (already mapped) record belongs to the dashboard
func (d Dashboard) Includes(r order.Record) bool {
	if d.includes == nil {
		return true
	}
	return d.includes(r)
}

// Map applies the dashboard's display-status mapping, if any
func (d Dashboard) Map(r order.Record) order.Record {
	if d.mapper == nil {
		return r
	}
	return d.mapper(r)
}

// admit maps a record and reports whether the dashboard keeps it
func (d Dashboard) admit(r order.Record) (order.Record, bool) {
	r = d.Map(r)
	return r, d.Includes(r)
}

// Dashboard names
const (
	DashboardAll           = "all"
	DashboardBilling       = "billing"
	DashboardDispatch      = "dispatch"
	DashboardInstallation  = "installation"
	DashboardFinishedGoods = "finished_goods"
	DashboardStamp         = "stamp"
)

var dashboards = map[string]Dashboard{
	DashboardAll: {
		Name:        DashboardAll,
		Description: "Every visible sales order",
	},
	DashboardBilling: {
		Name:        DashboardBilling,
		Description: "Orders whose bill is not complete",
		includes: func(r order.Record) bool {
			return r.BillingStatus != order.BillingStatusComplete
		},
	},
	DashboardDispatch: {
		Name:        DashboardDispatch,
		Description: "Orders awaiting delivery",
		includes: func(r order.Record) bool {
			return r.DispatchStatus != order.DispatchStatusDelivered &&
				r.DispatchStatus != order.DispatchStatusOrderCancelled
		},
	},
	DashboardInstallation: {
		Name:        DashboardInstallation,
		Description: "Orders with an open installation",
		includes: func(r order.Record) bool {
			if r.InstallationStatus == order.InstallationStatusNA {
				return false
			}
			return r.InstallationReport != order.InstallationReportYes
		},
	},
	DashboardFinishedGoods: {
		Name:        DashboardFinishedGoods,
		Description: "Orders still in production or awaiting dispatch",
		mapper:      mapFulfillment,
		includes: func(r order.Record) bool {
			return r.FulfillingStatus != order.FulfillingStatusFulfilled
		},
	},
	DashboardStamp: {
		Name:        DashboardStamp,
		Description: "Delivered orders awaiting the signed stamp",
		includes: func(r order.Record) bool {
			return r.DispatchStatus == order.DispatchStatusDelivered &&
				r.StampStatus != order.StampStatusReceived
		},
	},
}

// mapFulfillment folds the dispatch state into the fulfilling status shown on
// the finished-goods board: anything that has left the warehouse is fulfilled.
func mapFulfillment(r order.Record) order.Record {
	switch r.DispatchStatus {
	case order.DispatchStatusDispatched, order.DispatchStatusDelivered, order.DispatchStatusDocketAwaited:
		r.FulfillingStatus = order.FulfillingStatusFulfilled
	}
	return r
}

// Lookup returns the dashboard registered under name
func Lookup(name string) (Dashboard, error) {
	d, ok := dashboards[name]
	if !ok {
		return Dashboard{}, fmt.Errorf("unknown dashboard %q", name)
	}
	return d, nil
}

// MustLookup is Lookup for names known at compile time
func MustLookup(name string) Dashboard {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names returns the registered dashboard names in sorted order
func Names() []string {
	names := make([]string, 0, len(dashboards))
	for name := range dashboards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
