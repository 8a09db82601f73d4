// Package report rolls a filtered order view up into per-salesperson and
// per-team summary rows. Sums are exact decimals; rounding happens only when
// rows are exported.
package report

import (
	"math"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/shopspring/decimal"
)

// DefaultAgingDays is the age after which outstanding dues are reported as overdue
const DefaultAgingDays = 30

var hundred = decimal.NewFromInt(100)

// Totals accumulates the monetary sums of a set of orders. Invalid money
// values are left out of the sum they belong to.
type Totals struct {
	Orders    int             `json:"total_orders"`
	Amount    decimal.Decimal `json:"total_amount"`
	Collected decimal.Decimal `json:"total_payment_collected"`
	Due       decimal.Decimal `json:"total_payment_due"`
	UnitPrice decimal.Decimal `json:"total_unit_price"`
	DueOver30 decimal.Decimal `json:"due_over_30_days"`
}

// Add accumulates one order
func (t *Totals) Add(r order.Record, now time.Time, agingDays int) {
	if r.Total.Valid {
		t.Orders++
		t.Amount = t.Amount.Add(r.Total.Decimal)
	}
	if r.PaymentCollected.Valid {
		t.Collected = t.Collected.Add(r.PaymentCollected.Decimal)
	}
	if r.PaymentDue.Valid {
		t.Due = t.Due.Add(r.PaymentDue.Decimal)
		if r.PaymentDue.Decimal.IsPositive() && IsAged(r, now, agingDays) {
			t.DueOver30 = t.DueOver30.Add(r.PaymentDue.Decimal)
		}
	}
	t.UnitPrice = t.UnitPrice.Add(r.UnitPriceTotal())
}

// Merge adds other into t elementwise
func (t *Totals) Merge(other Totals) {
	t.Orders += other.Orders
	t.Amount = t.Amount.Add(other.Amount)
	t.Collected = t.Collected.Add(other.Collected)
	t.Due = t.Due.Add(other.Due)
	t.UnitPrice = t.UnitPrice.Add(other.UnitPrice)
	t.DueOver30 = t.DueOver30.Add(other.DueOver30)
}

// Ratios derives the per-row rates. All ratios are zero unless Amount is positive.
func (t Totals) Ratios() Ratios {
	if !t.Amount.IsPositive() || t.Orders == 0 {
		return Ratios{}
	}
	return Ratios{
		CollectionRate: t.Collected.Div(t.Amount).Mul(hundred),
		DueRate:        t.Due.Div(t.Amount).Mul(hundred),
		AvgOrderValue:  t.Amount.Div(decimal.NewFromInt(int64(t.Orders))),
	}
}

// Ratios are the derived percentages and averages of a row
type Ratios struct {
	CollectionRate decimal.Decimal `json:"collection_rate"`
	DueRate        decimal.Decimal `json:"due_rate"`
	AvgOrderValue  decimal.Decimal `json:"avg_order_value"`
}

// AgeInDays returns the whole days elapsed between the order date and now,
// and false when the order has no date
func AgeInDays(r order.Record, now time.Time) (int, bool) {
	if r.SODate.IsZero() {
		return 0, false
	}
	days := math.Floor(now.Sub(r.SODate).Hours() / 24)
	return int(days), true
}

// IsAged reports whether the order is strictly older than agingDays
func IsAged(r order.Record, now time.Time, agingDays int) bool {
	days, ok := AgeInDays(r, now)
	return ok && days > agingDays
}
