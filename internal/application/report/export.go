package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places money is exposed with
const MoneyPlaces = 2

// ExportRow is a rollup row as shown on screen and written to exports.
// Money is rounded to MoneyPlaces; nothing else is rounded.
type ExportRow struct {
	Team                  string          `json:"team,omitempty"`
	Salesperson           string          `json:"salesperson"`
	TotalOrders           int             `json:"total_orders"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	TotalPaymentCollected decimal.Decimal `json:"total_payment_collected"`
	TotalPaymentDue       decimal.Decimal `json:"total_payment_due"`
	TotalUnitPrice        decimal.Decimal `json:"total_unit_price"`
	DueOver30Days         decimal.Decimal `json:"due_over_30_days"`
	CollectionRate        decimal.Decimal `json:"collection_rate"`
	DueRate               decimal.Decimal `json:"due_rate"`
	AvgOrderValue         decimal.Decimal `json:"avg_order_value"`
}

// Export converts the row for display or export
func (r Row) Export() ExportRow {
	return ExportRow{
		Team:                  r.Leader,
		Salesperson:           r.Name,
		TotalOrders:           r.Orders,
		TotalAmount:           round(r.Amount),
		TotalPaymentCollected: round(r.Collected),
		TotalPaymentDue:       round(r.Due),
		TotalUnitPrice:        round(r.UnitPrice),
		DueOver30Days:         round(r.DueOver30),
		CollectionRate:        round(r.CollectionRate),
		DueRate:               round(r.DueRate),
		AvgOrderValue:         round(r.AvgOrderValue),
	}
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ExportRows flattens a summary into export rows followed by the overall row
func (s Summary) ExportRows() []ExportRow {
	out := make([]ExportRow, 0, len(s.Rows)+1)
	for _, r := range s.Rows {
		out = append(out, r.Export())
	}
	return append(out, s.Overall.Export())
}

// ExportRows flattens a team summary: each team's rows then its subtotal,
// then individuals, then the overall row
func (s TeamSummary) ExportRows() []ExportRow {
	var out []ExportRow
	for _, t := range s.Teams {
		for _, r := range t.Rows {
			out = append(out, r.Export())
		}
		sub := t.Totals.Export()
		sub.Team = t.Leader
		sub.Salesperson = "Team Total"
		out = append(out, sub)
	}
	for _, r := range s.Individuals {
		out = append(out, r.Export())
	}
	return append(out, s.Overall.Export())
}

// CSVHeader is the column order of WriteCSV
var CSVHeader = []string{
	"Team", "Salesperson", "Total Orders", "Total Amount", "Payment Collected",
	"Payment Due", "Unit Price Total", "Due Over 30 Days", "Collection Rate %",
	"Due Rate %", "Avg Order Value",
}

// WriteCSV writes rows with a header line
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Team,
			r.Salesperson,
			strconv.Itoa(r.TotalOrders),
			r.TotalAmount.StringFixed(MoneyPlaces),
			r.TotalPaymentCollected.StringFixed(MoneyPlaces),
			r.TotalPaymentDue.StringFixed(MoneyPlaces),
			r.TotalUnitPrice.StringFixed(MoneyPlaces),
			r.DueOver30Days.StringFixed(MoneyPlaces),
			r.CollectionRate.StringFixed(MoneyPlaces),
			r.DueRate.StringFixed(MoneyPlaces),
			r.AvgOrderValue.StringFixed(MoneyPlaces),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %q: %w", r.Salesperson, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
