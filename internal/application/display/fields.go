// Package display precomputes the strings rendered for each order row. The
// derivation is pure, so results are memoized per record revision.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultDateLayout is the date rendering used when none is configured
const DefaultDateLayout = "02 Jan 2006"

// Placeholder is rendered for absent values
const Placeholder = "-"

// Fields are the display strings of one order
type Fields struct {
	OrderID          string `json:"order_id"`
	CreatedBy        string `json:"created_by"`
	Leader           string `json:"leader,omitempty"`
	Customer         string `json:"customer"`
	ProductSummary   string `json:"product_summary"`
	SerialNumbers    string `json:"serial_numbers"`
	ModelNumbers     string `json:"model_numbers"`
	SODate           string `json:"so_date"`
	DispatchDate     string `json:"dispatch_date"`
	InvoiceDate      string `json:"invoice_date"`
	InstallationDate string `json:"installation_date"`
	Total            string `json:"total"`
	PaymentCollected string `json:"payment_collected"`
	PaymentDue       string `json:"payment_due"`
}

// Formatter renders records for one locale and time zone
type Formatter struct {
	printer    *message.Printer
	location   *time.Location
	dateLayout string
}

// NewFormatter creates a formatter. A nil location means UTC and an empty
// layout means DefaultDateLayout.
func NewFormatter(tag language.Tag, loc *time.Location, dateLayout string) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}
	return &Formatter{
		printer:    message.NewPrinter(tag),
		location:   loc,
		dateLayout: dateLayout,
	}
}

// ParseLocale parses a BCP 47 tag, falling back to English
func ParseLocale(s string) language.Tag {
	tag, err := language.Parse(s)
	if err != nil {
		return language.English
	}
	return tag
}

// Derive computes the display fields of r
func (f *Formatter) Derive(r order.Record) Fields {
	fields := Fields{
		OrderID:          valueOr(r.OrderID, r.ID),
		CreatedBy:        r.CreatedBy.Name(),
		Customer:         valueOr(r.CustomerName, Placeholder),
		ProductSummary:   productSummary(r.Products),
		SerialNumbers:    joinAll(r.Products, func(p order.Product) []string { return p.SerialNumbers }),
		ModelNumbers:     joinAll(r.Products, func(p order.Product) []string { return p.ModelNumbers }),
		SODate:           f.Date(r.SODate),
		DispatchDate:     f.Date(r.DispatchDate),
		InvoiceDate:      f.Date(r.InvoiceDate),
		InstallationDate: f.Date(r.InstallationDate),
		Total:            f.Money(r.Total),
		PaymentCollected: f.Money(r.PaymentCollected),
		PaymentDue:       f.Money(r.PaymentDue),
	}
	if l := r.LeaderRef(); l != nil {
		fields.Leader = l.Name()
	}
	return fields
}

// Date renders t in the formatter's zone, or Placeholder when absent
func (f *Formatter) Date(t time.Time) string {
	if t.IsZero() {
		return Placeholder
	}
	return t.In(f.location).Format(f.dateLayout)
}

// Money renders an amount with locale grouping and two decimals
func (f *Formatter) Money(d decimal.NullDecimal) string {
	if !d.Valid {
		return Placeholder
	}
	v, _ := d.Decimal.Round(2).Float64()
	return f.printer.Sprint(number.Decimal(v, number.Scale(2)))
}

func productSummary(products []order.Product) string {
	parts := make([]string, 0, len(products))
	for _, p := range products {
		desc := strings.Join(nonEmpty(p.Name, p.Model, p.Size, p.Spec), " ")
		if desc == "" {
			continue
		}
		if p.Qty.Valid && !p.Qty.Decimal.IsZero() {
			desc = fmt.Sprintf("%s x%s", desc, p.Qty.Decimal.String())
		}
		parts = append(parts, desc)
	}
	if len(parts) == 0 {
		return Placeholder
	}
	return strings.Join(parts, ", ")
}

func joinAll(products []order.Product, pick func(order.Product) []string) string {
	var all []string
	for _, p := range products {
		all = append(all, pick(p)...)
	}
	if len(all) == 0 {
		return Placeholder
	}
	return strings.Join(all, ", ")
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
