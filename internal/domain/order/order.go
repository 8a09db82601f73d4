// Package order holds the canonical order record shape consumed by the dashboard
// engine, and the ingestion boundary that turns loosely-typed upstream JSON into it.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnresolvedCreatorName is shown for authors that arrived as a bare id which
// could not be resolved against the viewer's own identity.
const UnresolvedCreatorName = "Sales Order Team"

// UserRef references a user by id with an optional display name
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Resolved    bool   `json:"resolved"`
}

// Name returns the display name, falling back to the shared team label for
// unresolved references
func (u UserRef) Name() string {
	if !u.Resolved || u.DisplayName == "" {
		return UnresolvedCreatorName
	}
	return u.DisplayName
}

// Product is one product line of an order
type Product struct {
	Name          string              `json:"name"`
	Model         string              `json:"model"`
	Size          string              `json:"size"`
	Spec          string              `json:"spec"`
	SerialNumbers []string            `json:"serial_numbers,omitempty"`
	ModelNumbers  []string            `json:"model_numbers,omitempty"`
	Qty           decimal.NullDecimal `json:"qty"`
	UnitPrice     decimal.NullDecimal `json:"unit_price"`
	GST           decimal.NullDecimal `json:"gst"`
}

// LineTotal returns qty * unitPrice, treating invalid values as zero
func (p Product) LineTotal() decimal.Decimal {
	return ValueOrZero(p.Qty).Mul(ValueOrZero(p.UnitPrice))
}

// Record is one sales order as held by the live cache.
// Records are treated as immutable once ingested; mutations replace the whole value.
type Record struct {
	ID               string   `json:"id"`
	OrderID          string   `json:"order_id"`
	CreatedBy        UserRef  `json:"created_by"`
	AssignedToLeader *UserRef `json:"assigned_to_leader,omitempty"`
	AssignedTo       []string `json:"assigned_to,omitempty"`

	SODate           time.Time `json:"so_date"`
	DispatchDate     time.Time `json:"dispatch_date"`
	InvoiceDate      time.Time `json:"invoice_date"`
	InstallationDate time.Time `json:"installation_date"`

	CustomerName   string `json:"customer_name"`
	ContactNumber  string `json:"contact_number"`
	AlterNumber    string `json:"alter_number"`
	CustomerEmail  string `json:"customer_email"`
	ShippingAddr   string `json:"shipping_address"`
	BillingAddr    string `json:"billing_address"`
	City           string `json:"city"`
	State          string `json:"state"`
	Pincode        string `json:"pincode"`
	InvoiceNumber  string `json:"invoice_number"`
	TransporterRef string `json:"transporter"`
	Remarks        string `json:"remarks"`

	Total            decimal.NullDecimal `json:"total"`
	PaymentCollected decimal.NullDecimal `json:"payment_collected"`
	PaymentDue       decimal.NullDecimal `json:"payment_due"`

	Products []Product `json:"products"`

	BillingStatus      BillingStatus      `json:"billing_status"`
	DispatchStatus     DispatchStatus     `json:"dispatch_status"`
	FulfillingStatus   FulfillingStatus   `json:"fulfilling_status"`
	InstallationStatus InstallationStatus `json:"installation_status"`
	FreightStatus      FreightStatus      `json:"freight_status"`
	StampStatus        StampStatus        `json:"stamp_status"`
	InstallationReport InstallationReport `json:"installation_report"`

	// Revision fingerprints the source document. Identical payloads share a
	// revision, which keys memoized per-record derivations.
	Revision uint64 `json:"revision"`

	searchText string
}

// SearchText returns the case-folded concatenation of searchable fields built
// when the record was ingested
func (r Record) SearchText() string {
	return r.searchText
}

// UnitPriceTotal returns Σ qty × unitPrice over the record's product lines
func (r Record) UnitPriceTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range r.Products {
		sum = sum.Add(p.LineTotal())
	}
	return sum
}

// SortTime returns the order date used for ordering; undated records sort as epoch 0
func (r Record) SortTime() time.Time {
	if r.SODate.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return r.SODate
}

// LeaderRef returns the team leader reference, or nil when the creator has none
func (r Record) LeaderRef() *UserRef {
	return r.AssignedToLeader
}

// IsAssignedTo reports whether userID is among the additional assignees
func (r Record) IsAssignedTo(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range r.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// DateField names one of the record's date attributes
type DateField string

const (
	DateFieldSO           DateField = "so_date"
	DateFieldDispatch     DateField = "dispatch_date"
	DateFieldInvoice      DateField = "invoice_date"
	DateFieldInstallation DateField = "installation_date"
)

// IsValid checks if the field is a known DateField
func (f DateField) IsValid() bool {
	switch f {
	case DateFieldSO, DateFieldDispatch, DateFieldInvoice, DateFieldInstallation:
		return true
	}
	return false
}

// Date returns the value of the named date field and whether it is present
func (r Record) Date(f DateField) (time.Time, bool) {
	var t time.Time
	switch f {
	case DateFieldSO:
		t = r.SODate
	case DateFieldDispatch:
		t = r.DispatchDate
	case DateFieldInvoice:
		t = r.InvoiceDate
	case DateFieldInstallation:
		t = r.InstallationDate
	default:
		return time.Time{}, false
	}
	return t, !t.IsZero()
}

// ValueOrZero returns the decimal value, or zero when it is absent
func ValueOrZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
