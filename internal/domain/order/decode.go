package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/erp/orderboard/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ErrInvalidRecord is returned when an upstream document cannot be ingested
var ErrInvalidRecord = shared.NewDomainError("INVALID_RECORD", "Invalid order record")

// wireRecord mirrors the upstream JSON document. Fields that arrive in more
// than one shape are kept raw and decoded leniently.
type wireRecord struct {
	MongoID          json.RawMessage   `json:"_id"`
	ID               json.RawMessage   `json:"id"`
	OrderID          string            `json:"orderId"`
	CreatedBy        json.RawMessage   `json:"createdBy"`
	AssignedToLeader json.RawMessage   `json:"assignedToLeader"`
	AssignedTo       []json.RawMessage `json:"assignedTo"`

	SODate           json.RawMessage `json:"soDate"`
	DispatchDate     json.RawMessage `json:"dispatchDate"`
	InvoiceDate      json.RawMessage `json:"invoiceDate"`
	InstallationDate json.RawMessage `json:"installationDate"`

	CustomerName    string `json:"customername"`
	ContactNo       string `json:"contactNo"`
	AlterNo         string `json:"alterno"`
	CustomerEmail   string `json:"customerEmail"`
	ShippingAddress string `json:"shippingAddress"`
	BillingAddress  string `json:"billingAddress"`
	City            string `json:"city"`
	State           string `json:"state"`
	PinCode         string `json:"pinCode"`
	InvoiceNo       string `json:"invoiceNo"`
	Transporter     string `json:"transporter"`
	Remarks         string `json:"remarks"`

	Total            json.RawMessage `json:"total"`
	PaymentCollected json.RawMessage `json:"paymentCollected"`
	PaymentDue       json.RawMessage `json:"paymentDue"`

	Products []wireProduct `json:"products"`

	BillStatus         string `json:"billStatus"`
	DispatchStatus     string `json:"dispatchStatus"`
	FulfillingStatus   string `json:"fulfillingStatus"`
	InstallationStatus string `json:"installationStatus"`
	FreightStatus      string `json:"freightstatus"`
	Stamp              string `json:"stamp"`
	InstallationReport string `json:"installationReport"`
}

type wireProduct struct {
	ProductType string          `json:"productType"`
	ModelNo     string          `json:"modelNo"`
	Size        string          `json:"size"`
	Spec        string          `json:"spec"`
	SerialNos   []string        `json:"serialNos"`
	ModelNos    []string        `json:"modelNos"`
	Qty         json.RawMessage `json:"qty"`
	UnitPrice   json.RawMessage `json:"unitPrice"`
	GST         json.RawMessage `json:"gst"`
}

type wireUser struct {
	MongoID     json.RawMessage `json:"_id"`
	ID          json.RawMessage `json:"id"`
	Username    string          `json:"username"`
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
}

// Decode turns one upstream document into a Record, applying field defaults and
// resolving a bare-id creator against the viewer's own identity
func Decode(raw []byte, viewer Viewer) (Record, error) {
	return decode(raw, "", viewer)
}

func decode(raw []byte, idOverride string, viewer Viewer) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	id := idOverride
	if id == "" {
		id = decodeID(w.MongoID)
	}
	if id == "" {
		id = decodeID(w.ID)
	}
	if id == "" {
		return Record{}, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}

	r := Record{
		ID:               id,
		OrderID:          strings.TrimSpace(w.OrderID),
		CreatedBy:        decodeCreator(w.CreatedBy, viewer),
		AssignedToLeader: decodeUserRef(w.AssignedToLeader),
		SODate:           parseTime(w.SODate),
		DispatchDate:     parseTime(w.DispatchDate),
		InvoiceDate:      parseTime(w.InvoiceDate),
		InstallationDate: parseTime(w.InstallationDate),

		CustomerName:   strings.TrimSpace(w.CustomerName),
		ContactNumber:  strings.TrimSpace(w.ContactNo),
		AlterNumber:    strings.TrimSpace(w.AlterNo),
		CustomerEmail:  strings.TrimSpace(w.CustomerEmail),
		ShippingAddr:   strings.TrimSpace(w.ShippingAddress),
		BillingAddr:    strings.TrimSpace(w.BillingAddress),
		City:           strings.TrimSpace(w.City),
		State:          strings.TrimSpace(w.State),
		Pincode:        strings.TrimSpace(w.PinCode),
		InvoiceNumber:  strings.TrimSpace(w.InvoiceNo),
		TransporterRef: strings.TrimSpace(w.Transporter),
		Remarks:        strings.TrimSpace(w.Remarks),

		Total:            parseDecimal(w.Total),
		PaymentCollected: parseDecimal(w.PaymentCollected),
		PaymentDue:       parseDecimal(w.PaymentDue),

		BillingStatus:      normalizeEnum(w.BillStatus, DefaultBillingStatus, BillingStatus.IsValid),
		DispatchStatus:     normalizeEnum(w.DispatchStatus, DefaultDispatchStatus, DispatchStatus.IsValid),
		FulfillingStatus:   normalizeEnum(w.FulfillingStatus, DefaultFulfillingStatus, FulfillingStatus.IsValid),
		InstallationStatus: normalizeEnum(w.InstallationStatus, DefaultInstallationStatus, InstallationStatus.IsValid),
		FreightStatus:      normalizeEnum(w.FreightStatus, DefaultFreightStatus, FreightStatus.IsValid),
		StampStatus:        normalizeEnum(w.Stamp, DefaultStampStatus, StampStatus.IsValid),
		InstallationReport: normalizeEnum(w.InstallationReport, DefaultInstallationReport, InstallationReport.IsValid),
	}

	for _, a := range w.AssignedTo {
		if ref := decodeUserRef(a); ref != nil && ref.ID != "" {
			r.AssignedTo = append(r.AssignedTo, ref.ID)
		}
	}

	r.Products = make([]Product, 0, len(w.Products))
	for _, p := range w.Products {
		r.Products = append(r.Products, Product{
			Name:          strings.TrimSpace(p.ProductType),
			Model:         strings.TrimSpace(p.ModelNo),
			Size:          strings.TrimSpace(p.Size),
			Spec:          strings.TrimSpace(p.Spec),
			SerialNumbers: compact(p.SerialNos),
			ModelNumbers:  compact(p.ModelNos),
			Qty:           parseDecimal(p.Qty),
			UnitPrice:     parseDecimal(p.UnitPrice),
			GST:           parseDecimal(p.GST),
		})
	}

	r.Revision = fingerprint(raw)
	return Reindex(r), nil
}

// DecodeList decodes a fetched array of documents. Documents that fail to
// decode are skipped and returned as errors alongside the records that succeeded.
func DecodeList(docs []json.RawMessage, viewer Viewer) ([]Record, []error) {
	records := make([]Record, 0, len(docs))
	var errs []error
	for i, doc := range docs {
		r, err := Decode(doc, viewer)
		if err != nil {
			errs = append(errs, fmt.Errorf("document %d: %w", i, err))
			continue
		}
		records = append(records, r)
	}
	return records, errs
}

// ResolveCreator resolves an unresolved creator whose id matches the viewer
func ResolveCreator(r Record, viewer Viewer) Record {
	if r.CreatedBy.Resolved || viewer.ID == "" || r.CreatedBy.ID != viewer.ID {
		return r
	}
	r.CreatedBy = viewer.Self()
	return Reindex(r)
}

// Reindex rebuilds the record's search text; it must be called after any
// change to a searchable field
func Reindex(r Record) Record {
	r.searchText = BuildSearchText(r)
	return r
}

func decodeCreator(raw json.RawMessage, viewer Viewer) UserRef {
	ref := decodeUserRef(raw)
	if ref == nil {
		return UserRef{}
	}
	if !ref.Resolved && viewer.ID != "" && ref.ID == viewer.ID {
		return viewer.Self()
	}
	return *ref
}

// decodeUserRef accepts either a bare id or a populated user object
func decodeUserRef(raw json.RawMessage) *UserRef {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '{' {
		id := decodeID(raw)
		if id == "" {
			return nil
		}
		return &UserRef{ID: id}
	}

	var u wireUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil
	}
	id := decodeID(u.MongoID)
	if id == "" {
		id = decodeID(u.ID)
	}
	name := firstNonEmpty(u.Username, u.DisplayName, u.Name)
	if id == "" && name == "" {
		return nil
	}
	return &UserRef{ID: id, DisplayName: name, Resolved: name != ""}
}

// decodeID accepts strings, numbers and {"$oid": "..."} wrappers
func decodeID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '{':
		var oid struct {
			OID string `json:"$oid"`
		}
		if err := json.Unmarshal(raw, &oid); err != nil {
			return ""
		}
		return strings.TrimSpace(oid.OID)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	}
}

// parseDecimal accepts numbers and numeric strings. Anything else, including
// "NaN" and "Infinity", yields an invalid value that aggregation treats as zero.
func parseDecimal(raw json.RawMessage) decimal.NullDecimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.NullDecimal{}
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.NullDecimal{}
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	}
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// parseTime accepts ISO strings, a few common layouts and epoch milliseconds.
// Unparseable values yield the zero time.
func parseTime(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	if raw[0] != '"' {
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return time.Time{}
		}
		return time.UnixMilli(ms).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// fingerprint hashes the source document so that identical payloads carry the
// same revision
func fingerprint(raw []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(bytes.TrimSpace(raw))
	return h.Sum64()
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
