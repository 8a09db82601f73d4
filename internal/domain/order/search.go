package order

import (
	"strings"

	"golang.org/x/text/cases"
)

// searchDateLayouts are the date renderings a user may type into the search box
var searchDateLayouts = []string{"02/01/2006", "2006-01-02", "02 Jan 2006"}

// FoldSearch case-folds a search term the same way the search index is folded
func FoldSearch(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// BuildSearchText concatenates every searchable field of the record into one
// case-folded string
func BuildSearchText(r Record) string {
	var b strings.Builder
	add := func(values ...string) {
		for _, v := range values {
			if v == "" {
				continue
			}
			b.WriteString(v)
			b.WriteByte(' ')
		}
	}

	add(r.ID, r.OrderID)
	add(r.CreatedBy.ID, r.CreatedBy.Name())
	if r.AssignedToLeader != nil {
		add(r.AssignedToLeader.ID, r.AssignedToLeader.DisplayName)
	}
	add(r.CustomerName, r.ContactNumber, r.AlterNumber, r.CustomerEmail)
	add(r.ShippingAddr, r.BillingAddr, r.City, r.State, r.Pincode)
	add(r.InvoiceNumber, r.TransporterRef, r.Remarks)

	for _, p := range r.Products {
		add(p.Name, p.Model, p.Size, p.Spec)
		add(p.SerialNumbers...)
		add(p.ModelNumbers...)
	}

	if !r.SODate.IsZero() {
		for _, layout := range searchDateLayouts {
			add(r.SODate.Format(layout))
		}
	}

	add(r.BillingStatus.String(), r.DispatchStatus.String(), r.FulfillingStatus.String())
	add(r.InstallationStatus.String(), r.FreightStatus.String())

	return cases.Fold().String(b.String())
}
