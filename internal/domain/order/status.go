package order

import "strings"

// BillingStatus represents the billing stage of an order
type BillingStatus string

const (
	BillingStatusPending      BillingStatus = "Pending"
	BillingStatusUnderBilling BillingStatus = "Under Billing"
	BillingStatusComplete     BillingStatus = "Billing Complete"

	DefaultBillingStatus = BillingStatusPending
)

// IsValid checks if the status is a known BillingStatus
func (s BillingStatus) IsValid() bool {
	switch s {
	case BillingStatusPending, BillingStatusUnderBilling, BillingStatusComplete:
		return true
	}
	return false
}

// String returns the string representation of BillingStatus
func (s BillingStatus) String() string {
	return string(s)
}

// DispatchStatus represents the dispatch stage of an order
type DispatchStatus string

const (
	DispatchStatusNotDispatched     DispatchStatus = "Not Dispatched"
	DispatchStatusDocketAwaited     DispatchStatus = "Docket Awaited Dispatched"
	DispatchStatusDispatched        DispatchStatus = "Dispatched"
	DispatchStatusDelivered         DispatchStatus = "Delivered"
	DispatchStatusHoldBySalesperson DispatchStatus = "Hold by Salesperson"
	DispatchStatusHoldByClient      DispatchStatus = "Hold by Client"
	DispatchStatusOrderCancelled    DispatchStatus = "Order Cancelled"

	DefaultDispatchStatus = DispatchStatusNotDispatched
)

// IsValid checks if the status is a known DispatchStatus
func (s DispatchStatus) IsValid() bool {
	switch s {
	case DispatchStatusNotDispatched, DispatchStatusDocketAwaited, DispatchStatusDispatched,
		DispatchStatusDelivered, DispatchStatusHoldBySalesperson, DispatchStatusHoldByClient,
		DispatchStatusOrderCancelled:
		return true
	}
	return false
}

// String returns the string representation of DispatchStatus
func (s DispatchStatus) String() string {
	return string(s)
}

// FulfillingStatus represents the production stage of an order
type FulfillingStatus string

const (
	FulfillingStatusPending         FulfillingStatus = "Pending"
	FulfillingStatusUnderProcess    FulfillingStatus = "Under Process"
	FulfillingStatusPartialDispatch FulfillingStatus = "Partial Dispatch"
	FulfillingStatusFulfilled       FulfillingStatus = "Fulfilled"

	DefaultFulfillingStatus = FulfillingStatusPending
)

// IsValid checks if the status is a known FulfillingStatus
func (s FulfillingStatus) IsValid() bool {
	switch s {
	case FulfillingStatusPending, FulfillingStatusUnderProcess, FulfillingStatusPartialDispatch,
		FulfillingStatusFulfilled:
		return true
	}
	return false
}

// String returns the string representation of FulfillingStatus
func (s FulfillingStatus) String() string {
	return string(s)
}

// InstallationStatus represents the installation stage of an order
type InstallationStatus string

const (
	InstallationStatusPending    InstallationStatus = "Pending"
	InstallationStatusInProgress InstallationStatus = "In Progress"
	InstallationStatusCompleted  InstallationStatus = "Completed"
	InstallationStatusFailed     InstallationStatus = "Failed"
	InstallationStatusNA         InstallationStatus = "N/A"

	DefaultInstallationStatus = InstallationStatusPending
)

// IsValid checks if the status is a known InstallationStatus
func (s InstallationStatus) IsValid() bool {
	switch s {
	case InstallationStatusPending, InstallationStatusInProgress, InstallationStatusCompleted,
		InstallationStatusFailed, InstallationStatusNA:
		return true
	}
	return false
}

// String returns the string representation of InstallationStatus
func (s InstallationStatus) String() string {
	return string(s)
}

// FreightStatus represents who bears the freight cost
type FreightStatus string

const (
	FreightStatusToPay      FreightStatus = "To Pay"
	FreightStatusIncluding  FreightStatus = "Including"
	FreightStatusSelfPickup FreightStatus = "Self Pickup"
	FreightStatusExtra      FreightStatus = "Extra"

	DefaultFreightStatus = FreightStatusToPay
)

// IsValid checks if the status is a known FreightStatus
func (s FreightStatus) IsValid() bool {
	switch s {
	case FreightStatusToPay, FreightStatusIncluding, FreightStatusSelfPickup, FreightStatusExtra:
		return true
	}
	return false
}

// String returns the string representation of FreightStatus
func (s FreightStatus) String() string {
	return string(s)
}

// StampStatus tracks whether the signed delivery stamp came back
type StampStatus string

const (
	StampStatusNotReceived StampStatus = "Not Received"
	StampStatusReceived    StampStatus = "Received"

	DefaultStampStatus = StampStatusNotReceived
)

// IsValid checks if the status is a known StampStatus
func (s StampStatus) IsValid() bool {
	return s == StampStatusNotReceived || s == StampStatusReceived
}

// String returns the string representation of StampStatus
func (s StampStatus) String() string {
	return string(s)
}

// InstallationReport tracks whether the installation report was filed
type InstallationReport string

const (
	InstallationReportNo  InstallationReport = "No"
	InstallationReportYes InstallationReport = "Yes"

	DefaultInstallationReport = InstallationReportNo
)

// IsValid checks if the value is a known InstallationReport
func (s InstallationReport) IsValid() bool {
	return s == InstallationReportNo || s == InstallationReportYes
}

// String returns the string representation of InstallationReport
func (s InstallationReport) String() string {
	return string(s)
}

// normalizeEnum trims the raw value and falls back to def when the value is
// absent or outside the closed set.
func normalizeEnum[T ~string](raw string, def T, valid func(T) bool) T {
	v := T(strings.TrimSpace(raw))
	if v == "" || !valid(v) {
		return def
	}
	return v
}
