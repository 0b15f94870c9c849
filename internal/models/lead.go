package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lead is the slice of the CRM lead record this service reads and writes.
// RemainingAmount is a cached aggregate: nil means it has never been
// computed, which is distinct from a computed value of zero.
type Lead struct {
	ID              string           `json:"id" db:"id"`
	LeadCode        string           `json:"leadCode,omitempty" db:"lead_code"`
	Name            string           `json:"name,omitempty" db:"name"`
	TotalAmount     decimal.Decimal  `json:"totalAmount" db:"total_amount"`
	RemainingAmount *decimal.Decimal `json:"remainingAmount,omitempty" db:"remaining_amount"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time        `json:"updatedAt" db:"updated_at"`
}

// LeadTotals is the result of recomputing a lead's remaining amount.
type LeadTotals struct {
	Remaining decimal.Decimal `json:"remainingAmount"`
	TotalPaid decimal.Decimal `json:"totalPaid"`
}
