package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provenance records how a bank account came to exist. Auto-provisioned
// accounts keep the id of the property or driver they were derived from in
// SourceID so listings can filter without parsing display strings.
type Provenance string

const (
	ProvenanceManual   Provenance = "manual"
	ProvenanceProperty Provenance = "property"
	ProvenanceDriver   Provenance = "driver"
)

func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceManual, ProvenanceProperty, ProvenanceDriver:
		return true
	}
	return false
}

// BankAccount holds cached totals derived from the accepted entry set.
// TotalIn/TotalOut/NetBalance are recomputable at any time and never
// authoritative on their own.
type BankAccount struct {
	ID            string          `json:"id" db:"id"`
	BankName      string          `json:"bankName" db:"bank_name"`
	AccountNumber string          `json:"accountNumber" db:"account_number"`
	Provenance    Provenance      `json:"provenance" db:"provenance"`
	SourceID      string          `json:"sourceId,omitempty" db:"source_id"`
	TotalIn       decimal.Decimal `json:"totalIn" db:"total_in"`
	TotalOut      decimal.Decimal `json:"totalOut" db:"total_out"`
	NetBalance    decimal.Decimal `json:"netBalance" db:"net_balance"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// BankTotals is the result of one recomputation pass for a single account.
type BankTotals struct {
	In  decimal.Decimal `json:"in"`
	Out decimal.Decimal `json:"out"`
	Net decimal.Decimal `json:"totalAmount"`
}
