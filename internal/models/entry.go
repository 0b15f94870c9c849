package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Acceptance is the review status of a ledger entry. Only accepted entries
// count toward bank totals or a lead's remaining amount.
type Acceptance string

const (
	AcceptancePending  Acceptance = "pending"
	AcceptanceAccepted Acceptance = "accepted"
	AcceptanceRejected Acceptance = "rejected"
)

func (a Acceptance) Valid() bool {
	switch a {
	case AcceptancePending, AcceptanceAccepted, AcceptanceRejected:
		return true
	}
	return false
}

// LegType is the direction of one leg of an entry relative to a bank account.
type LegType string

const (
	LegIn  LegType = "in"
	LegOut LegType = "out"
)

func (l LegType) Valid() bool {
	return l == LegIn || l == LegOut
}

// LedgerEntry is one recorded money movement. The primary bank is optional at
// creation: sales/operations may record an entry unbanked and the accounts
// team assigns the bank later. When IsDual is set a secondary bank with its
// own independent leg type is required; the same amount applies to both legs.
//
// BankName/AccountNumber (and the ToBank pair) are display snapshots copied
// from the referenced account at write time. LeadTotalSnapshot and
// LeadRemainingSnapshot capture the lead's amounts when the entry was written
// and are never used in balance computation.
type LedgerEntry struct {
	ID              string          `json:"id" db:"id"`
	BankID          string          `json:"bankId,omitempty" db:"bank_id"`
	BankName        string          `json:"bankName,omitempty" db:"bank_name"`
	AccountNumber   string          `json:"accountNumber,omitempty" db:"account_number"`
	ToBankID        string          `json:"toBankId,omitempty" db:"to_bank_id"`
	ToBankName      string          `json:"toBankName,omitempty" db:"to_bank_name"`
	ToAccountNumber string          `json:"toAccountNumber,omitempty" db:"to_account_number"`
	IsDual          bool            `json:"isDual" db:"is_dual"`
	PaymentType     LegType         `json:"paymentType,omitempty" db:"payment_type"`
	ToPaymentType   LegType         `json:"toPaymentType,omitempty" db:"to_payment_type"`
	LeadRef         string          `json:"leadRef,omitempty" db:"lead_ref"`
	LeadName        string          `json:"leadName,omitempty" db:"lead_name"`
	OperationID     string          `json:"operationId,omitempty" db:"operation_id"`
	PaymentMode     string          `json:"paymentMode,omitempty" db:"payment_mode"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	ReferenceNo     string          `json:"referenceNo,omitempty" db:"reference_no"`
	UTRNumber       string          `json:"utrNumber,omitempty" db:"utr_number"`
	Image           string          `json:"image,omitempty" db:"image"`
	TransactionDate *time.Time      `json:"transactionDate,omitempty" db:"transaction_date"`
	ClearDate       *time.Time      `json:"clearDate,omitempty" db:"clear_date"`
	Description     string          `json:"description,omitempty" db:"description"`
	AutoHotel       bool            `json:"autoHotel" db:"auto_hotel"`
	AutoCab         bool            `json:"autoCab" db:"auto_cab"`
	HotelPayment    bool            `json:"hotelPayment" db:"hotel_payment"`
	CabPayment      bool            `json:"cabPayment" db:"cab_payment"`
	Acceptance      Acceptance      `json:"acceptance" db:"acceptance"`

	LeadTotalSnapshot     *decimal.Decimal `json:"leadTotalSnapshot,omitempty" db:"lead_total_snapshot"`
	LeadRemainingSnapshot *decimal.Decimal `json:"leadRemainingSnapshot,omitempty" db:"lead_remaining_snapshot"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// LegFor returns the leg type that applies to the given bank account, or ""
// when the account is not referenced by this entry.
func (e *LedgerEntry) LegFor(bankID string) LegType {
	if e.BankID == bankID {
		return e.PaymentType
	}
	if e.IsDual && e.ToBankID == bankID {
		return e.ToPaymentType
	}
	return ""
}
