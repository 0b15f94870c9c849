package services

import (
	"github.com/shopspring/decimal"
	"github.com/tripdesk/backoffice/internal/models"
)

// EntryLegView is the per-row view of one bank leg in a listing: the amounts
// this entry moved on that leg plus the bank's running net after applying it.
type EntryLegView struct {
	In  decimal.Decimal `json:"in"`
	Out decimal.Decimal `json:"out"`
	Net decimal.Decimal `json:"totalAmount"`
}

// EntryListItem is a ledger entry decorated with running totals for the
// bank(s) it touches.
type EntryListItem struct {
	models.LedgerEntry
	BankTotals   *EntryLegView `json:"bankTotals,omitempty"`
	ToBankTotals *EntryLegView `json:"toBankTotals,omitempty"`
}

// AttachRunningTotals walks the entries oldest-first, accumulating a running
// net per bank account, and annotates each row with the leg amounts it
// contributed and the balance after it. Input order (newest-first) is
// preserved in the output. Non-accepted rows are annotated with zero leg
// amounts and the unchanged running balance.
func AttachRunningTotals(entries []models.LedgerEntry) []EntryListItem {
	items := make([]EntryListItem, len(entries))
	running := make(map[string]decimal.Decimal)

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		item := EntryListItem{LedgerEntry: e}

		if e.BankID != "" {
			item.BankTotals = applyLeg(running, e.BankID, e.PaymentType, &e)
		}
		if e.IsDual && e.ToBankID != "" {
			item.ToBankTotals = applyLeg(running, e.ToBankID, e.ToPaymentType, &e)
		}

		items[i] = item
	}

	return items
}

func applyLeg(running map[string]decimal.Decimal, bankID string, leg models.LegType, e *models.LedgerEntry) *EntryLegView {
	view := &EntryLegView{In: decimal.Zero, Out: decimal.Zero}

	if e.Acceptance == models.AcceptanceAccepted {
		switch leg {
		case models.LegIn:
			view.In = e.Amount
			running[bankID] = running[bankID].Add(e.Amount)
		case models.LegOut:
			view.Out = e.Amount
			running[bankID] = running[bankID].Sub(e.Amount)
		}
	}

	view.Net = running[bankID]
	return view
}
