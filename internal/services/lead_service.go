package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/tripdesk/backoffice/internal/models"
)

// LeadService exposes the lead-side repair and inspection endpoints. The
// ledger only ever reads leads and corrects their remaining amount; lead
// lifecycle (creation, pricing) belongs to the sales subsystem.
type LeadService struct {
	db     *sql.DB
	recalc *RecalculatorService
}

func NewLeadService(db *sql.DB, recalc *RecalculatorService) *LeadService {
	return &LeadService{db: db, recalc: recalc}
}

// findLeadByRef resolves a lead reference: opaque id first, lead code as
// fallback. Callers holding only a code or only an id go through the same
// path.
func findLeadByRef(db *sql.DB, ref string) (*models.Lead, error) {
	lead := &models.Lead{}
	var remaining decimal.NullDecimal

	err := db.QueryRow(`
        SELECT id, lead_code, name, total_amount, remaining_amount, created_at, updated_at
        FROM leads WHERE id = $1
    `, ref).Scan(&lead.ID, &lead.LeadCode, &lead.Name, &lead.TotalAmount, &remaining, &lead.CreatedAt, &lead.UpdatedAt)
	if err == sql.ErrNoRows {
		err = db.QueryRow(`
            SELECT id, lead_code, name, total_amount, remaining_amount, created_at, updated_at
            FROM leads WHERE lead_code = $1
        `, ref).Scan(&lead.ID, &lead.LeadCode, &lead.Name, &lead.TotalAmount, &remaining, &lead.CreatedAt, &lead.UpdatedAt)
	}
	if err == sql.ErrNoRows {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, err
	}

	if remaining.Valid {
		d := remaining.Decimal
		lead.RemainingAmount = &d
	}
	return lead, nil
}

// InitializeIfUnset computes and persists remainingAmount for a lead that has
// never been reconciled, deriving it from the accepted entry set like every
// other remaining-amount write. Leads with a remaining amount already set are
// left alone.
func (ls *LeadService) InitializeIfUnset(leadRef string) error {
	lead, err := findLeadByRef(ls.db, leadRef)
	if err != nil {
		return err
	}
	if lead.RemainingAmount != nil {
		return nil
	}

	totals, err := ls.recalc.RecomputeLeadRemaining(lead.ID)
	if err != nil {
		return err
	}

	log.Printf("[LEAD] Initialized remaining amount for lead %s to %s", lead.ID, totals.Remaining)
	return nil
}

// FixRemaining re-derives a lead's remaining amount from the accepted entry
// set and reports before/after
// @Summary Repair a lead's remaining amount
// @Tags leads
// @Produce json
// @Router /leads/{leadRef}/fix-remaining [post]
func (ls *LeadService) FixRemaining(w http.ResponseWriter, r *http.Request) {
	leadRef := chi.URLParam(r, "leadRef")

	lead, err := findLeadByRef(ls.db, leadRef)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			SendErrorResponse(w, "Lead not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch lead", http.StatusInternalServerError, nil)
		}
		return
	}

	var previous *decimal.Decimal
	if lead.RemainingAmount != nil {
		p := *lead.RemainingAmount
		previous = &p
	}

	totals, err := ls.recalc.RecomputeLeadRemaining(leadRef)
	if err != nil {
		log.Printf("[LEAD] Failed to fix remaining amount for lead %s: %v", leadRef, err)
		SendErrorResponse(w, "Failed to recalculate remaining amount", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"leadId":            lead.ID,
			"leadCode":          lead.LeadCode,
			"totalAmount":       lead.TotalAmount,
			"previousRemaining": previous,
			"totalPaid":         totals.TotalPaid,
			"remainingAmount":   totals.Remaining,
		},
	})
}

// leadDebugEntry is one entry in a debug breakdown.
type leadDebugEntry struct {
	ID         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	BankName   string          `json:"bankName,omitempty"`
	Acceptance string          `json:"acceptance"`
	CreatedAt  string          `json:"createdAt"`
}

// DebugAmounts shows how a lead's remaining amount derives from its entries
// without modifying anything
// @Summary Inspect a lead's payment arithmetic
// @Tags leads
// @Produce json
// @Router /leads/{leadRef}/debug-amounts [get]
func (ls *LeadService) DebugAmounts(w http.ResponseWriter, r *http.Request) {
	leadRef := chi.URLParam(r, "leadRef")

	lead, err := findLeadByRef(ls.db, leadRef)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			SendErrorResponse(w, "Lead not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch lead", http.StatusInternalServerError, nil)
		}
		return
	}

	rows, err := ls.db.Query(`
        SELECT id, amount, bank_name, acceptance, created_at
        FROM bank_transactions
        WHERE lead_ref = $1 OR (lead_ref = $2 AND $2 <> '')
        ORDER BY created_at ASC
    `, lead.ID, lead.LeadCode)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch entries", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accepted := []leadDebugEntry{}
	pending := []leadDebugEntry{}
	totalPaid := decimal.Zero
	for rows.Next() {
		var (
			entry     leadDebugEntry
			createdAt sql.NullTime
		)
		if err := rows.Scan(&entry.ID, &entry.Amount, &entry.BankName, &entry.Acceptance, &createdAt); err != nil {
			SendErrorResponse(w, "Failed to fetch entries", http.StatusInternalServerError, nil)
			return
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time.Format("2006-01-02T15:04:05Z07:00")
		}
		if entry.Acceptance == string(models.AcceptanceAccepted) {
			totalPaid = totalPaid.Add(entry.Amount)
			accepted = append(accepted, entry)
		} else {
			pending = append(pending, entry)
		}
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch entries", http.StatusInternalServerError, nil)
		return
	}

	expected := lead.TotalAmount.Sub(totalPaid)
	if expected.IsNegative() {
		expected = decimal.Zero
	}

	// Stored minus expected: zero means the lead is consistent, non-zero is
	// the exact drift a fix-remaining run would correct. Nil until the lead
	// has a stored remaining amount at all.
	var discrepancy *decimal.Decimal
	if lead.RemainingAmount != nil {
		d := lead.RemainingAmount.Sub(expected)
		discrepancy = &d
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"leadId":            lead.ID,
			"leadCode":          lead.LeadCode,
			"name":              lead.Name,
			"totalAmount":       lead.TotalAmount,
			"storedRemaining":   lead.RemainingAmount,
			"totalPaid":         totalPaid,
			"expectedRemaining": expected,
			"discrepancy":       discrepancy,
			"acceptedEntries":   accepted,
			"pendingEntries":    pending,
		},
	})
}
