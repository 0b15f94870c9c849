package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/tripdesk/backoffice/internal/models"
)

var (
	// ErrBankNotFound is returned when a bank account id does not resolve.
	ErrBankNotFound = errors.New("bank account not found")
	// ErrLeadNotFound is returned when a lead reference does not resolve.
	ErrLeadNotFound = errors.New("lead not found")
)

// RecalculatorService re-derives cached aggregates from the authoritative
// entry set. It is the single source of truth for what the numbers should
// be: every incremental path in the ledger ends up calling into it, and the
// repair endpoints call it directly.
//
// Recomputation is serialized per bank account id and per lead id so that
// two concurrent mutations touching the same aggregate cannot interleave the
// read-scan-write cycle.
type RecalculatorService struct {
	db    *sql.DB
	locks *keyedMutex
}

func NewRecalculatorService(db *sql.DB) *RecalculatorService {
	return &RecalculatorService{
		db:    db,
		locks: newKeyedMutex(),
	}
}

// SumBankLegs folds the entry set into totals for one bank account. Only
// accepted entries count; the leg type used is the one that applies to this
// specific account (primary leg if the account is the primary bank,
// secondary leg if it is the dual counterparty).
func SumBankLegs(bankID string, entries []models.LedgerEntry) models.BankTotals {
	in := decimal.Zero
	out := decimal.Zero

	for _, e := range entries {
		if e.Acceptance != models.AcceptanceAccepted {
			continue
		}
		switch e.LegFor(bankID) {
		case models.LegIn:
			in = in.Add(e.Amount)
		case models.LegOut:
			out = out.Add(e.Amount)
		}
	}

	return models.BankTotals{In: in, Out: out, Net: in.Sub(out)}
}

// RecomputeBankAccount scans every entry referencing the account on either
// leg, folds the accepted ones into fresh totals and persists them.
// Idempotent: with no intervening ledger change a second call writes the
// same values.
func (s *RecalculatorService) RecomputeBankAccount(bankID string) (*models.BankTotals, error) {
	unlock := s.locks.lock("bank:" + bankID)
	defer unlock()

	timer := prometheus.NewTimer(recomputeLatency.WithLabelValues("bank"))
	defer timer.ObserveDuration()
	recomputeTotal.WithLabelValues("bank").Inc()

	entries, err := s.entriesForBank(bankID)
	if err != nil {
		return nil, fmt.Errorf("scanning entries for bank %s: %w", bankID, err)
	}

	totals := SumBankLegs(bankID, entries)

	result, err := s.db.Exec(`
        UPDATE bank_accounts
        SET total_in = $1, total_out = $2, net_balance = $3, updated_at = NOW()
        WHERE id = $4
    `, totals.In, totals.Out, totals.Net, bankID)
	if err != nil {
		return nil, fmt.Errorf("persisting totals for bank %s: %w", bankID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrBankNotFound
	}

	log.Printf("[RECALC] Updated bank %s totals: in=%s, out=%s, net=%s",
		bankID, totals.In, totals.Out, totals.Net)
	return &totals, nil
}

// RecomputeLeadRemaining resolves the lead (opaque id first, lead code as
// fallback), sums every accepted entry referencing it and persists
// remaining = max(0, totalAmount - totalPaid).
func (s *RecalculatorService) RecomputeLeadRemaining(leadRef string) (*models.LeadTotals, error) {
	lead, err := findLeadByRef(s.db, leadRef)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock("lead:" + lead.ID)
	defer unlock()

	timer := prometheus.NewTimer(recomputeLatency.WithLabelValues("lead"))
	defer timer.ObserveDuration()
	recomputeTotal.WithLabelValues("lead").Inc()

	totalPaid, err := s.sumAcceptedForLead(lead)
	if err != nil {
		return nil, fmt.Errorf("summing accepted entries for lead %s: %w", leadRef, err)
	}

	remaining := lead.TotalAmount.Sub(totalPaid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	if _, err := s.db.Exec(`
        UPDATE leads SET remaining_amount = $1, updated_at = NOW() WHERE id = $2
    `, remaining, lead.ID); err != nil {
		return nil, fmt.Errorf("persisting remaining amount for lead %s: %w", leadRef, err)
	}

	log.Printf("[RECALC] Updated lead %s remaining: total=%s, paid=%s, remaining=%s",
		lead.ID, lead.TotalAmount, totalPaid, remaining)
	return &models.LeadTotals{Remaining: remaining, TotalPaid: totalPaid}, nil
}

// BankRecalcResult is the per-account outcome of a batch repair run.
type BankRecalcResult struct {
	BankID        string             `json:"bankId"`
	BankName      string             `json:"bankName"`
	AccountNumber string             `json:"accountNumber"`
	Previous      *models.BankTotals `json:"previousTotals,omitempty"`
	New           *models.BankTotals `json:"newTotals,omitempty"`
	EntryCount    int                `json:"entryCount"`
	Success       bool               `json:"success"`
	Error         string             `json:"error,omitempty"`
}

// BankRecalcReport summarizes a full repair pass over every bank account.
type BankRecalcReport struct {
	Results    []BankRecalcResult `json:"results"`
	TotalBanks int                `json:"totalBanks"`
	Succeeded  int                `json:"successfulRecalculations"`
	Failed     int                `json:"failedRecalculations"`
}

// RecomputeAllBankAccounts repairs every account sequentially. Failures are
// isolated per account: one bad account never aborts the batch.
func (s *RecalculatorService) RecomputeAllBankAccounts() (*BankRecalcReport, error) {
	rows, err := s.db.Query(`
        SELECT id, bank_name, account_number, total_in, total_out, net_balance
        FROM bank_accounts
    `)
	if err != nil {
		return nil, fmt.Errorf("listing bank accounts: %w", err)
	}
	defer rows.Close()

	type accountRow struct {
		id, name, number string
		totals           models.BankTotals
	}
	var accounts []accountRow
	for rows.Next() {
		var a accountRow
		if err := rows.Scan(&a.id, &a.name, &a.number, &a.totals.In, &a.totals.Out, &a.totals.Net); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report := &BankRecalcReport{TotalBanks: len(accounts)}
	for _, account := range accounts {
		previous := account.totals
		result := BankRecalcResult{
			BankID:        account.id,
			BankName:      account.name,
			AccountNumber: account.number,
			Previous:      &previous,
		}

		entries, err := s.entriesForBank(account.id)
		var fresh *models.BankTotals
		if err == nil {
			result.EntryCount = len(entries)
			fresh, err = s.RecomputeBankAccount(account.id)
		}

		if err != nil {
			log.Printf("[RECALC] Failed to recalculate bank %s: %v", account.id, err)
			recomputeFailures.WithLabelValues("bank").Inc()
			result.Error = err.Error()
			report.Failed++
		} else {
			result.New = fresh
			result.Success = true
			report.Succeeded++
		}
		report.Results = append(report.Results, result)
	}

	return report, nil
}

func (s *RecalculatorService) entriesForBank(bankID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
        SELECT `+entryColumns+`
        FROM bank_transactions
        WHERE bank_id = $1 OR to_bank_id = $1
    `, bankID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *RecalculatorService) sumAcceptedForLead(lead *models.Lead) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRow(`
        SELECT COALESCE(SUM(amount), 0)
        FROM bank_transactions
        WHERE acceptance = 'accepted' AND (lead_ref = $1 OR (lead_ref = $2 AND $2 <> ''))
    `, lead.ID, lead.LeadCode).Scan(&total)
	return total, err
}

// keyedMutex hands out one mutex per key, dropping the key once released.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
