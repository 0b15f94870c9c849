package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tripdesk/backoffice/internal/models"
)

var entryColumnList = []string{
	"id", "bank_id", "bank_name", "account_number",
	"to_bank_id", "to_bank_name", "to_account_number",
	"is_dual", "payment_type", "to_payment_type",
	"lead_ref", "lead_name", "operation_id", "payment_mode",
	"amount", "reference_no", "utr_number", "image",
	"transaction_date", "clear_date", "description",
	"auto_hotel", "auto_cab", "hotel_payment", "cab_payment",
	"acceptance", "lead_total_snapshot", "lead_remaining_snapshot",
	"created_at", "updated_at",
}

var entryColumns = strings.Join(entryColumnList, ", ")

func prefixedEntryColumns(alias string) string {
	cols := make([]string, len(entryColumnList))
	for i, c := range entryColumnList {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// TransactionService owns ledger entry mutations. Every write persists the
// entry first and then drives bank/lead reconciliation as independent
// best-effort steps: a reconciliation failure is logged and counted but never
// fails the request that already durably saved the entry.
type TransactionService struct {
	db        *sql.DB
	redis     *redis.Client
	recalc    *RecalculatorService
	leads     *LeadService
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client, recalc *RecalculatorService, leads *LeadService) *TransactionService {
	return &TransactionService{
		db:        db,
		redis:     redisClient,
		recalc:    recalc,
		leads:     leads,
		validator: NewValidationHelper(),
	}
}

type entryRequest struct {
	BankID          string          `json:"bankId"`
	ToBankID        string          `json:"toBankId"`
	IsDual          bool            `json:"isDual"`
	PaymentType     string          `json:"paymentType" validate:"omitempty,oneof=in out"`
	ToPaymentType   string          `json:"toPaymentType" validate:"omitempty,oneof=in out"`
	LeadRef         string          `json:"leadRef"`
	LeadName        string          `json:"leadName"`
	OperationID     string          `json:"operationId"`
	PaymentMode     string          `json:"paymentMode"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNo     string          `json:"referenceNo"`
	UTRNumber       string          `json:"utrNumber"`
	Image           string          `json:"image"`
	TransactionDate *time.Time      `json:"transactionDate"`
	ClearDate       *time.Time      `json:"clearDate"`
	Description     string          `json:"description"`
	AutoHotel       bool            `json:"autoHotel"`
	AutoCab         bool            `json:"autoCab"`
	HotelPayment    bool            `json:"hotelPayment"`
	CabPayment      bool            `json:"cabPayment"`
	Acceptance      string          `json:"acceptance" validate:"omitempty,oneof=pending accepted rejected"`
}

// CreateTransaction records a new ledger entry
// @Summary Create a ledger entry
// @Description Record a money movement; bank assignment is optional at creation
// @Tags transactions
// @Accept json
// @Produce json
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req entryRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount.IsNegative() {
		SendErrorResponse(w, "amount must not be negative", http.StatusBadRequest, nil)
		return
	}

	acceptance := models.AcceptancePending
	if req.Acceptance != "" {
		acceptance = models.Acceptance(req.Acceptance)
	}

	if req.BankID != "" && !models.LegType(strings.ToLower(req.PaymentType)).Valid() {
		SendErrorResponse(w, "paymentType is required when a bank is assigned", http.StatusBadRequest, nil)
		return
	}
	if req.IsDual {
		if req.ToBankID == "" {
			SendErrorResponse(w, "toBankId is required for dual bank transactions", http.StatusBadRequest, nil)
			return
		}
		if !models.LegType(req.ToPaymentType).Valid() {
			SendErrorResponse(w, "toPaymentType is required for dual bank transactions", http.StatusBadRequest, nil)
			return
		}
	}

	entry := models.LedgerEntry{
		ID:              uuid.NewString(),
		BankID:          req.BankID,
		IsDual:          req.IsDual,
		PaymentType:     models.LegType(strings.ToLower(req.PaymentType)),
		LeadRef:         req.LeadRef,
		LeadName:        req.LeadName,
		OperationID:     req.OperationID,
		PaymentMode:     req.PaymentMode,
		Amount:          req.Amount,
		ReferenceNo:     req.ReferenceNo,
		UTRNumber:       req.UTRNumber,
		Image:           req.Image,
		TransactionDate: req.TransactionDate,
		ClearDate:       req.ClearDate,
		Description:     req.Description,
		AutoHotel:       req.AutoHotel,
		AutoCab:         req.AutoCab,
		HotelPayment:    req.HotelPayment,
		CabPayment:      req.CabPayment,
		Acceptance:      acceptance,
	}

	if req.BankID != "" {
		bank, err := ts.findBank(req.BankID)
		if err != nil {
			if err == sql.ErrNoRows {
				SendErrorResponse(w, "Primary bank account not found", http.StatusNotFound, nil)
				return
			}
			SendErrorResponse(w, "Failed to resolve bank account", http.StatusInternalServerError, nil)
			return
		}
		entry.BankName = bank.BankName
		entry.AccountNumber = bank.AccountNumber
	}

	if req.IsDual {
		toBank, err := ts.findBank(req.ToBankID)
		if err != nil {
			if err == sql.ErrNoRows {
				SendErrorResponse(w, "Secondary bank account not found", http.StatusNotFound, nil)
				return
			}
			SendErrorResponse(w, "Failed to resolve bank account", http.StatusInternalServerError, nil)
			return
		}
		entry.ToBankID = req.ToBankID
		entry.ToBankName = toBank.BankName
		entry.ToAccountNumber = toBank.AccountNumber
		entry.ToPaymentType = models.LegType(strings.ToLower(req.ToPaymentType))
	}

	// Snapshot the lead's amounts at write time. Display only; a missing
	// lead is not an error here.
	if req.LeadRef != "" {
		if lead, err := findLeadByRef(ts.db, req.LeadRef); err == nil {
			total := lead.TotalAmount
			entry.LeadTotalSnapshot = &total
			remaining := decimal.Zero
			if lead.RemainingAmount != nil {
				remaining = *lead.RemainingAmount
			}
			entry.LeadRemainingSnapshot = &remaining
		} else if !errors.Is(err, ErrLeadNotFound) {
			log.Printf("[LEDGER] Error fetching lead %s for snapshot: %v", req.LeadRef, err)
		}
	}

	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := ts.insertEntry(&entry); err != nil {
		log.Printf("[LEDGER] Failed to store entry: %v", err)
		SendErrorResponse(w, "Failed to store transaction", http.StatusInternalServerError, nil)
		return
	}

	// Entry is durable; everything below is best-effort.
	if entry.Acceptance == models.AcceptanceAccepted && entry.LeadRef != "" {
		if err := ts.leads.InitializeIfUnset(entry.LeadRef); err != nil && !errors.Is(err, ErrLeadNotFound) {
			log.Printf("[LEDGER] Error initializing remaining amount for lead %s: %v", entry.LeadRef, err)
		}
		ts.reconcileLead(entry.LeadRef)
	}
	ts.refreshBank(entry.BankID)
	if entry.IsDual {
		ts.refreshBank(entry.ToBankID)
	}
	ts.publishEvent("entry.created", &entry)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    entry,
	})
}

// UpdateTransaction edits a ledger entry and reconciles every aggregate whose
// effect changed. The previous state is captured before the write; afterwards
// each lead whose effect changed is re-derived from the full accepted set and
// every bank involved before or after the edit is refreshed.
// @Summary Update a ledger entry
// @Tags transactions
// @Accept json
// @Produce json
// @Router /transactions/{txId} [patch]
func (ts *TransactionService) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	prev, err := ts.fetchEntry(txID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	var req entryPatchRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	next := *prev
	if status, msg := ts.applyPatch(&next, &req); status != 0 {
		SendErrorResponse(w, msg, status, nil)
		return
	}

	next.UpdatedAt = time.Now()
	if err := ts.saveEntry(&next); err != nil {
		log.Printf("[LEDGER] Failed to update entry %s: %v", txID, err)
		SendErrorResponse(w, "Failed to update transaction", http.StatusInternalServerError, nil)
		return
	}

	ts.reconcileAfterUpdate(prev, &next)
	ts.publishEvent("entry.updated", &next)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    next,
	})
}

// DeleteTransaction removes an entry. The deletion itself succeeds even if
// the follow-up reconciliation fails.
// @Summary Delete a ledger entry
// @Tags transactions
// @Produce json
// @Router /transactions/{txId} [delete]
func (ts *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	entry, err := ts.fetchEntry(txID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	if _, err := ts.db.Exec(`DELETE FROM bank_transactions WHERE id = $1`, txID); err != nil {
		log.Printf("[LEDGER] Failed to delete entry %s: %v", txID, err)
		SendErrorResponse(w, "Failed to delete transaction", http.StatusInternalServerError, nil)
		return
	}

	if entry.Acceptance == models.AcceptanceAccepted && entry.LeadRef != "" {
		ts.reconcileLead(entry.LeadRef)
	}
	ts.refreshBank(entry.BankID)
	if entry.IsDual {
		ts.refreshBank(entry.ToBankID)
	}
	ts.publishEvent("entry.deleted", entry)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Transaction deleted",
	})
}

type entryPatchRequest struct {
	BankID          *string          `json:"bankId"`
	ToBankID        *string          `json:"toBankId"`
	IsDual          *bool            `json:"isDual"`
	PaymentType     *string          `json:"paymentType" validate:"omitempty,oneof=in out"`
	ToPaymentType   *string          `json:"toPaymentType" validate:"omitempty,oneof=in out"`
	LeadRef         *string          `json:"leadRef"`
	LeadName        *string          `json:"leadName"`
	OperationID     *string          `json:"operationId"`
	PaymentMode     *string          `json:"paymentMode"`
	Amount          *decimal.Decimal `json:"amount"`
	ReferenceNo     *string          `json:"referenceNo"`
	UTRNumber       *string          `json:"utrNumber"`
	Image           *string          `json:"image"`
	TransactionDate *time.Time       `json:"transactionDate"`
	ClearDate       *time.Time       `json:"clearDate"`
	Description     *string          `json:"description"`
	AutoHotel       *bool            `json:"autoHotel"`
	AutoCab         *bool            `json:"autoCab"`
	HotelPayment    *bool            `json:"hotelPayment"`
	CabPayment      *bool            `json:"cabPayment"`
	Acceptance      *string          `json:"acceptance" validate:"omitempty,oneof=pending accepted rejected"`
}

// applyPatch merges the patch into the entry, resolving bank references and
// refreshing lead snapshots. Returns a non-zero HTTP status on rejection.
func (ts *TransactionService) applyPatch(entry *models.LedgerEntry, req *entryPatchRequest) (int, string) {
	if req.Amount != nil {
		if req.Amount.IsNegative() {
			return http.StatusBadRequest, "amount must not be negative"
		}
		entry.Amount = *req.Amount
	}

	if req.BankID != nil && *req.BankID != "" {
		bank, err := ts.findBank(*req.BankID)
		if err != nil {
			if err == sql.ErrNoRows {
				return http.StatusNotFound, "Primary bank account not found"
			}
			return http.StatusInternalServerError, "Failed to resolve bank account"
		}
		entry.BankID = *req.BankID
		entry.BankName = bank.BankName
		entry.AccountNumber = bank.AccountNumber
	}

	if req.IsDual != nil {
		entry.IsDual = *req.IsDual
	}
	if req.PaymentType != nil {
		entry.PaymentType = models.LegType(strings.ToLower(*req.PaymentType))
	}

	if entry.IsDual {
		if req.ToBankID != nil && *req.ToBankID != "" {
			toBank, err := ts.findBank(*req.ToBankID)
			if err != nil {
				if err == sql.ErrNoRows {
					return http.StatusNotFound, "Secondary bank account not found"
				}
				return http.StatusInternalServerError, "Failed to resolve bank account"
			}
			entry.ToBankID = *req.ToBankID
			entry.ToBankName = toBank.BankName
			entry.ToAccountNumber = toBank.AccountNumber
		}
		if req.ToPaymentType != nil {
			entry.ToPaymentType = models.LegType(strings.ToLower(*req.ToPaymentType))
		}
		if entry.ToBankID == "" {
			return http.StatusBadRequest, "toBankId is required for dual bank transactions"
		}
		if !entry.ToPaymentType.Valid() {
			return http.StatusBadRequest, "toPaymentType is required for dual bank transactions"
		}
	} else {
		// Dropping the dual flag clears the secondary leg.
		entry.ToBankID = ""
		entry.ToBankName = ""
		entry.ToAccountNumber = ""
		entry.ToPaymentType = ""
	}

	if entry.BankID != "" && !entry.PaymentType.Valid() {
		return http.StatusBadRequest, "paymentType is required when a bank is assigned"
	}

	if req.LeadRef != nil {
		entry.LeadRef = *req.LeadRef
		if *req.LeadRef != "" {
			if lead, err := findLeadByRef(ts.db, *req.LeadRef); err == nil {
				total := lead.TotalAmount
				entry.LeadTotalSnapshot = &total
				remaining := decimal.Zero
				if lead.RemainingAmount != nil {
					remaining = *lead.RemainingAmount
				}
				entry.LeadRemainingSnapshot = &remaining
			} else if !errors.Is(err, ErrLeadNotFound) {
				log.Printf("[LEDGER] Error fetching lead %s for snapshot: %v", *req.LeadRef, err)
			}
		} else {
			entry.LeadTotalSnapshot = nil
			entry.LeadRemainingSnapshot = nil
		}
	}

	if req.LeadName != nil {
		entry.LeadName = *req.LeadName
	}
	if req.OperationID != nil {
		entry.OperationID = *req.OperationID
	}
	if req.PaymentMode != nil {
		entry.PaymentMode = *req.PaymentMode
	}
	if req.ReferenceNo != nil {
		entry.ReferenceNo = *req.ReferenceNo
	}
	if req.UTRNumber != nil {
		entry.UTRNumber = *req.UTRNumber
	}
	if req.Image != nil {
		entry.Image = *req.Image
	}
	if req.TransactionDate != nil {
		entry.TransactionDate = req.TransactionDate
	}
	if req.ClearDate != nil {
		entry.ClearDate = req.ClearDate
	}
	if req.Description != nil {
		entry.Description = *req.Description
	}
	if req.AutoHotel != nil {
		entry.AutoHotel = *req.AutoHotel
	}
	if req.AutoCab != nil {
		entry.AutoCab = *req.AutoCab
	}
	if req.HotelPayment != nil {
		entry.HotelPayment = *req.HotelPayment
	}
	if req.CabPayment != nil {
		entry.CabPayment = *req.CabPayment
	}
	if req.Acceptance != nil {
		entry.Acceptance = models.Acceptance(*req.Acceptance)
	}

	return 0, ""
}

// reconcileAfterUpdate corrects the aggregates for the transition from prev
// to next. Lead effects are always re-derived from the full accepted set,
// never adjusted arithmetically, so the correction lands exactly once no
// matter how the edit combined acceptance, amount and lead changes.
func (ts *TransactionService) reconcileAfterUpdate(prev, next *models.LedgerEntry) {
	prevAccepted := prev.Acceptance == models.AcceptanceAccepted
	nextAccepted := next.Acceptance == models.AcceptanceAccepted

	switch {
	case !prevAccepted && nextAccepted:
		ts.reconcileLead(next.LeadRef)
	case prevAccepted && !nextAccepted:
		ts.reconcileLead(prev.LeadRef)
	case prevAccepted && nextAccepted:
		if prev.LeadRef != next.LeadRef {
			ts.reconcileLead(prev.LeadRef)
			ts.reconcileLead(next.LeadRef)
		} else if !prev.Amount.Equal(next.Amount) {
			ts.reconcileLead(next.LeadRef)
		}
	}

	if !financialChange(prev, next) {
		return
	}

	refreshed := make(map[string]bool)
	refresh := func(bankID string) {
		if bankID == "" || refreshed[bankID] {
			return
		}
		refreshed[bankID] = true
		ts.refreshBank(bankID)
	}

	refresh(next.BankID)
	refresh(prev.BankID)
	if next.IsDual {
		refresh(next.ToBankID)
	}
	if prev.IsDual {
		refresh(prev.ToBankID)
	}
}

// financialChange reports whether the edit can alter any bank total.
// Description/date/reference edits return false and trigger no refresh.
func financialChange(prev, next *models.LedgerEntry) bool {
	return prev.Acceptance != next.Acceptance ||
		!prev.Amount.Equal(next.Amount) ||
		prev.BankID != next.BankID ||
		prev.ToBankID != next.ToBankID ||
		prev.IsDual != next.IsDual ||
		prev.PaymentType != next.PaymentType ||
		prev.ToPaymentType != next.ToPaymentType
}

// reconcileLead re-derives a lead's remaining amount. A missing lead is a
// no-op; any other failure is logged and counted, never propagated.
func (ts *TransactionService) reconcileLead(leadRef string) {
	if leadRef == "" {
		return
	}
	if _, err := ts.recalc.RecomputeLeadRemaining(leadRef); err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			log.Printf("[LEDGER] Lead %s not found during reconciliation, skipping", leadRef)
			return
		}
		recomputeFailures.WithLabelValues("lead").Inc()
		log.Printf("[LEDGER] Failed to reconcile lead %s: %v", leadRef, err)
	}
}

// refreshBank re-derives a bank's totals with the same failure discipline.
func (ts *TransactionService) refreshBank(bankID string) {
	if bankID == "" {
		return
	}
	if _, err := ts.recalc.RecomputeBankAccount(bankID); err != nil {
		if errors.Is(err, ErrBankNotFound) {
			log.Printf("[LEDGER] Bank %s not found during reconciliation, skipping", bankID)
			return
		}
		recomputeFailures.WithLabelValues("bank").Inc()
		log.Printf("[LEDGER] Failed to refresh bank %s totals: %v", bankID, err)
	}
}

// GetTransaction retrieves a single entry
// @Summary Get ledger entry by ID
// @Tags transactions
// @Produce json
// @Router /transactions/{txId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	entry, err := ts.fetchEntry(txID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    entry,
	})
}

// ListTransactions lists entries with optional filters
// @Summary List ledger entries
// @Description Accepted entries by default; filterable by bank, payment mode and acceptance
// @Tags transactions
// @Produce json
// @Param bank query string false "Bank account id (matches either leg)"
// @Param paymentMode query string false "Payment mode"
// @Param acceptance query string false "pending|accepted|rejected"
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	acceptance := r.URL.Query().Get("acceptance")
	if acceptance == "" {
		acceptance = string(models.AcceptanceAccepted)
	}
	if !models.Acceptance(acceptance).Valid() {
		SendErrorResponse(w, "invalid acceptance filter", http.StatusBadRequest, nil)
		return
	}
	conditions = append(conditions, fmt.Sprintf("acceptance = $%d", argIndex))
	args = append(args, acceptance)
	argIndex++

	if bankID := r.URL.Query().Get("bank"); bankID != "" {
		conditions = append(conditions, fmt.Sprintf("(bank_id = $%d OR to_bank_id = $%d)", argIndex, argIndex))
		args = append(args, bankID)
		argIndex++
	}
	if mode := r.URL.Query().Get("paymentMode"); mode != "" {
		conditions = append(conditions, fmt.Sprintf("payment_mode = $%d", argIndex))
		args = append(args, mode)
		argIndex++
	}

	query := `SELECT ` + entryColumns + ` FROM bank_transactions WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC`

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	items := AttachRunningTotals(entries)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    items,
		"count":   len(items),
	})
}

// GetTransactionsByLead lists every entry referencing a lead
// @Summary List ledger entries for a lead
// @Tags transactions
// @Produce json
// @Router /transactions/lead/{leadRef} [get]
func (ts *TransactionService) GetTransactionsByLead(w http.ResponseWriter, r *http.Request) {
	leadRef := chi.URLParam(r, "leadRef")

	// Entries may reference the lead by either id or code, so match both
	// once the lead resolves; fall back to the raw reference otherwise.
	id, code := leadRef, leadRef
	if lead, err := findLeadByRef(ts.db, leadRef); err == nil {
		id, code = lead.ID, lead.LeadCode
	}

	rows, err := ts.db.Query(`
        SELECT `+entryColumns+`
        FROM bank_transactions
        WHERE lead_ref = $1 OR (lead_ref = $2 AND $2 <> '')
        ORDER BY created_at DESC
    `, id, code)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

// GetTransactionsByOperation lists entries recorded under an operation id
// @Summary List ledger entries by operation id
// @Tags transactions
// @Produce json
// @Router /transactions/operation/{operationId} [get]
func (ts *TransactionService) GetTransactionsByOperation(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "operationId")

	rows, err := ts.db.Query(`
        SELECT `+entryColumns+`
        FROM bank_transactions
        WHERE operation_id = $1
        ORDER BY created_at DESC
    `, operationID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	if len(entries) == 0 {
		SendErrorResponse(w, "No transactions found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

// GetPendingTransactions lists entries awaiting accounts-team review:
// unbanked or not yet accepted, excluding automatic hotel/cab entries.
// @Summary List pending ledger entries
// @Tags transactions
// @Produce json
// @Router /transactions/pending [get]
func (ts *TransactionService) GetPendingTransactions(w http.ResponseWriter, r *http.Request) {
	rows, err := ts.db.Query(`
        SELECT ` + entryColumns + `
        FROM bank_transactions
        WHERE (bank_id IS NULL OR acceptance <> 'accepted')
          AND auto_hotel = FALSE AND auto_cab = FALSE
        ORDER BY created_at DESC
    `)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

// GetDualBankTransactions lists dual entries touching a property-derived bank
// @Summary List dual-bank ledger entries against property accounts
// @Tags transactions
// @Produce json
// @Router /transactions/dual-bank [get]
func (ts *TransactionService) GetDualBankTransactions(w http.ResponseWriter, r *http.Request) {
	ts.listByProvenance(w, r, models.ProvenanceProperty, true)
}

// GetDriverBankTransactions lists entries touching a driver-derived bank
// @Summary List ledger entries against driver accounts
// @Tags transactions
// @Produce json
// @Router /transactions/driver-bank [get]
func (ts *TransactionService) GetDriverBankTransactions(w http.ResponseWriter, r *http.Request) {
	ts.listByProvenance(w, r, models.ProvenanceDriver, false)
}

// listByProvenance filters entries by the provenance tag of either leg's bank
// account. Classification joins on the tag, never on account-number prefixes.
func (ts *TransactionService) listByProvenance(w http.ResponseWriter, r *http.Request, provenance models.Provenance, dualOnly bool) {
	conditions := []string{"(b.provenance = $1 OR tb.provenance = $1)"}
	args := []interface{}{string(provenance)}
	argIndex := 2

	if dualOnly {
		conditions = append(conditions, "e.is_dual = TRUE")
	}
	if acceptance := r.URL.Query().Get("acceptance"); acceptance != "" {
		if !models.Acceptance(acceptance).Valid() {
			SendErrorResponse(w, "invalid acceptance filter", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("e.acceptance = $%d", argIndex))
		args = append(args, acceptance)
		argIndex++
	}
	if mode := r.URL.Query().Get("paymentMode"); mode != "" {
		conditions = append(conditions, fmt.Sprintf("e.payment_mode = $%d", argIndex))
		args = append(args, mode)
		argIndex++
	}

	query := `SELECT ` + prefixedEntryColumns("e") + `
        FROM bank_transactions e
        LEFT JOIN bank_accounts b ON e.bank_id = b.id
        LEFT JOIN bank_accounts tb ON e.to_bank_id = tb.id
        WHERE ` + strings.Join(conditions, " AND ") + `
        ORDER BY e.created_at DESC`

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

// GetAutomaticHotelTransactions lists hotel entries generated by the booking
// subsystem
// @Summary List automatic hotel ledger entries
// @Tags transactions
// @Produce json
// @Router /transactions/automatic-hotel [get]
func (ts *TransactionService) GetAutomaticHotelTransactions(w http.ResponseWriter, r *http.Request) {
	ts.listAutomatic(w, r, "auto_hotel")
}

// GetAutomaticCabTransactions lists cab entries generated by the booking
// subsystem
// @Summary List automatic cab ledger entries
// @Tags transactions
// @Produce json
// @Router /transactions/automatic-cab [get]
func (ts *TransactionService) GetAutomaticCabTransactions(w http.ResponseWriter, r *http.Request) {
	ts.listAutomatic(w, r, "auto_cab")
}

func (ts *TransactionService) listAutomatic(w http.ResponseWriter, r *http.Request, flagColumn string) {
	conditions := []string{flagColumn + " = TRUE"}
	var args []interface{}
	argIndex := 1

	if acceptance := r.URL.Query().Get("acceptance"); acceptance != "" {
		if !models.Acceptance(acceptance).Valid() {
			SendErrorResponse(w, "invalid acceptance filter", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("acceptance = $%d", argIndex))
		args = append(args, acceptance)
		argIndex++
	}
	if mode := r.URL.Query().Get("paymentMode"); mode != "" {
		conditions = append(conditions, fmt.Sprintf("payment_mode = $%d", argIndex))
		args = append(args, mode)
		argIndex++
	}

	query := `SELECT ` + entryColumns + ` FROM bank_transactions WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC`

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

func (ts *TransactionService) findBank(bankID string) (*models.BankAccount, error) {
	bank := &models.BankAccount{ID: bankID}
	err := ts.db.QueryRow(`
        SELECT bank_name, account_number FROM bank_accounts WHERE id = $1
    `, bankID).Scan(&bank.BankName, &bank.AccountNumber)
	if err != nil {
		return nil, err
	}
	return bank, nil
}

func (ts *TransactionService) insertEntry(e *models.LedgerEntry) error {
	_, err := ts.db.Exec(`
        INSERT INTO bank_transactions
        (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
                $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
    `, entryArgs(e)...)
	return err
}

func (ts *TransactionService) saveEntry(e *models.LedgerEntry) error {
	result, err := ts.db.Exec(`
        UPDATE bank_transactions SET
            bank_id = $2, bank_name = $3, account_number = $4,
            to_bank_id = $5, to_bank_name = $6, to_account_number = $7,
            is_dual = $8, payment_type = $9, to_payment_type = $10,
            lead_ref = $11, lead_name = $12, operation_id = $13, payment_mode = $14,
            amount = $15, reference_no = $16, utr_number = $17, image = $18,
            transaction_date = $19, clear_date = $20, description = $21,
            auto_hotel = $22, auto_cab = $23, hotel_payment = $24, cab_payment = $25,
            acceptance = $26, lead_total_snapshot = $27, lead_remaining_snapshot = $28,
            updated_at = $29
        WHERE id = $1
    `, updateArgs(e)...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func entryArgs(e *models.LedgerEntry) []interface{} {
	return []interface{}{
		e.ID, nullString(e.BankID), e.BankName, e.AccountNumber,
		nullString(e.ToBankID), e.ToBankName, e.ToAccountNumber,
		e.IsDual, string(e.PaymentType), string(e.ToPaymentType),
		e.LeadRef, e.LeadName, e.OperationID, e.PaymentMode,
		e.Amount, e.ReferenceNo, e.UTRNumber, e.Image,
		nullTime(e.TransactionDate), nullTime(e.ClearDate), e.Description,
		e.AutoHotel, e.AutoCab, e.HotelPayment, e.CabPayment,
		string(e.Acceptance), nullDecimal(e.LeadTotalSnapshot), nullDecimal(e.LeadRemainingSnapshot),
		e.CreatedAt, e.UpdatedAt,
	}
}

// updateArgs is entryArgs without the immutable created_at.
func updateArgs(e *models.LedgerEntry) []interface{} {
	args := entryArgs(e)
	return append(args[:28], e.UpdatedAt)
}

func (ts *TransactionService) fetchEntry(txID string) (*models.LedgerEntry, error) {
	rows, err := ts.db.Query(`
        SELECT `+entryColumns+` FROM bank_transactions WHERE id = $1
    `, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	return &entries[0], nil
}

func scanEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	for rows.Next() {
		var (
			e                   models.LedgerEntry
			bankID, toBankID    sql.NullString
			payType, toPayType  sql.NullString
			txDate, clearDate   sql.NullTime
			leadTotal, leadLeft decimal.NullDecimal
		)
		err := rows.Scan(
			&e.ID, &bankID, &e.BankName, &e.AccountNumber,
			&toBankID, &e.ToBankName, &e.ToAccountNumber,
			&e.IsDual, &payType, &toPayType,
			&e.LeadRef, &e.LeadName, &e.OperationID, &e.PaymentMode,
			&e.Amount, &e.ReferenceNo, &e.UTRNumber, &e.Image,
			&txDate, &clearDate, &e.Description,
			&e.AutoHotel, &e.AutoCab, &e.HotelPayment, &e.CabPayment,
			&e.Acceptance, &leadTotal, &leadLeft,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.BankID = bankID.String
		e.ToBankID = toBankID.String
		e.PaymentType = models.LegType(payType.String)
		e.ToPaymentType = models.LegType(toPayType.String)
		if txDate.Valid {
			t := txDate.Time
			e.TransactionDate = &t
		}
		if clearDate.Valid {
			t := clearDate.Time
			e.ClearDate = &t
		}
		if leadTotal.Valid {
			d := leadTotal.Decimal
			e.LeadTotalSnapshot = &d
		}
		if leadLeft.Valid {
			d := leadLeft.Decimal
			e.LeadRemainingSnapshot = &d
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
