package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tripdesk/backoffice/internal/models"
)

// BankAccountService manages the registry of bank accounts the ledger posts
// against. Accounts carry an explicit provenance tag (manual, property,
// driver); nothing in the system classifies accounts by name or number
// prefix.
type BankAccountService struct {
	db        *sql.DB
	recalc    *RecalculatorService
	validator *ValidationHelper
}

func NewBankAccountService(db *sql.DB, recalc *RecalculatorService) *BankAccountService {
	return &BankAccountService{
		db:        db,
		recalc:    recalc,
		validator: NewValidationHelper(),
	}
}

type bankAccountRequest struct {
	BankName      string `json:"bankName" validate:"required,min=2,max=100"`
	AccountNumber string `json:"accountNumber" validate:"omitempty,max=50"`
}

// CreateBankAccount registers a manually managed account
// @Summary Create a bank account
// @Tags bank-accounts
// @Accept json
// @Produce json
// @Router /bank-accounts [post]
func (bs *BankAccountService) CreateBankAccount(w http.ResponseWriter, r *http.Request) {
	var req bankAccountRequest

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

	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	now := time.Now()
	account := models.BankAccount{
		ID:            uuid.NewString(),
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		Provenance:    models.ProvenanceManual,
		TotalIn:       decimal.Zero,
		TotalOut:      decimal.Zero,
		NetBalance:    decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := bs.db.Exec(`
        INSERT INTO bank_accounts
        (id, bank_name, account_number, provenance, source_id, total_in, total_out, net_balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, account.ID, account.BankName, account.AccountNumber, string(account.Provenance),
		account.SourceID, account.TotalIn, account.TotalOut, account.NetBalance,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		log.Printf("[BANK] Failed to create account: %v", err)
		SendErrorResponse(w, "Failed to create bank account", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    account,
	})
}

// ListBankAccounts lists accounts, optionally filtered by provenance
// @Summary List bank accounts
// @Tags bank-accounts
// @Produce json
// @Param provenance query string false "manual|property|driver"
// @Router /bank-accounts [get]
func (bs *BankAccountService) ListBankAccounts(w http.ResponseWriter, r *http.Request) {
	query := `
        SELECT id, bank_name, account_number, provenance, source_id,
               total_in, total_out, net_balance, created_at, updated_at
        FROM bank_accounts`
	var args []interface{}

	if provenance := r.URL.Query().Get("provenance"); provenance != "" {
		if !models.Provenance(provenance).Valid() {
			SendErrorResponse(w, "invalid provenance filter", http.StatusBadRequest, nil)
			return
		}
		query += ` WHERE provenance = $1`
		args = append(args, provenance)
	}
	query += ` ORDER BY bank_name ASC`

	rows, err := bs.db.Query(query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch bank accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts, err := scanBankAccounts(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch bank accounts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    accounts,
		"count":   len(accounts),
	})
}

// GetBankAccount retrieves one account with its cached totals
// @Summary Get bank account by ID
// @Tags bank-accounts
// @Produce json
// @Router /bank-accounts/{bankId} [get]
func (bs *BankAccountService) GetBankAccount(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankId")

	account, err := bs.fetchAccount(bankID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Bank account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch bank account", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    account,
	})
}

type bankAccountPatchRequest struct {
	BankName      *string `json:"bankName" validate:"omitempty,min=2,max=100"`
	AccountNumber *string `json:"accountNumber" validate:"omitempty,max=50"`
}

// UpdateBankAccount edits the account's display fields. Totals and the
// provenance tag are never editable through the API.
// @Summary Update a bank account
// @Tags bank-accounts
// @Accept json
// @Produce json
// @Router /bank-accounts/{bankId} [patch]
func (bs *BankAccountService) UpdateBankAccount(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankId")

	account, err := bs.fetchAccount(bankID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Bank account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch bank account", http.StatusInternalServerError, nil)
		}
		return
	}

	var req bankAccountPatchRequest

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

	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.BankName != nil {
		account.BankName = *req.BankName
	}
	if req.AccountNumber != nil {
		account.AccountNumber = *req.AccountNumber
	}
	account.UpdatedAt = time.Now()

	if _, err := bs.db.Exec(`
        UPDATE bank_accounts SET bank_name = $1, account_number = $2, updated_at = $3
        WHERE id = $4
    `, account.BankName, account.AccountNumber, account.UpdatedAt, bankID); err != nil {
		log.Printf("[BANK] Failed to update account %s: %v", bankID, err)
		SendErrorResponse(w, "Failed to update bank account", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    account,
	})
}

// DeleteBankAccount removes an account with no ledger entries against it
// @Summary Delete a bank account
// @Tags bank-accounts
// @Produce json
// @Router /bank-accounts/{bankId} [delete]
func (bs *BankAccountService) DeleteBankAccount(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankId")

	var entryCount int
	err := bs.db.QueryRow(`
        SELECT COUNT(*) FROM bank_transactions WHERE bank_id = $1 OR to_bank_id = $1
    `, bankID).Scan(&entryCount)
	if err != nil {
		SendErrorResponse(w, "Failed to check account usage", http.StatusInternalServerError, nil)
		return
	}
	if entryCount > 0 {
		SendErrorResponse(w, "Bank account has ledger entries and cannot be deleted", http.StatusConflict, nil)
		return
	}

	result, err := bs.db.Exec(`DELETE FROM bank_accounts WHERE id = $1`, bankID)
	if err != nil {
		log.Printf("[BANK] Failed to delete account %s: %v", bankID, err)
		SendErrorResponse(w, "Failed to delete bank account", http.StatusInternalServerError, nil)
		return
	}
	rows, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to delete bank account", http.StatusInternalServerError, nil)
		return
	}
	if rows == 0 {
		SendErrorResponse(w, "Bank account not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Bank account deleted",
	})
}

// GetBankStatement lists an account's entries chronologically with running
// totals per row and final totals
// @Summary Per-bank statement with running totals
// @Tags bank-accounts
// @Produce json
// @Router /bank-accounts/{bankId}/transactions [get]
func (bs *BankAccountService) GetBankStatement(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankId")

	account, err := bs.fetchAccount(bankID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Bank account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch bank account", http.StatusInternalServerError, nil)
		}
		return
	}

	rows, err := bs.db.Query(`
        SELECT `+entryColumns+`
        FROM bank_transactions
        WHERE bank_id = $1 OR to_bank_id = $1
        ORDER BY created_at DESC
    `, bankID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch entries", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch entries", http.StatusInternalServerError, nil)
		return
	}

	items := AttachRunningTotals(entries)
	totals := SumBankLegs(bankID, entries)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"bank":         account,
			"transactions": items,
			"totals":       totals,
		},
		"count": len(items),
	})
}

// RecalculateBankAccount repairs one account's cached totals
// @Summary Recalculate one bank account
// @Description Re-derives totals from the accepted entry set; returns before/after
// @Tags bank-accounts
// @Produce json
// @Router /bank-accounts/{bankId}/recalculate [post]
func (bs *BankAccountService) RecalculateBankAccount(w http.ResponseWriter, r *http.Request) {
	bankID := chi.URLParam(r, "bankId")

	account, err := bs.fetchAccount(bankID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Bank account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch bank account", http.StatusInternalServerError, nil)
		}
		return
	}

	previous := models.BankTotals{In: account.TotalIn, Out: account.TotalOut, Net: account.NetBalance}

	fresh, err := bs.recalc.RecomputeBankAccount(bankID)
	if err != nil {
		if errors.Is(err, ErrBankNotFound) {
			SendErrorResponse(w, "Bank account not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[BANK] Failed to recalculate account %s: %v", bankID, err)
		SendErrorResponse(w, "Failed to recalculate bank account", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"bankId":         bankID,
			"bankName":       account.BankName,
			"previousTotals": previous,
			"newTotals":      fresh,
		},
	})
}

// RecalculateAllBankAccounts repairs every account
// @Summary Recalculate every bank account
// @Description Sequential batch repair with per-account failure isolation
// @Tags bank-accounts
// @Produce json
// @Router /bank-accounts/recalculate-all [post]
func (bs *BankAccountService) RecalculateAllBankAccounts(w http.ResponseWriter, r *http.Request) {
	report, err := bs.recalc.RecomputeAllBankAccounts()
	if err != nil {
		log.Printf("[BANK] Batch recalculation failed: %v", err)
		SendErrorResponse(w, "Failed to recalculate bank accounts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    report,
	})
}

// ProvisionResult reports one auto-provisioning pass.
type ProvisionResult struct {
	Created []models.BankAccount `json:"created"`
	Skipped []string             `json:"skipped"`
	Existed int                  `json:"existed"`
}

// ProvisionPropertyAccounts creates a property-provenance account per named
// property
// @Summary Auto-provision bank accounts from properties
// @Description Idempotent by bank name; properties without a name are reported as skipped
// @Tags bank-accounts
// @Produce json
// @Router /bank-accounts/auto-provision/properties [post]
func (bs *BankAccountService) ProvisionPropertyAccounts(w http.ResponseWriter, r *http.Request) {
	rows, err := bs.db.Query(`SELECT id, property_name FROM properties`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch properties", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	result, err := bs.provisionFromRows(rows, models.ProvenanceProperty, "ACC-")
	if err != nil {
		log.Printf("[BANK] Property auto-provisioning failed: %v", err)
		SendErrorResponse(w, "Failed to provision accounts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

// ProvisionDriverAccounts creates a driver-provenance account per named cab
// driver
// @Summary Auto-provision bank accounts from cab drivers
// @Description Idempotent by bank name; drivers without a name are reported as skipped
// @Tags bank-accounts
// @Produce json
// @Router /bank-accounts/auto-provision/drivers [post]
func (bs *BankAccountService) ProvisionDriverAccounts(w http.ResponseWriter, r *http.Request) {
	rows, err := bs.db.Query(`SELECT id, name FROM cab_drivers`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch cab drivers", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	result, err := bs.provisionFromRows(rows, models.ProvenanceDriver, "CAB-")
	if err != nil {
		log.Printf("[BANK] Driver auto-provisioning failed: %v", err)
		SendErrorResponse(w, "Failed to provision accounts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

// provisionFromRows walks (id, name) source rows and creates an account per
// named entity that does not already have one. Idempotency keys on the bank
// name; the generated account number is display only.
func (bs *BankAccountService) provisionFromRows(rows *sql.Rows, provenance models.Provenance, numberPrefix string) (*ProvisionResult, error) {
	type sourceRow struct {
		id   string
		name sql.NullString
	}
	var sources []sourceRow
	for rows.Next() {
		var s sourceRow
		if err := rows.Scan(&s.id, &s.name); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ProvisionResult{Created: []models.BankAccount{}, Skipped: []string{}}
	for _, src := range sources {
		if !src.name.Valid || src.name.String == "" {
			result.Skipped = append(result.Skipped, src.id)
			continue
		}

		var existingID string
		err := bs.db.QueryRow(`
            SELECT id FROM bank_accounts WHERE bank_name = $1
        `, src.name.String).Scan(&existingID)
		if err == nil {
			result.Existed++
			continue
		}
		if err != sql.ErrNoRows {
			return nil, err
		}

		suffix := src.id
		if len(suffix) > 8 {
			suffix = suffix[len(suffix)-8:]
		}

		now := time.Now()
		account := models.BankAccount{
			ID:            uuid.NewString(),
			BankName:      src.name.String,
			AccountNumber: numberPrefix + suffix,
			Provenance:    provenance,
			SourceID:      src.id,
			TotalIn:       decimal.Zero,
			TotalOut:      decimal.Zero,
			NetBalance:    decimal.Zero,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if _, err := bs.db.Exec(`
            INSERT INTO bank_accounts
            (id, bank_name, account_number, provenance, source_id, total_in, total_out, net_balance, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        `, account.ID, account.BankName, account.AccountNumber, string(account.Provenance),
			account.SourceID, account.TotalIn, account.TotalOut, account.NetBalance,
			account.CreatedAt, account.UpdatedAt); err != nil {
			return nil, err
		}

		log.Printf("[BANK] Provisioned %s account %q for source %s", provenance, account.BankName, src.id)
		result.Created = append(result.Created, account)
	}

	return result, nil
}

func (bs *BankAccountService) fetchAccount(bankID string) (*models.BankAccount, error) {
	account := &models.BankAccount{}
	var sourceID sql.NullString
	err := bs.db.QueryRow(`
        SELECT id, bank_name, account_number, provenance, source_id,
               total_in, total_out, net_balance, created_at, updated_at
        FROM bank_accounts WHERE id = $1
    `, bankID).Scan(
		&account.ID, &account.BankName, &account.AccountNumber, &account.Provenance, &sourceID,
		&account.TotalIn, &account.TotalOut, &account.NetBalance, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.SourceID = sourceID.String
	return account, nil
}

func scanBankAccounts(rows *sql.Rows) ([]models.BankAccount, error) {
	accounts := []models.BankAccount{}
	for rows.Next() {
		var account models.BankAccount
		var sourceID sql.NullString
		err := rows.Scan(
			&account.ID, &account.BankName, &account.AccountNumber, &account.Provenance, &sourceID,
			&account.TotalIn, &account.TotalOut, &account.NetBalance, &account.CreatedAt, &account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		account.SourceID = sourceID.String
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
