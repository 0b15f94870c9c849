package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func accountColumns() []string {
	return []string{"id", "bank_name", "account_number", "provenance", "source_id",
		"total_in", "total_out", "net_balance", "created_at", "updated_at"}
}

func accountRow(id, name, number, provenance, totalIn, totalOut, net string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(accountColumns()).
		AddRow(id, name, number, provenance, "", totalIn, totalOut, net, now, now)
}

func TestBankAccountService_CreateBankAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBankAccountService(db, NewRecalculatorService(db))

	t.Run("successful creation", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO bank_accounts`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := `{"bankName": "HDFC Current", "accountNumber": "50100221199"}`
		r := httptest.NewRequest("POST", "/bank-accounts", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.CreateBankAccount(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "HDFC Current", data["bankName"])
		assert.Equal(t, "manual", data["provenance"])
	})

	t.Run("name too short", func(t *testing.T) {
		body := `{"bankName": "X"}`
		r := httptest.NewRequest("POST", "/bank-accounts", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.CreateBankAccount(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBankAccountService_GetBankAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBankAccountService(db, NewRecalculatorService(db))
	router := chi.NewRouter()
	router.Get("/bank-accounts/{bankId}", service.GetBankAccount)

	t.Run("account found", func(t *testing.T) {
		mock.ExpectQuery(`FROM bank_accounts WHERE id = \$1`).
			WithArgs("b1").
			WillReturnRows(accountRow("b1", "HDFC", "9912", "manual", "500", "200", "300"))

		req := httptest.NewRequest("GET", "/bank-accounts/b1", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "300", data["netBalance"])
	})

	t.Run("manually created account with NULL source id", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`FROM bank_accounts WHERE id = \$1`).
			WithArgs("b2").
			WillReturnRows(sqlmock.NewRows(accountColumns()).
				AddRow("b2", "ICICI", "4411", "manual", nil, "0", "0", "0", now, now))

		req := httptest.NewRequest("GET", "/bank-accounts/b2", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "ICICI", data["bankName"])
		assert.NotContains(t, data, "sourceId")
	})

	t.Run("account not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM bank_accounts WHERE id = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/bank-accounts/ghost", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestBankAccountService_ListBankAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBankAccountService(db, NewRecalculatorService(db))

	t.Run("filter by provenance", func(t *testing.T) {
		mock.ExpectQuery(`WHERE provenance = \$1`).
			WithArgs("driver").
			WillReturnRows(accountRow("b9", "Ram Singh", "CAB-0001", "driver", "0", "0", "0"))

		r := httptest.NewRequest("GET", "/bank-accounts?provenance=driver", nil)
		w := httptest.NewRecorder()

		service.ListBankAccounts(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(1), response["count"])
	})

	t.Run("invalid provenance filter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/bank-accounts?provenance=bogus", nil)
		w := httptest.NewRecorder()

		service.ListBankAccounts(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBankAccountService_DeleteBankAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBankAccountService(db, NewRecalculatorService(db))
	router := chi.NewRouter()
	router.Delete("/bank-accounts/{bankId}", service.DeleteBankAccount)

	t.Run("account with entries is not deletable", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bank_transactions`).
			WithArgs("b1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		req := httptest.NewRequest("DELETE", "/bank-accounts/b1", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unused account deletes", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bank_transactions`).
			WithArgs("b2").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`DELETE FROM bank_accounts WHERE id = \$1`).
			WithArgs("b2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("DELETE", "/bank-accounts/b2", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBankAccountService_GetBankStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBankAccountService(db, NewRecalculatorService(db))
	router := chi.NewRouter()
	router.Get("/bank-accounts/{bankId}/transactions", service.GetBankStatement)

	t.Run("statement carries running and final totals", func(t *testing.T) {
		mock.ExpectQuery(`FROM bank_accounts WHERE id = \$1`).
			WithArgs("b1").
			WillReturnRows(accountRow("b1", "HDFC", "9912", "manual", "500", "0", "500"))
		mock.ExpectQuery(`WHERE bank_id = \$1 OR to_bank_id = \$1`).
			WithArgs("b1").
			WillReturnRows(storedEntryRow("e1", "b1", "l1", "in", "500", "accepted"))

		req := httptest.NewRequest("GET", "/bank-accounts/b1/transactions", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]interface{})
		totals := data["totals"].(map[string]interface{})
		assert.Equal(t, "500", totals["in"])
		assert.Equal(t, "500", totals["totalAmount"])

		transactions := data["transactions"].([]interface{})
		assert.Len(t, transactions, 1)
		rowTotals := transactions[0].(map[string]interface{})["bankTotals"].(map[string]interface{})
		assert.Equal(t, "500", rowTotals["totalAmount"])
	})
}

func TestBankAccountService_RecalculateBankAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBankAccountService(db, NewRecalculatorService(db))
	router := chi.NewRouter()
	router.Post("/bank-accounts/{bankId}/recalculate", service.RecalculateBankAccount)

	t.Run("reports before and after totals", func(t *testing.T) {
		mock.ExpectQuery(`FROM bank_accounts WHERE id = \$1`).
			WithArgs("b1").
			WillReturnRows(accountRow("b1", "HDFC", "9912", "manual", "0", "0", "0"))
		mock.ExpectQuery(`WHERE bank_id = \$1 OR to_bank_id = \$1`).
			WithArgs("b1").
			WillReturnRows(storedEntryRow("e1", "b1", "l1", "in", "750", "accepted"))
		mock.ExpectExec(`UPDATE bank_accounts`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("POST", "/bank-accounts/b1/recalculate", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]interface{})
		previous := data["previousTotals"].(map[string]interface{})
		fresh := data["newTotals"].(map[string]interface{})
		assert.Equal(t, "0", previous["totalAmount"])
		assert.Equal(t, "750", fresh["totalAmount"])
	})
}

func TestBankAccountService_ProvisionPropertyAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewBankAccountService(db, NewRecalculatorService(db))

	t.Run("creates missing, skips nameless, counts existing", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, property_name FROM properties`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "property_name"}).
				AddRow("p1", "Taj Palace").
				AddRow("p2", nil).
				AddRow("p3", "Leela Kovalam"))

		mock.ExpectQuery(`SELECT id FROM bank_accounts WHERE bank_name = \$1`).
			WithArgs("Taj Palace").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO bank_accounts`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery(`SELECT id FROM bank_accounts WHERE bank_name = \$1`).
			WithArgs("Leela Kovalam").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b7"))

		r := httptest.NewRequest("POST", "/bank-accounts/auto-provision/properties", nil)
		w := httptest.NewRecorder()

		service.ProvisionPropertyAccounts(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())

		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]interface{})
		assert.Len(t, data["created"], 1)
		assert.Equal(t, []interface{}{"p2"}, data["skipped"])
		assert.Equal(t, float64(1), data["existed"])

		created := data["created"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, "property", created["provenance"])
		assert.Equal(t, "p1", created["sourceId"])
	})
}
