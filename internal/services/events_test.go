package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tripdesk/backoffice/internal/models"
)

func TestTransactionService_PublishEvent(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("queues an event with the involved banks", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		recalc := NewRecalculatorService(db)
		service := NewTransactionService(db, redisClient, recalc, NewLeadService(db, recalc))

		redisMock.Regexp().ExpectRPush(ledgerEventsQueue, `"type":"entry\.created".+"entryId":"e1".+"bankIds":\["b1","b2"\]`).SetVal(1)

		entry := &models.LedgerEntry{
			ID:       "e1",
			BankID:   "b1",
			ToBankID: "b2",
			IsDual:   true,
			LeadRef:  "l1",
			Amount:   decimal.RequireFromString("250"),
		}
		service.publishEvent("entry.created", entry)

		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("nil client is a no-op", func(t *testing.T) {
		recalc := NewRecalculatorService(db)
		service := NewTransactionService(db, nil, recalc, NewLeadService(db, recalc))

		service.publishEvent("entry.deleted", &models.LedgerEntry{ID: "e2"})
	})
}
