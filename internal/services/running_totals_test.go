package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tripdesk/backoffice/internal/models"
)

func TestAttachRunningTotals(t *testing.T) {
	t.Run("accumulates per bank oldest first", func(t *testing.T) {
		// Newest-first input, matching the listing order.
		entries := []models.LedgerEntry{
			acceptedEntry("b1", models.LegOut, "200"), // newest
			acceptedEntry("b2", models.LegIn, "50"),
			acceptedEntry("b1", models.LegIn, "500"), // oldest
		}

		items := AttachRunningTotals(entries)
		assert.Len(t, items, 3)

		// Oldest b1 entry: running net 500 after applying it.
		assert.True(t, items[2].BankTotals.In.Equal(decimal.RequireFromString("500")))
		assert.True(t, items[2].BankTotals.Net.Equal(decimal.RequireFromString("500")))

		// b2 is independent of b1.
		assert.True(t, items[1].BankTotals.Net.Equal(decimal.RequireFromString("50")))

		// Newest b1 entry: 500 in minus 200 out.
		assert.True(t, items[0].BankTotals.Out.Equal(decimal.RequireFromString("200")))
		assert.True(t, items[0].BankTotals.Net.Equal(decimal.RequireFromString("300")))
	})

	t.Run("dual entry advances both banks", func(t *testing.T) {
		dual := models.LedgerEntry{
			BankID:        "b1",
			ToBankID:      "b2",
			IsDual:        true,
			PaymentType:   models.LegOut,
			ToPaymentType: models.LegIn,
			Amount:        decimal.RequireFromString("250"),
			Acceptance:    models.AcceptanceAccepted,
		}

		items := AttachRunningTotals([]models.LedgerEntry{dual})
		assert.True(t, items[0].BankTotals.Out.Equal(decimal.RequireFromString("250")))
		assert.True(t, items[0].BankTotals.Net.Equal(decimal.RequireFromString("-250")))
		assert.True(t, items[0].ToBankTotals.In.Equal(decimal.RequireFromString("250")))
		assert.True(t, items[0].ToBankTotals.Net.Equal(decimal.RequireFromString("250")))
	})

	t.Run("pending entry leaves the running balance unchanged", func(t *testing.T) {
		pending := acceptedEntry("b1", models.LegIn, "900")
		pending.Acceptance = models.AcceptancePending

		entries := []models.LedgerEntry{
			pending, // newest
			acceptedEntry("b1", models.LegIn, "100"),
		}

		items := AttachRunningTotals(entries)
		assert.True(t, items[0].BankTotals.In.IsZero())
		assert.True(t, items[0].BankTotals.Net.Equal(decimal.RequireFromString("100")))
	})

	t.Run("unbanked entry carries no totals", func(t *testing.T) {
		entry := models.LedgerEntry{
			Amount:     decimal.RequireFromString("10"),
			Acceptance: models.AcceptanceAccepted,
		}
		items := AttachRunningTotals([]models.LedgerEntry{entry})
		assert.Nil(t, items[0].BankTotals)
		assert.Nil(t, items[0].ToBankTotals)
	})
}
