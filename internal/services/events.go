package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tripdesk/backoffice/internal/models"
)

// ledgerEventsQueue is the Redis list downstream consumers drain for
// reporting and notification fan-out.
const ledgerEventsQueue = "ledger_events"

// LedgerEvent is the wire shape pushed onto the event queue after every
// entry mutation.
type LedgerEvent struct {
	Type    string    `json:"type"`
	EntryID string    `json:"entryId"`
	BankIDs []string  `json:"bankIds,omitempty"`
	LeadRef string    `json:"leadRef,omitempty"`
	At      time.Time `json:"at"`
}

// publishEvent pushes a mutation event for downstream consumers. Fire and
// forget: a nil client or a push failure never affects the request.
func (ts *TransactionService) publishEvent(eventType string, entry *models.LedgerEntry) {
	if ts.redis == nil {
		return
	}

	event := LedgerEvent{
		Type:    eventType,
		EntryID: entry.ID,
		LeadRef: entry.LeadRef,
		At:      time.Now(),
	}
	if entry.BankID != "" {
		event.BankIDs = append(event.BankIDs, entry.BankID)
	}
	if entry.IsDual && entry.ToBankID != "" {
		event.BankIDs = append(event.BankIDs, entry.ToBankID)
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[EVENTS] Failed to marshal %s event for entry %s: %v", eventType, entry.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ts.redis.RPush(ctx, ledgerEventsQueue, string(data)).Err(); err != nil {
		log.Printf("[EVENTS] Failed to queue %s event for entry %s: %v", eventType, entry.ID, err)
	}
}
