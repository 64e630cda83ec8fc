package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent is the Kafka payload for every punch card lifecycle event.
type LedgerEvent struct {
	EventID        string            `json:"event_id"`
	Type           string            `json:"type"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Owner          string            `json:"owner"`
	OrderReference string            `json:"order_reference"`
	CardID         string            `json:"card_id,omitempty"`
	StampAmounts   int               `json:"stamp_amounts"`
	Status         CardStatus        `json:"status,omitempty"`
	Ticket         *RedemptionTicket `json:"ticket,omitempty"`
	Cards          []PunchCard       `json:"cards,omitempty"`
}

func NewLedgerEvent(eventType, owner, orderReference string) LedgerEvent {
	return LedgerEvent{
		EventID:        uuid.NewString(),
		Type:           eventType,
		OccurredAt:     time.Now().UTC(),
		Owner:          owner,
		OrderReference: orderReference,
	}
}
