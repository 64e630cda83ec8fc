package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RedemptionTicket is the immutable log entry written by one redemption.
type RedemptionTicket struct {
	bun.BaseModel `bun:"table:redemption_tickets"`

	ID              string    `bun:"id,pk" json:"id"`
	ParentCardID    string    `bun:"parent_card_id,notnull" json:"parentCardId"`
	OrderReference  string    `bun:"order_reference,notnull" json:"orderReference"`
	Owner           string    `bun:"owner,notnull" json:"owner"`
	ProductID       string    `bun:"product_id" json:"productId"`
	Name            string    `bun:"name,notnull" json:"name"`
	UsedStamps      int       `bun:"used_stamps,notnull" json:"usedStamps"`
	DurationMinutes int       `bun:"duration_minutes,notnull" json:"durationMinutes"`
	DatePurchased   time.Time `bun:"date_purchased,notnull" json:"datePurchased"`
}

type TicketActivation struct {
	bun.BaseModel `bun:"table:ticket_activations"`

	TicketID     string    `bun:"ticket_id,pk" json:"ticketId"`
	Owner        string    `bun:"owner,notnull" json:"owner"`
	StartedAt    time.Time `bun:"started_at,notnull" json:"startedAt"`
	TotalSeconds int       `bun:"total_seconds,notnull" json:"totalSeconds"`
}

// Countdown is the activation state of a redemption ticket at a point in time.
type Countdown struct {
	TicketID         string    `json:"ticketId"`
	StartedAt        time.Time `json:"startedAt"`
	TotalSeconds     int       `json:"totalSeconds"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

func (a TicketActivation) CountdownAt(now time.Time) Countdown {
	elapsed := int(now.Sub(a.StartedAt) / time.Second)
	remaining := a.TotalSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	if remaining > a.TotalSeconds {
		remaining = a.TotalSeconds
	}
	return Countdown{
		TicketID:         a.TicketID,
		StartedAt:        a.StartedAt,
		TotalSeconds:     a.TotalSeconds,
		RemainingSeconds: remaining,
	}
}
