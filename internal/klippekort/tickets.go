package klippekort

import (
	"context"
	"fmt"

	"ms-klippekort/internal/models"
)

func (l *Ledger) Redemptions(ctx context.Context, owner, cardID string) ([]models.RedemptionTicket, error) {
	return l.Store.Redemptions(ctx, NormalizeOwner(owner), cardID)
}

func (l *Ledger) Tickets(ctx context.Context, owner string) ([]models.RedemptionTicket, error) {
	return l.Store.TicketsByOwner(ctx, NormalizeOwner(owner))
}

// Ticket returns one of the owner's redemption tickets.
func (l *Ledger) Ticket(ctx context.Context, owner, ticketID string) (*models.RedemptionTicket, error) {
	ticket, err := l.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Owner != NormalizeOwner(owner) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrTicketNotFound)
	}
	return ticket, nil
}

// ActivateTicket starts the countdown of a redemption ticket. Activating an
// already started ticket returns its running countdown.
func (l *Ledger) ActivateTicket(ctx context.Context, owner, ticketID string) (models.Countdown, error) {
	ticket, err := l.Ticket(ctx, owner, ticketID)
	if err != nil {
		return models.Countdown{}, err
	}

	refunded, err := l.TicketRefunded(ctx, ticket)
	if err != nil {
		return models.Countdown{}, err
	}
	if refunded {
		return models.Countdown{}, fmt.Errorf("ticket %s: %w", ticketID, ErrCardRefunded)
	}

	now := l.now()
	activation, err := l.Store.ActivateTicket(ctx, models.TicketActivation{
		TicketID:     ticket.ID,
		Owner:        ticket.Owner,
		StartedAt:    now,
		TotalSeconds: ticket.DurationMinutes * 60,
	})
	if err != nil {
		return models.Countdown{}, fmt.Errorf("failed to activate ticket %s: %w", ticketID, err)
	}

	l.Logger.LogLedger("ACTIVATE", ticketID, fmt.Sprintf("started at %s", activation.StartedAt.Format("15:04:05")))
	return activation.CountdownAt(now), nil
}

// TicketRefunded reports whether the card a ticket was redeemed from has been
// refunded since.
func (l *Ledger) TicketRefunded(ctx context.Context, ticket *models.RedemptionTicket) (bool, error) {
	card, err := l.Store.GetCard(ctx, ticket.OrderReference, ticket.ParentCardID)
	if err != nil {
		return false, fmt.Errorf("failed to load card for ticket %s: %w", ticket.ID, err)
	}
	return l.IsRefunded(ctx, ticket.OrderReference, ItemKey(ticket.OrderReference, card.Name))
}
