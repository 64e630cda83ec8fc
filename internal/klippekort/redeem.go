package klippekort

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-klippekort/internal/models"
	"ms-klippekort/internal/utils"
)

// Redeem converts stamps from one of the owner's active cards into a
// redemption ticket worth stamps hours of access.
func (l *Ledger) Redeem(ctx context.Context, owner, cardID string, stamps int) (*models.RedemptionTicket, error) {
	started := time.Now()
	owner = NormalizeOwner(owner)

	if stamps < 1 {
		l.observe("invalid", stamps, started)
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStampCount, stamps)
	}

	if l.Lock != nil {
		key := lockKey(owner, cardID)
		token, ok, err := l.Lock.Acquire(ctx, key)
		if err != nil {
			l.observe("error", stamps, started)
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if !ok {
			l.observe("locked", stamps, started)
			return nil, fmt.Errorf("card %s: %w", cardID, ErrRedemptionInProgress)
		}
		defer func() {
			if err := l.Lock.Release(context.Background(), key, token); err != nil {
				l.Logger.Warn("LEDGER", fmt.Sprintf("Failed to release lock for %s: %v", cardID, err))
			}
		}()
	}

	var (
		ticket *models.RedemptionTicket
		card   *models.PunchCard
		err    error
	)
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		ticket, card, err = l.tryRedeem(ctx, owner, cardID, stamps)
		if !errors.Is(err, ErrVersionConflict) {
			break
		}
		l.Logger.Warn("LEDGER", fmt.Sprintf("Version conflict on %s (attempt %d/%d)", cardID, attempt, l.maxRetries))
	}
	if err != nil {
		l.observe(outcomeOf(err), stamps, started)
		return nil, err
	}

	l.invalidate(ctx, owner)
	l.observe("ok", stamps, started)
	l.Logger.LogLedger("REDEEM", cardID, fmt.Sprintf("%d stamps redeemed by %s, %d left", stamps, owner, card.StampAmounts))

	l.publishRedemption(ctx, card, ticket)
	return ticket, nil
}

// lockKey scopes the redemption lock to the owner, so requests naming another
// owner's card never contend with that owner.
func lockKey(owner, cardID string) string {
	return owner + ":" + cardID
}

func (l *Ledger) tryRedeem(ctx context.Context, owner, cardID string, stamps int) (*models.RedemptionTicket, *models.PunchCard, error) {
	views, err := l.loadViews(ctx, owner)
	if err != nil {
		return nil, nil, err
	}

	view, ok := findCard(views.Active, cardID)
	if !ok {
		if _, archived := findCard(views.Archive, cardID); archived {
			return nil, nil, fmt.Errorf("card %s has no stamps left: %w", cardID, ErrInsufficientBalance)
		}
		return nil, nil, fmt.Errorf("card %s for %s: %w", cardID, owner, ErrCardNotFound)
	}

	if view.Refunded {
		return nil, nil, fmt.Errorf("card %s: %w", cardID, ErrCardRefunded)
	}

	now := l.now()
	if l.enforceExpiry && view.LastDayOfUse != nil && now.After(utils.EndOfDay(*view.LastDayOfUse)) {
		return nil, nil, fmt.Errorf("card %s expired %s: %w", cardID, view.LastDayOfUse.Format("2006-01-02"), ErrCardExpired)
	}

	if stamps > view.StampAmounts {
		return nil, nil, fmt.Errorf("card %s has %d stamps, requested %d: %w", cardID, view.StampAmounts, stamps, ErrInsufficientBalance)
	}

	next := view.PunchCard
	next.StampUsed = view.StampUsed + stamps
	next.StampAmounts = Balance(next.StampTotal, next.StampUsed)
	next.Status = Status(next.StampTotal, next.StampUsed)
	next.UsedDates = append(append([]time.Time{}, view.UsedDates...), now)
	next.Version = view.Version + 1

	ticket := models.RedemptionTicket{
		ID:              utils.RedemptionTicketID(cardID, now),
		ParentCardID:    cardID,
		OrderReference:  view.OrderReference,
		Owner:           owner,
		ProductID:       view.ProductID,
		Name:            fmt.Sprintf("%s (%d klipp)", view.DisplayName, stamps),
		UsedStamps:      stamps,
		DurationMinutes: stamps * 60,
		DatePurchased:   now,
	}

	if err := l.Store.CommitRedemption(ctx, next, view.Version, ticket); err != nil {
		return nil, nil, fmt.Errorf("failed to commit redemption on %s: %w", cardID, err)
	}

	return &ticket, &next, nil
}

func (l *Ledger) publishRedemption(ctx context.Context, card *models.PunchCard, ticket *models.RedemptionTicket) {
	if l.Events == nil {
		return
	}

	event := models.NewLedgerEvent("klippekort.redeemed", card.Owner, card.OrderReference)
	event.CardID = card.ID
	event.StampAmounts = card.StampAmounts
	event.Status = card.Status
	event.Ticket = ticket
	if err := l.Events.PublishRedeemed(ctx, event); err != nil {
		l.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish redemption %s: %v", ticket.ID, err))
	}

	if card.Status == models.CardDeactivated {
		event := models.NewLedgerEvent("klippekort.deactivated", card.Owner, card.OrderReference)
		event.CardID = card.ID
		event.Status = card.Status
		if err := l.Events.PublishDeactivated(ctx, event); err != nil {
			l.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish deactivation of %s: %v", card.ID, err))
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, ErrCardNotFound):
		return "not_found"
	case errors.Is(err, ErrCardRefunded):
		return "refunded"
	case errors.Is(err, ErrCardExpired):
		return "expired"
	case errors.Is(err, ErrVersionConflict):
		return "conflict"
	default:
		return "error"
	}
}
