package klippekort

import (
	"context"
	"fmt"
	"time"

	"ms-klippekort/internal/models"
	"ms-klippekort/internal/utils"
)

// Issue stores a finalised order and mints punch cards for its klippekort
// lines. A line with stampsPerUnit > 0 yields one card per unit; any other
// line yields a single card.
func (l *Ledger) Issue(ctx context.Context, order models.Order) ([]models.PunchCard, error) {
	order.Owner = NormalizeOwner(order.Owner)
	if order.OrderReference == "" || order.Owner == "" {
		return nil, fmt.Errorf("%w: order reference and owner are required", ErrInvalidOrder)
	}
	if order.DatePurchased.IsZero() {
		order.DatePurchased = l.now()
	}
	if order.RefundedItems == nil {
		order.RefundedItems = map[string]int{}
	}

	var cards []models.PunchCard
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderReference = order.OrderReference
		item.Position = i
		if item.ID == "" {
			item.ID = utils.GenerateUUID()
		}
		if !item.IsKlippekort() {
			continue
		}

		minted := mintCards(order, *item)
		total := 0
		for _, c := range minted {
			total += c.StampTotal
		}
		item.StampTotal = &total
		item.StampAmounts = &total
		item.StampUsed = 0
		item.Status = string(Status(total, 0))
		cards = append(cards, minted...)
	}

	if err := l.Store.CreateOrder(ctx, &order, cards); err != nil {
		return nil, fmt.Errorf("failed to issue order %s: %w", order.OrderReference, err)
	}

	l.invalidate(ctx, order.Owner)
	if l.Metrics != nil {
		l.Metrics.ObserveIssued(len(cards))
	}
	l.Logger.LogLedger("ISSUE", order.OrderReference, fmt.Sprintf("%d punch cards issued to %s", len(cards), order.Owner))

	if l.Events != nil && len(cards) > 0 {
		event := models.NewLedgerEvent("klippekort.cards.issued", order.Owner, order.OrderReference)
		event.Cards = cards
		if err := l.Events.PublishCardsIssued(ctx, event); err != nil {
			l.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish issuance of %s: %v", order.OrderReference, err))
		}
	}

	return cards, nil
}

func mintCards(order models.Order, item models.OrderItem) []models.PunchCard {
	count, stamps := 1, item.Quantity
	switch {
	case item.StampsPerUnit > 0:
		count, stamps = item.Quantity, item.StampsPerUnit
	case item.StampAmounts != nil:
		stamps = *item.StampAmounts
	case item.StampTotal != nil:
		stamps = *item.StampTotal
	}
	if stamps < 0 {
		stamps = 0
	}

	cards := make([]models.PunchCard, 0, count)
	for i := 0; i < count; i++ {
		cards = append(cards, models.PunchCard{
			ID:             utils.GenerateCardID(),
			OrderReference: order.OrderReference,
			Owner:          order.Owner,
			ProductID:      item.ProductID,
			SourceItemID:   item.ID,
			Name:           item.Name,
			StampTotal:     stamps,
			StampUsed:      0,
			StampAmounts:   stamps,
			Status:         Status(stamps, 0),
			UsedDates:      []time.Time{},
			LastDayOfUse:   item.LastDayOfUse,
			DatePurchased:  order.DatePurchased,
			Version:        1,
		})
	}
	return cards
}
