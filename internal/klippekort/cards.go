package klippekort

import (
	"context"
	"fmt"

	"ms-klippekort/internal/models"
)

// ListCards returns the owner's cards partitioned into active and archive.
// Orders are scanned oldest first and a card id seen twice keeps its first
// occurrence.
func (l *Ledger) ListCards(ctx context.Context, owner string) (*models.CardViews, error) {
	owner = NormalizeOwner(owner)

	if l.Cache == nil {
		return l.loadViews(ctx, owner)
	}

	if views, ok := l.Cache.Get(ctx, owner); ok {
		return views, nil
	}

	generation := l.Cache.Generation(ctx, owner)
	views, err := l.loadViews(ctx, owner)
	if err != nil {
		return nil, err
	}
	l.Cache.Set(ctx, owner, generation, views)
	return views, nil
}

func (l *Ledger) loadViews(ctx context.Context, owner string) (*models.CardViews, error) {
	orders, err := l.Store.OrdersByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders for %s: %w", owner, err)
	}

	views := &models.CardViews{Active: []models.CardView{}, Archive: []models.CardView{}}
	if len(orders) == 0 {
		return views, nil
	}

	refs := make([]string, 0, len(orders))
	for _, o := range orders {
		refs = append(refs, o.OrderReference)
	}

	cards, err := l.Store.CardsByOrders(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to load punch cards for %s: %w", owner, err)
	}

	byOrder := make(map[string][]models.PunchCard, len(orders))
	for _, c := range cards {
		byOrder[c.OrderReference] = append(byOrder[c.OrderReference], c)
	}

	seen := make(map[string]string)
	for i := range orders {
		order := &orders[i]
		for _, card := range byOrder[order.OrderReference] {
			if first, dup := seen[card.ID]; dup {
				l.Logger.Warn("LEDGER", fmt.Sprintf("Duplicate punch card %s in order %s ignored, first seen in order %s",
					card.ID, order.OrderReference, first))
				continue
			}
			seen[card.ID] = order.OrderReference

			view := l.normalize(card, order)
			if view.Status == models.CardActive && view.StampAmounts > 0 {
				views.Active = append(views.Active, view)
			} else {
				views.Archive = append(views.Archive, view)
			}
		}
	}

	return views, nil
}

func (l *Ledger) normalize(card models.PunchCard, order *models.Order) models.CardView {
	amounts := Balance(card.StampTotal, card.StampUsed)
	status := Status(card.StampTotal, card.StampUsed)
	if card.StampAmounts != amounts || card.Status != status {
		l.Logger.Warn("LEDGER", fmt.Sprintf("Punch card %s stored as %s/%d, derived %s/%d",
			card.ID, card.Status, card.StampAmounts, status, amounts))
		card.StampAmounts = amounts
		card.Status = status
	}

	return models.CardView{
		PunchCard:   card,
		DisplayName: DisplayName(card.Name),
		Refunded:    isRefunded(order, ItemKey(order.OrderReference, card.Name)),
	}
}

func findCard(views []models.CardView, cardID string) (models.CardView, bool) {
	for _, v := range views {
		if v.ID == cardID {
			return v, true
		}
	}
	return models.CardView{}, false
}
