package klippekort

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ms-klippekort/internal/models"
)

type MirrorState struct {
	StampTotal   int    `json:"stampTotal"`
	StampUsed    int    `json:"stampUsed"`
	StampAmounts int    `json:"stampAmounts"`
	Status       string `json:"status"`
}

type ReconcileReport struct {
	CardID         string      `json:"cardId"`
	OrderReference string      `json:"orderReference"`
	ItemID         string      `json:"itemId"`
	Before         MirrorState `json:"before"`
	After          MirrorState `json:"after"`
	Repaired       bool        `json:"repaired"`
	CardStampUsed  int         `json:"cardStampUsed"`
	LoggedStamps   int         `json:"loggedStamps"`
	// LogDrift is stampUsed minus the stamps found in the redemption log.
	LogDrift int `json:"logDrift"`
}

// Reconcile rebuilds the order item mirror of a card from the canonical card
// records cut from the same item and reports drift against the redemption log.
func (l *Ledger) Reconcile(ctx context.Context, owner, cardID string) (*ReconcileReport, error) {
	owner = NormalizeOwner(owner)

	views, err := l.loadViews(ctx, owner)
	if err != nil {
		return nil, err
	}
	view, ok := findCard(views.Active, cardID)
	if !ok {
		if view, ok = findCard(views.Archive, cardID); !ok {
			return nil, fmt.Errorf("card %s for %s: %w", cardID, owner, ErrCardNotFound)
		}
	}

	order, err := l.Store.GetOrder(ctx, view.OrderReference)
	if err != nil {
		return nil, err
	}
	var item *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == view.SourceItemID {
			item = &order.Items[i]
			break
		}
	}
	if item == nil {
		return nil, fmt.Errorf("order %s has no item %s for card %s: %w", order.OrderReference, view.SourceItemID, cardID, ErrCardNotFound)
	}

	siblings, err := l.Store.CardsBySourceItem(ctx, view.OrderReference, view.SourceItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cards of item %s: %w", view.SourceItemID, err)
	}

	report := &ReconcileReport{
		CardID:         cardID,
		OrderReference: view.OrderReference,
		ItemID:         item.ID,
		Before:         mirrorOf(*item),
		CardStampUsed:  view.StampUsed,
	}

	total, used := 0, 0
	var dates []time.Time
	for _, c := range siblings {
		total += c.StampTotal
		used += c.StampUsed
		dates = append(dates, c.UsedDates...)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	amounts := Balance(total, used)
	item.StampTotal = &total
	item.StampAmounts = &amounts
	item.StampUsed = used
	item.Status = string(Status(total, used))
	item.UsedDates = dates
	report.After = mirrorOf(*item)

	if report.After != report.Before {
		if err := l.Store.ReplaceMirror(ctx, *item); err != nil {
			return nil, fmt.Errorf("failed to repair mirror of %s: %w", item.ID, err)
		}
		report.Repaired = true
		l.invalidate(ctx, owner)
		l.Logger.Warn("LEDGER", fmt.Sprintf("Mirror of item %s repaired: used %d -> %d",
			item.ID, report.Before.StampUsed, report.After.StampUsed))
	}

	log, err := l.Store.Redemptions(ctx, owner, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load redemption log of %s: %w", cardID, err)
	}
	for _, t := range log {
		report.LoggedStamps += t.UsedStamps
	}
	report.LogDrift = view.StampUsed - report.LoggedStamps
	if report.LogDrift != 0 {
		l.Logger.Warn("LEDGER", fmt.Sprintf("Card %s uses %d stamps but the log holds %d",
			cardID, view.StampUsed, report.LoggedStamps))
	}

	return report, nil
}

func mirrorOf(item models.OrderItem) MirrorState {
	m := MirrorState{StampUsed: item.StampUsed, Status: item.Status}
	if item.StampTotal != nil {
		m.StampTotal = *item.StampTotal
	}
	if item.StampAmounts != nil {
		m.StampAmounts = *item.StampAmounts
	}
	return m
}
