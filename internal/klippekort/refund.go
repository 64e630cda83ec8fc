package klippekort

import (
	"context"
	"fmt"

	"ms-klippekort/internal/models"
)

// IsRefunded reports whether the order is fully refunded or has a refunded
// quantity recorded for itemKey.
func (l *Ledger) IsRefunded(ctx context.Context, orderReference, itemKey string) (bool, error) {
	order, err := l.Store.GetOrder(ctx, orderReference)
	if err != nil {
		return false, err
	}
	return isRefunded(order, itemKey), nil
}

// ApplyRefund records a refund reported by the payment relay. A named item
// with a positive quantity is a partial refund, anything else refunds the
// whole order.
func (l *Ledger) ApplyRefund(ctx context.Context, outcome models.RefundOutcome) (*models.Order, error) {
	if outcome.OrderReference == "" {
		return nil, fmt.Errorf("%w: order reference is required", ErrInvalidOrder)
	}

	key, qty := "", 0
	if !outcome.IsFullRefund() {
		key, qty = ItemKey(outcome.OrderReference, outcome.ItemName), outcome.RefundQty
	}

	order, err := l.Store.ApplyRefund(ctx, outcome.OrderReference, key, qty)
	if err != nil {
		return nil, fmt.Errorf("failed to apply refund to %s: %w", outcome.OrderReference, err)
	}

	l.invalidate(ctx, order.Owner)
	if key == "" {
		l.Logger.LogLedger("REFUND", outcome.OrderReference, "order fully refunded")
	} else {
		l.Logger.LogLedger("REFUND", outcome.OrderReference, fmt.Sprintf("%d x %s refunded", qty, outcome.ItemName))
	}
	return order, nil
}
