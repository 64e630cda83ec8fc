package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-klippekort/internal/klippekort"
	"ms-klippekort/internal/models"
	"ms-klippekort/internal/utils"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// forUpdate locks the selected rows where the dialect supports it.
func forUpdate(db bun.IDB, q *bun.SelectQuery) *bun.SelectQuery {
	if db.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}

func (d *DB) CreateOrder(ctx context.Context, order *models.Order, cards []models.PunchCard) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Order)(nil)).
			Where("order_reference = ?", order.OrderReference).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("order %s: %w", order.OrderReference, klippekort.ErrOrderExists)
		}

		if err := remintCollidingCards(ctx, tx, order.Owner, cards); err != nil {
			return err
		}

		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(order.Items) > 0 {
			if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
				return fmt.Errorf("insert order items: %w", err)
			}
		}
		if len(cards) > 0 {
			if _, err := tx.NewInsert().Model(&cards).Exec(ctx); err != nil {
				return fmt.Errorf("insert punch cards: %w", err)
			}
		}
		return nil
	})
}

// remintCollidingCards gives a fresh id to every card whose id the owner
// already holds on another order or that repeats within the batch. Cards
// are updated in place.
func remintCollidingCards(ctx context.Context, tx bun.Tx, owner string, cards []models.PunchCard) error {
	if len(cards) == 0 {
		return nil
	}
	var held []string
	err := tx.NewSelect().
		Model((*models.PunchCard)(nil)).
		Column("id").
		Where("owner = ?", owner).
		Scan(ctx, &held)
	if err != nil {
		return fmt.Errorf("load card ids of %s: %w", owner, err)
	}

	taken := make(map[string]struct{}, len(held)+len(cards))
	for _, id := range held {
		taken[id] = struct{}{}
	}
	for i := range cards {
		if _, dup := taken[cards[i].ID]; dup || cards[i].ID == "" {
			for {
				id := utils.GenerateCardID()
				if _, dup := taken[id]; !dup {
					cards[i].ID = id
					break
				}
			}
		}
		taken[cards[i].ID] = struct{}{}
	}
	return nil
}

func (d *DB) GetOrder(ctx context.Context, orderReference string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_reference = ?", orderReference).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderReference, klippekort.ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = d.Bun.NewSelect().
		Model(&order.Items).
		Where("order_reference = ?", orderReference).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) OrdersByOwner(ctx context.Context, owner string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("owner = ?", owner).
		Order("date_purchased ASC", "order_reference ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *DB) CardsByOrders(ctx context.Context, orderReferences []string) ([]models.PunchCard, error) {
	var cards []models.PunchCard
	if len(orderReferences) == 0 {
		return cards, nil
	}
	err := d.Bun.NewSelect().
		Model(&cards).
		Where("order_reference IN (?)", bun.In(orderReferences)).
		Order("date_purchased ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (d *DB) GetCard(ctx context.Context, orderReference, cardID string) (*models.PunchCard, error) {
	var card models.PunchCard
	err := d.Bun.NewSelect().
		Model(&card).
		Where("id = ?", cardID).
		Where("order_reference = ?", orderReference).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s in order %s: %w", cardID, orderReference, klippekort.ErrCardNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (d *DB) CardsBySourceItem(ctx context.Context, orderReference, itemID string) ([]models.PunchCard, error) {
	var cards []models.PunchCard
	err := d.Bun.NewSelect().
		Model(&cards).
		Where("order_reference = ?", orderReference).
		Where("source_item_id = ?", itemID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return cards, nil
}

func (d *DB) CommitRedemption(ctx context.Context, card models.PunchCard, expectedVersion int64, ticket models.RedemptionTicket) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(&card).
			Column("stamp_used", "stamp_amounts", "status", "used_dates", "version").
			Where("id = ?", card.ID).
			Where("order_reference = ?", card.OrderReference).
			Where("version = ?", expectedVersion).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update punch card: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("card %s at version %d: %w", card.ID, expectedVersion, klippekort.ErrVersionConflict)
		}

		if err := applyMirrorDelta(ctx, tx, card, ticket.UsedStamps, ticket.DatePurchased); err != nil {
			return fmt.Errorf("update order item mirror: %w", err)
		}

		if _, err := tx.NewInsert().Model(&ticket).Exec(ctx); err != nil {
			return fmt.Errorf("insert redemption ticket: %w", err)
		}
		return nil
	})
}

// applyMirrorDelta adds a redemption to the aggregate stamp fields of the
// order item the card was cut from. Orders without a mirror row are skipped.
func applyMirrorDelta(ctx context.Context, tx bun.Tx, card models.PunchCard, stamps int, at time.Time) error {
	var item models.OrderItem
	q := tx.NewSelect().
		Model(&item).
		Where("id = ?", card.SourceItemID).
		Where("order_reference = ?", card.OrderReference).
		Limit(1)
	err := forUpdate(tx, q).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	total := 0
	if item.StampTotal != nil {
		total = *item.StampTotal
	}
	item.StampUsed += stamps
	amounts := klippekort.Balance(total, item.StampUsed)
	item.StampAmounts = &amounts
	item.Status = string(klippekort.Status(total, item.StampUsed))
	item.UsedDates = append(item.UsedDates, at)

	_, err = tx.NewUpdate().
		Model(&item).
		Column("stamp_used", "stamp_amounts", "status", "used_dates").
		WherePK().
		Exec(ctx)
	return err
}

func (d *DB) ReplaceMirror(ctx context.Context, item models.OrderItem) error {
	_, err := d.Bun.NewUpdate().
		Model(&item).
		Column("stamp_total", "stamp_used", "stamp_amounts", "status", "used_dates").
		WherePK().
		Exec(ctx)
	return err
}

func (d *DB) ApplyRefund(ctx context.Context, orderReference, itemKey string, qty int) (*models.Order, error) {
	var order models.Order
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().
			Model(&order).
			Where("order_reference = ?", orderReference).
			Limit(1)
		err := forUpdate(tx, q).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", orderReference, klippekort.ErrOrderNotFound)
		}
		if err != nil {
			return err
		}

		if order.RefundedItems == nil {
			order.RefundedItems = map[string]int{}
		}
		if itemKey == "" {
			order.FullyRefunded = true
		} else {
			order.RefundedItems[itemKey] += qty
		}
		order.UpdatedAt = time.Now().UTC()

		_, err = tx.NewUpdate().
			Model(&order).
			Column("fully_refunded", "refunded_items", "updated_at").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) Redemptions(ctx context.Context, owner, cardID string) ([]models.RedemptionTicket, error) {
	tickets := []models.RedemptionTicket{}
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("owner = ?", owner).
		Where("parent_card_id = ?", cardID).
		Order("date_purchased ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) TicketsByOwner(ctx context.Context, owner string) ([]models.RedemptionTicket, error) {
	tickets := []models.RedemptionTicket{}
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("owner = ?", owner).
		Order("date_purchased DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) GetTicket(ctx context.Context, ticketID string) (*models.RedemptionTicket, error) {
	var ticket models.RedemptionTicket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, klippekort.ErrTicketNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) ActivateTicket(ctx context.Context, activation models.TicketActivation) (*models.TicketActivation, error) {
	_, err := d.Bun.NewInsert().
		Model(&activation).
		On("CONFLICT (ticket_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	var stored models.TicketActivation
	err = d.Bun.NewSelect().
		Model(&stored).
		Where("ticket_id = ?", activation.TicketID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Ping is used by the health endpoint.
func (d *DB) Ping(ctx context.Context) error {
	return d.Bun.PingContext(ctx)
}
