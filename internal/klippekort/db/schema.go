package db

import (
	"context"
	"fmt"

	"ms-klippekort/internal/models"

	"github.com/uptrace/bun"
)

var tables = []interface{}{
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.PunchCard)(nil),
	(*models.RedemptionTicket)(nil),
	(*models.TicketActivation)(nil),
}

// CreateSchema creates the ledger tables from the bun models. Production
// schemas are managed by the SQL migrations; this is for tests and local runs.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*models.Order)(nil), "idx_orders_owner", []string{"owner", "date_purchased"}},
		{(*models.PunchCard)(nil), "idx_punch_cards_source_item", []string{"order_reference", "source_item_id"}},
		{(*models.RedemptionTicket)(nil), "idx_redemption_tickets_card", []string{"owner", "parent_card_id"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
