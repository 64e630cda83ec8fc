package models

import (
	"time"

	"github.com/uptrace/bun"
)

type CardStatus string

const (
	CardActive      CardStatus = "active"
	CardDeactivated CardStatus = "deactivated"
)

type PunchCard struct {
	bun.BaseModel `bun:"table:punch_cards"`

	ID             string      `bun:"id,pk" json:"id"`
	OrderReference string      `bun:"order_reference,pk" json:"orderReference"`
	Owner          string      `bun:"owner,notnull" json:"owner"`
	ProductID      string      `bun:"product_id" json:"productId"`
	SourceItemID   string      `bun:"source_item_id" json:"sourceItemId"`
	Name           string      `bun:"name,notnull" json:"name"`
	StampTotal     int         `bun:"stamp_total,notnull" json:"stampTotal"`
	StampUsed      int         `bun:"stamp_used,notnull" json:"stampUsed"`
	StampAmounts   int         `bun:"stamp_amounts,notnull" json:"stampAmounts"`
	Status         CardStatus  `bun:"status,notnull" json:"status"`
	UsedDates      []time.Time `bun:"used_dates" json:"usedDates"`
	LastDayOfUse   *time.Time  `bun:"last_day_of_use" json:"lastDayOfUse,omitempty"`
	DatePurchased  time.Time   `bun:"date_purchased,notnull" json:"datePurchased"`
	Version        int64       `bun:"version,notnull" json:"version"`
}

// CardView is a card as presented to its owner.
type CardView struct {
	PunchCard
	DisplayName string `json:"displayName"`
	Refunded    bool   `json:"refunded"`
}

// CardViews is an owner's cards partitioned for display.
type CardViews struct {
	Active  []CardView `json:"active"`
	Archive []CardView `json:"archive"`
}
