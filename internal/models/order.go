package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	CategoryKlippekort = "klippekort"
	TypeStampCard      = "stampCardTicket"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderReference string         `bun:"order_reference,pk" json:"orderReference"`
	Owner          string         `bun:"owner,notnull" json:"owner"`
	BuyerName      string         `bun:"buyer_name" json:"buyerName"`
	Email          string         `bun:"email" json:"email"`
	PhoneNumber    string         `bun:"phone_number" json:"phoneNumber"`
	DatePurchased  time.Time      `bun:"date_purchased,notnull" json:"datePurchased"`
	TotalPrice     float64        `bun:"total_price" json:"totalPrice"`
	CaptureStatus  string         `bun:"capture_status" json:"captureStatus"`
	FullyRefunded  bool           `bun:"fully_refunded,notnull,default:false" json:"fullyRefunded"`
	RefundedItems  map[string]int `bun:"refunded_items" json:"refundedItems"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero" json:"updatedAt,omitempty"`

	Items []OrderItem `bun:"-" json:"items"`
}

// OrderItem is one line of an order. For klippekort lines the stamp fields
// mirror the aggregate of every card cut from the line.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID             string      `bun:"id,pk" json:"id"`
	OrderReference string      `bun:"order_reference,notnull" json:"orderReference"`
	ProductID      string      `bun:"product_id" json:"productId"`
	Name           string      `bun:"name,notnull" json:"name"`
	Category       string      `bun:"category" json:"category"`
	Type           string      `bun:"type" json:"type"`
	Quantity       int         `bun:"quantity" json:"quantity"`
	Price          float64     `bun:"price" json:"price"`
	StampsPerUnit  int         `bun:"stamps_per_unit" json:"stampsPerUnit,omitempty"`
	StampTotal     *int        `bun:"stamp_total" json:"stampTotal,omitempty"`
	StampAmounts   *int        `bun:"stamp_amounts" json:"stampAmounts,omitempty"`
	StampUsed      int         `bun:"stamp_used" json:"stampUsed"`
	Status         string      `bun:"status" json:"status,omitempty"`
	UsedDates      []time.Time `bun:"used_dates" json:"usedDates,omitempty"`
	LastDayOfUse   *time.Time  `bun:"last_day_of_use" json:"lastDayOfUse,omitempty"`
	Position       int         `bun:"position" json:"-"`
}

func (i OrderItem) IsKlippekort() bool {
	return i.Category == CategoryKlippekort && i.Type == TypeStampCard
}

// RefundOutcome is what the payment relay reports after a refund went through.
// An empty ItemName or a non-positive RefundQty means the whole order.
type RefundOutcome struct {
	OrderReference string `json:"orderReference"`
	Owner          string `json:"owner,omitempty"`
	ItemName       string `json:"itemName,omitempty"`
	RefundQty      int    `json:"refundQty,omitempty"`
	AmountValue    int64  `json:"amountValue,omitempty"`
}

func (r RefundOutcome) IsFullRefund() bool {
	return r.ItemName == "" || r.RefundQty <= 0
}
