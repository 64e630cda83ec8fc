package klippekort_api

import (
	"time"

	"ms-klippekort/internal/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type RedeemRequest struct {
	Stamps int `json:"stamps"`
}

func (r RedeemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Stamps,
			validation.Required.Error("stamps must be at least 1"),
			validation.Min(1).Error("stamps must be at least 1"),
		),
	)
}

type OrderItemRequest struct {
	ProductID     string     `json:"productId"`
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Type          string     `json:"type"`
	Quantity      int        `json:"quantity"`
	Price         float64    `json:"price"`
	StampsPerUnit int        `json:"stampsPerUnit"`
	StampTotal    *int       `json:"stampTotal"`
	StampAmounts  *int       `json:"stampAmounts"`
	LastDayOfUse  *time.Time `json:"lastDayOfUse"`
}

// Zero is a valid count on every item field: a zero stampTotal issues a
// deactivated card.
func (r OrderItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required.Error("item name is required")),
		validation.Field(&r.Quantity, validation.Min(0)),
		validation.Field(&r.StampsPerUnit, validation.Min(0)),
		validation.Field(&r.StampTotal, validation.Min(0)),
		validation.Field(&r.StampAmounts, validation.Min(0)),
	)
}

// IssueOrderRequest is a finalised order handed over by the checkout flow.
type IssueOrderRequest struct {
	OrderReference string             `json:"orderReference"`
	Owner          string             `json:"owner"`
	BuyerName      string             `json:"buyerName"`
	Email          string             `json:"email"`
	PhoneNumber    string             `json:"phoneNumber"`
	DatePurchased  time.Time          `json:"datePurchased"`
	TotalPrice     float64            `json:"totalPrice"`
	CaptureStatus  string             `json:"captureStatus"`
	Items          []OrderItemRequest `json:"items"`
}

func (r IssueOrderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrderReference, validation.Required.Error("orderReference is required")),
		validation.Field(&r.Owner, validation.Required.Error("owner is required"), is.EmailFormat),
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.Items, validation.Required.Error("at least one item is required")),
	)
}

func (r IssueOrderRequest) Order() models.Order {
	order := models.Order{
		OrderReference: r.OrderReference,
		Owner:          r.Owner,
		BuyerName:      r.BuyerName,
		Email:          r.Email,
		PhoneNumber:    r.PhoneNumber,
		DatePurchased:  r.DatePurchased,
		TotalPrice:     r.TotalPrice,
		CaptureStatus:  r.CaptureStatus,
	}
	for _, it := range r.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:     it.ProductID,
			Name:          it.Name,
			Category:      it.Category,
			Type:          it.Type,
			Quantity:      it.Quantity,
			Price:         it.Price,
			StampsPerUnit: it.StampsPerUnit,
			StampTotal:    it.StampTotal,
			StampAmounts:  it.StampAmounts,
			LastDayOfUse:  it.LastDayOfUse,
		})
	}
	return order
}

type RefundRequest struct {
	ItemName    string `json:"itemName"`
	RefundQty   int    `json:"refundQty"`
	AmountValue int64  `json:"amountValue"`
}

// A zero refundQty refunds the whole order.
func (r RefundRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefundQty, validation.Min(0)),
		validation.Field(&r.AmountValue, validation.Min(int64(0))),
	)
}

type VerifyTicketRequest struct {
	EncryptedQR string `json:"encrypted_qr"`
}

func (r VerifyTicketRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.EncryptedQR, validation.Required.Error("encrypted_qr is required")),
	)
}
