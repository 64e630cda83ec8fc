package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ms-klippekort/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidCode = errors.New("invalid ticket code")

// Payload is what a scanner recovers from a redemption ticket QR code.
type Payload struct {
	TicketID        string    `json:"ticketId"`
	CardID          string    `json:"cardId"`
	OrderReference  string    `json:"orderReference"`
	Owner           string    `json:"owner"`
	UsedStamps      int       `json:"usedStamps"`
	DurationMinutes int       `json:"durationMinutes"`
	IssuedAt        time.Time `json:"issuedAt"`
}

type QRGenerator struct {
	aead cipher.AEAD
	size int
}

func NewQRGenerator(secret string, size int) (*QRGenerator, error) {
	hashed := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	return &QRGenerator{aead: aead, size: size}, nil
}

func PayloadOf(ticket models.RedemptionTicket) Payload {
	return Payload{
		TicketID:        ticket.ID,
		CardID:          ticket.ParentCardID,
		OrderReference:  ticket.OrderReference,
		Owner:           ticket.Owner,
		UsedStamps:      ticket.UsedStamps,
		DurationMinutes: ticket.DurationMinutes,
		IssuedAt:        ticket.DatePurchased,
	}
}

// Encrypt seals the ticket payload and returns it base64url encoded.
func (q *QRGenerator) Encrypt(ticket models.RedemptionTicket) (string, error) {
	data, err := json.Marshal(PayloadOf(ticket))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := q.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (q *QRGenerator) GenerateEncryptedQR(ticket models.RedemptionTicket) ([]byte, error) {
	encrypted, err := q.Encrypt(ticket)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, q.size)
}

func (q *QRGenerator) Decrypt(code string) (*Payload, error) {
	sealed, err := base64.URLEncoding.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if len(sealed) < q.aead.NonceSize() {
		return nil, ErrInvalidCode
	}

	nonce, ciphertext := sealed[:q.aead.NonceSize()], sealed[q.aead.NonceSize():]
	data, err := q.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return &payload, nil
}
