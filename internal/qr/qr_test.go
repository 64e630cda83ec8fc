package qr

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"ms-klippekort/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTicket() models.RedemptionTicket {
	return models.RedemptionTicket{
		ID:              "KLK123456AB-redeem-1717243200000000000",
		ParentCardID:    "KLK123456AB",
		OrderReference:  "ORD-1",
		Owner:           "kari@example.no",
		Name:            "Klippekort (2 klipp)",
		UsedStamps:      2,
		DurationMinutes: 120,
		DatePurchased:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	gen, err := NewQRGenerator("test-secret-key", 256)
	require.NoError(t, err)

	code, err := gen.Encrypt(testTicket())
	require.NoError(t, err)

	payload, err := gen.Decrypt(code)
	require.NoError(t, err)
	assert.Equal(t, "KLK123456AB", payload.CardID)
	assert.Equal(t, 120, payload.DurationMinutes)
	assert.True(t, payload.IssuedAt.Equal(testTicket().DatePurchased))
}

func TestEncryptIsRandomized(t *testing.T) {
	gen, err := NewQRGenerator("test-secret-key", 256)
	require.NoError(t, err)

	a, err := gen.Encrypt(testTicket())
	require.NoError(t, err)
	b, err := gen.Encrypt(testTicket())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsForeignOrTamperedCodes(t *testing.T) {
	gen, err := NewQRGenerator("test-secret-key", 256)
	require.NoError(t, err)
	other, err := NewQRGenerator("another-secret", 256)
	require.NoError(t, err)

	code, err := other.Encrypt(testTicket())
	require.NoError(t, err)

	_, err = gen.Decrypt(code)
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = gen.Decrypt("%%%")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = gen.Decrypt("")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestGenerateEncryptedQRIsPNG(t *testing.T) {
	gen, err := NewQRGenerator("test-secret-key", 256)
	require.NoError(t, err)

	img, err := gen.GenerateEncryptedQR(testTicket())
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, decoded.Bounds().Dx(), 256)
}
