package utils

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCardID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := GenerateCardID()
		assert.True(t, IsCardID(id), id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestIsCardID(t *testing.T) {
	assert.True(t, IsCardID("KLK012345AZ"))
	assert.False(t, IsCardID("KLK12345AZ"))
	assert.False(t, IsCardID("KLK012345az"))
	assert.False(t, IsCardID("ABC012345AZ"))
}

func TestRedemptionTicketID(t *testing.T) {
	at := time.Unix(0, 1700000000123456789)
	assert.Equal(t, "KLK000001AA-redeem-1700000000123456789", RedemptionTicketID("KLK000001AA", at))
}

func TestEndOfDay(t *testing.T) {
	at := time.Date(2024, 3, 10, 13, 45, 0, 0, time.UTC)
	end := EndOfDay(at)
	assert.Equal(t, time.Date(2024, 3, 10, 23, 59, 59, 999999999, time.UTC), end)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 409, ErrorResponse("redeem failed", "insufficient balance"))

	assert.Equal(t, 409, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), `"success":false`))
	assert.True(t, strings.Contains(rec.Body.String(), `"error":"insufficient balance"`))
}
