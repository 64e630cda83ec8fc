package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const cardLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var cardIDPattern = regexp.MustCompile(`^KLK\d{6}[A-Z]{2}$`)

// GenerateCardID mints a punch card code: KLK, six digits, two uppercase letters.
func GenerateCardID() string {
	digits, _ := rand.Int(rand.Reader, big.NewInt(1000000))
	a, _ := rand.Int(rand.Reader, big.NewInt(int64(len(cardLetters))))
	b, _ := rand.Int(rand.Reader, big.NewInt(int64(len(cardLetters))))
	return fmt.Sprintf("KLK%06d%c%c", digits.Int64(), cardLetters[a.Int64()], cardLetters[b.Int64()])
}

func IsCardID(s string) bool {
	return cardIDPattern.MatchString(s)
}

func RedemptionTicketID(cardID string, at time.Time) string {
	return fmt.Sprintf("%s-redeem-%d", cardID, at.UnixNano())
}

func GenerateUUID() string {
	return uuid.NewString()
}
