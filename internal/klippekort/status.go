package klippekort

import (
	"regexp"
	"strings"

	"ms-klippekort/internal/models"
)

var stampAnnotation = regexp.MustCompile(`(?i)\s*\(\d+\s*klipp( igjen)?\)`)

// Status is the only place a card status is derived. A card is deactivated
// exactly when it has no stamps left.
func Status(stampTotal, stampUsed int) models.CardStatus {
	if Balance(stampTotal, stampUsed) <= 0 {
		return models.CardDeactivated
	}
	return models.CardActive
}

func Balance(stampTotal, stampUsed int) int {
	return stampTotal - stampUsed
}

// DisplayName strips "(N klipp)" and "(N klipp igjen)" annotations from a label.
func DisplayName(name string) string {
	return strings.TrimSpace(stampAnnotation.ReplaceAllString(name, ""))
}

// ItemKey is the key of an order's refundedItems map.
func ItemKey(orderReference, itemName string) string {
	return orderReference + "_" + itemName
}

func NormalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

func isRefunded(order *models.Order, itemKey string) bool {
	if order == nil {
		return false
	}
	return order.FullyRefunded || order.RefundedItems[itemKey] > 0
}
