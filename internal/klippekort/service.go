package klippekort

import (
	"context"
	"time"

	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"
)

// Store persists orders, their punch cards and the redemption log.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order, cards []models.PunchCard) error
	GetOrder(ctx context.Context, orderReference string) (*models.Order, error)
	OrdersByOwner(ctx context.Context, owner string) ([]models.Order, error)
	CardsByOrders(ctx context.Context, orderReferences []string) ([]models.PunchCard, error)
	GetCard(ctx context.Context, orderReference, cardID string) (*models.PunchCard, error)
	CardsBySourceItem(ctx context.Context, orderReference, itemID string) ([]models.PunchCard, error)
	// CommitRedemption writes the card, the order item mirror and the log entry
	// atomically. It fails with ErrVersionConflict when the stored card version
	// is no longer expectedVersion.
	CommitRedemption(ctx context.Context, card models.PunchCard, expectedVersion int64, ticket models.RedemptionTicket) error
	ReplaceMirror(ctx context.Context, item models.OrderItem) error
	// ApplyRefund adds qty to refundedItems[itemKey], or marks the order fully
	// refunded when itemKey is empty.
	ApplyRefund(ctx context.Context, orderReference, itemKey string, qty int) (*models.Order, error)
	Redemptions(ctx context.Context, owner, cardID string) ([]models.RedemptionTicket, error)
	TicketsByOwner(ctx context.Context, owner string) ([]models.RedemptionTicket, error)
	GetTicket(ctx context.Context, ticketID string) (*models.RedemptionTicket, error)
	// ActivateTicket stores the activation unless one exists and returns the stored row.
	ActivateTicket(ctx context.Context, activation models.TicketActivation) (*models.TicketActivation, error)
}

// RedemptionLock serialises redemptions of one card across instances. Keys
// are owner-scoped card ids.
type RedemptionLock interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// ViewCache holds an owner's partitioned cards for a short time. Set stores
// views only if no Invalidate happened since generation was read.
type ViewCache interface {
	Get(ctx context.Context, owner string) (*models.CardViews, bool)
	Generation(ctx context.Context, owner string) uint64
	Set(ctx context.Context, owner string, generation uint64, views *models.CardViews)
	Invalidate(ctx context.Context, owner string)
}

type EventPublisher interface {
	PublishCardsIssued(ctx context.Context, event models.LedgerEvent) error
	PublishRedeemed(ctx context.Context, event models.LedgerEvent) error
	PublishDeactivated(ctx context.Context, event models.LedgerEvent) error
}

type Recorder interface {
	ObserveRedemption(outcome string, stamps int, elapsed time.Duration)
	ObserveIssued(cards int)
}

type Options struct {
	MaxRedeemRetries int
	EnforceExpiry    bool
}

type Ledger struct {
	Store   Store
	Lock    RedemptionLock
	Cache   ViewCache
	Events  EventPublisher
	Metrics Recorder
	Logger  *logger.Logger
	Now     func() time.Time

	maxRetries    int
	enforceExpiry bool
}

func NewLedger(store Store, lock RedemptionLock, cache ViewCache, events EventPublisher, log *logger.Logger, opts Options) *Ledger {
	if opts.MaxRedeemRetries < 1 {
		opts.MaxRedeemRetries = 1
	}
	return &Ledger{
		Store:         store,
		Lock:          lock,
		Cache:         cache,
		Events:        events,
		Logger:        log,
		Now:           time.Now,
		maxRetries:    opts.MaxRedeemRetries,
		enforceExpiry: opts.EnforceExpiry,
	}
}

func (l *Ledger) now() time.Time {
	return l.Now().UTC()
}

func (l *Ledger) invalidate(ctx context.Context, owner string) {
	if l.Cache != nil {
		l.Cache.Invalidate(ctx, owner)
	}
}

func (l *Ledger) observe(outcome string, stamps int, started time.Time) {
	if l.Metrics != nil {
		l.Metrics.ObserveRedemption(outcome, stamps, time.Since(started))
	}
}
