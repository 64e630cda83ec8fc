package db_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ms-klippekort/internal/klippekort"
	"ms-klippekort/internal/klippekort/db"
	"ms-klippekort/internal/models"
	"ms-klippekort/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	bunDB, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	require.NoError(t, db.CreateSchema(context.Background(), bunDB))

	return db.New(bunDB)
}

func intPtr(v int) *int { return &v }

func seedOrder(t *testing.T, store *db.DB, ref, owner string, purchased time.Time, stamps ...int) []models.PunchCard {
	t.Helper()

	total := 0
	for _, s := range stamps {
		total += s
	}
	order := &models.Order{
		OrderReference: ref,
		Owner:          owner,
		DatePurchased:  purchased,
		RefundedItems:  map[string]int{},
		Items: []models.OrderItem{{
			ID:             ref + "-item",
			OrderReference: ref,
			Name:           "Klippekort 10 (10 klipp)",
			Category:       models.CategoryKlippekort,
			Type:           models.TypeStampCard,
			Quantity:       len(stamps),
			StampTotal:     intPtr(total),
			StampAmounts:   intPtr(total),
			Status:         string(klippekort.Status(total, 0)),
		}},
	}

	cards := make([]models.PunchCard, 0, len(stamps))
	for i, s := range stamps {
		cards = append(cards, models.PunchCard{
			ID:             ref + "-card-" + string(rune('A'+i)),
			OrderReference: ref,
			Owner:          owner,
			SourceItemID:   ref + "-item",
			Name:           "Klippekort 10 (10 klipp)",
			StampTotal:     s,
			StampAmounts:   s,
			Status:         klippekort.Status(s, 0),
			UsedDates:      []time.Time{},
			DatePurchased:  purchased,
			Version:        1,
		})
	}

	require.NoError(t, store.CreateOrder(context.Background(), order, cards))
	return cards
}

func redeemed(card models.PunchCard, stamps int, at time.Time) (models.PunchCard, models.RedemptionTicket) {
	next := card
	next.StampUsed += stamps
	next.StampAmounts = klippekort.Balance(next.StampTotal, next.StampUsed)
	next.Status = klippekort.Status(next.StampTotal, next.StampUsed)
	next.UsedDates = append(append([]time.Time{}, card.UsedDates...), at)
	next.Version = card.Version + 1

	return next, models.RedemptionTicket{
		ID:              card.ID + "-redeem-" + at.Format("150405.000000000"),
		ParentCardID:    card.ID,
		OrderReference:  card.OrderReference,
		Owner:           card.Owner,
		Name:            "Klippekort 10 (1 klipp)",
		UsedStamps:      stamps,
		DurationMinutes: stamps * 60,
		DatePurchased:   at,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10, 5)

	order, err := store.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "kari@example.no", order.Owner)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 15, *order.Items[0].StampTotal)

	cards, err := store.CardsByOrders(ctx, []string{"ORD-1"})
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestCreateOrderTwiceIsRejected(t *testing.T) {
	store := setupTestDB(t)
	seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10)

	err := store.CreateOrder(context.Background(), &models.Order{
		OrderReference: "ORD-1",
		Owner:          "kari@example.no",
		DatePurchased:  time.Now().UTC(),
	}, nil)
	assert.ErrorIs(t, err, klippekort.ErrOrderExists)
}

func TestCreateOrderRemintsCardIDsTheOwnerAlreadyHolds(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	held := seedOrder(t, store, "ORD-1", "kari@example.no", now, 10)

	card := func(ref, owner, id string) models.PunchCard {
		return models.PunchCard{
			ID:             id,
			OrderReference: ref,
			Owner:          owner,
			Name:           "Klippekort 5 (5 klipp)",
			StampTotal:     5,
			StampAmounts:   5,
			Status:         klippekort.Status(5, 0),
			UsedDates:      []time.Time{},
			DatePurchased:  now,
			Version:        1,
		}
	}

	cards := []models.PunchCard{
		card("ORD-2", "kari@example.no", held[0].ID),
		card("ORD-2", "kari@example.no", "KLK123456AB"),
		card("ORD-2", "kari@example.no", "KLK123456AB"),
	}
	require.NoError(t, store.CreateOrder(ctx, &models.Order{
		OrderReference: "ORD-2",
		Owner:          "kari@example.no",
		DatePurchased:  now,
		RefundedItems:  map[string]int{},
	}, cards))

	assert.NotEqual(t, held[0].ID, cards[0].ID)
	assert.True(t, utils.IsCardID(cards[0].ID))
	assert.Equal(t, "KLK123456AB", cards[1].ID)
	assert.NotEqual(t, "KLK123456AB", cards[2].ID)

	stored, err := store.CardsByOrders(ctx, []string{"ORD-1", "ORD-2"})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, c := range stored {
		ids[c.ID] = true
	}
	assert.Len(t, ids, 4)

	// Another owner may hold the same id.
	other := []models.PunchCard{card("ORD-3", "ola@example.no", held[0].ID)}
	require.NoError(t, store.CreateOrder(ctx, &models.Order{
		OrderReference: "ORD-3",
		Owner:          "ola@example.no",
		DatePurchased:  now,
		RefundedItems:  map[string]int{},
	}, other))
	assert.Equal(t, held[0].ID, other[0].ID)
}

func TestGetOrderNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, klippekort.ErrOrderNotFound)
}

func TestOrdersByOwnerSortedByPurchaseDate(t *testing.T) {
	store := setupTestDB(t)
	now := time.Now().UTC()
	seedOrder(t, store, "ORD-B", "kari@example.no", now, 1)
	seedOrder(t, store, "ORD-A", "kari@example.no", now.Add(-time.Hour), 1)
	seedOrder(t, store, "ORD-C", "ola@example.no", now, 1)

	orders, err := store.OrdersByOwner(context.Background(), "kari@example.no")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "ORD-A", orders[0].OrderReference)
	assert.Equal(t, "ORD-B", orders[1].OrderReference)
}

func TestCommitRedemptionUpdatesCardMirrorAndLog(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	cards := seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10, 5)

	next, ticket := redeemed(cards[0], 3, time.Now().UTC())
	require.NoError(t, store.CommitRedemption(ctx, next, cards[0].Version, ticket))

	card, err := store.GetCard(ctx, "ORD-1", cards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, card.StampUsed)
	assert.Equal(t, 7, card.StampAmounts)
	assert.Equal(t, int64(2), card.Version)
	assert.Len(t, card.UsedDates, 1)

	order, err := store.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 3, order.Items[0].StampUsed)
	assert.Equal(t, 12, *order.Items[0].StampAmounts)
	assert.Equal(t, string(models.CardActive), order.Items[0].Status)
	assert.Len(t, order.Items[0].UsedDates, 1)

	log, err := store.Redemptions(ctx, "kari@example.no", cards[0].ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, 3, log[0].UsedStamps)
	assert.Equal(t, 180, log[0].DurationMinutes)
}

func TestCommitRedemptionStaleVersion(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	cards := seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10)

	first, ticket := redeemed(cards[0], 2, time.Now().UTC())
	require.NoError(t, store.CommitRedemption(ctx, first, 1, ticket))

	stale, staleTicket := redeemed(cards[0], 4, time.Now().UTC().Add(time.Second))
	err := store.CommitRedemption(ctx, stale, 1, staleTicket)
	assert.ErrorIs(t, err, klippekort.ErrVersionConflict)

	card, err := store.GetCard(ctx, "ORD-1", cards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, card.StampUsed)

	order, err := store.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 2, order.Items[0].StampUsed)

	log, err := store.Redemptions(ctx, "kari@example.no", cards[0].ID)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestCommitRedemptionRollsBackOnDuplicateTicket(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	cards := seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10)
	at := time.Now().UTC()

	first, ticket := redeemed(cards[0], 1, at)
	require.NoError(t, store.CommitRedemption(ctx, first, 1, ticket))

	second, _ := redeemed(first, 1, at.Add(time.Second))
	err := store.CommitRedemption(ctx, second, 2, ticket)
	require.Error(t, err)

	card, err := store.GetCard(ctx, "ORD-1", cards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, card.StampUsed)
	assert.Equal(t, int64(2), card.Version)

	order, err := store.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 1, order.Items[0].StampUsed)
}

func TestConcurrentCommitsOnlyOneWins(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	cards := seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10)
	base := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, ticket := redeemed(cards[0], 1, base.Add(time.Duration(i)*time.Millisecond))
			errs[i] = store.CommitRedemption(ctx, next, 1, ticket)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, klippekort.ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, wins)

	card, err := store.GetCard(ctx, "ORD-1", cards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, card.StampUsed)
}

func TestApplyRefund(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10)

	order, err := store.ApplyRefund(ctx, "ORD-1", "ORD-1_Klippekort", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, order.RefundedItems["ORD-1_Klippekort"])
	assert.False(t, order.FullyRefunded)

	_, err = store.ApplyRefund(ctx, "ORD-1", "ORD-1_Klippekort", 2)
	require.NoError(t, err)

	order, err = store.ApplyRefund(ctx, "ORD-1", "", 0)
	require.NoError(t, err)
	assert.True(t, order.FullyRefunded)

	stored, err := store.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.True(t, stored.FullyRefunded)
	assert.Equal(t, 3, stored.RefundedItems["ORD-1_Klippekort"])

	_, err = store.ApplyRefund(ctx, "missing", "", 0)
	assert.ErrorIs(t, err, klippekort.ErrOrderNotFound)
}

func TestActivateTicketKeepsFirstActivation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	cards := seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10)
	next, ticket := redeemed(cards[0], 2, time.Now().UTC())
	require.NoError(t, store.CommitRedemption(ctx, next, 1, ticket))

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	first, err := store.ActivateTicket(ctx, models.TicketActivation{
		TicketID: ticket.ID, Owner: ticket.Owner, StartedAt: started, TotalSeconds: 7200,
	})
	require.NoError(t, err)

	second, err := store.ActivateTicket(ctx, models.TicketActivation{
		TicketID: ticket.ID, Owner: ticket.Owner, StartedAt: started.Add(time.Hour), TotalSeconds: 7200,
	})
	require.NoError(t, err)
	assert.True(t, first.StartedAt.Equal(second.StartedAt))
}

func TestGetTicketNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetTicket(context.Background(), "nope")
	assert.ErrorIs(t, err, klippekort.ErrTicketNotFound)
}

func TestReplaceMirror(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	seedOrder(t, store, "ORD-1", "kari@example.no", time.Now().UTC(), 10)

	order, err := store.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	item := order.Items[0]
	item.StampUsed = 4
	item.StampAmounts = intPtr(6)

	require.NoError(t, store.ReplaceMirror(ctx, item))

	order, err = store.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 4, order.Items[0].StampUsed)
	assert.Equal(t, 6, *order.Items[0].StampAmounts)
}
