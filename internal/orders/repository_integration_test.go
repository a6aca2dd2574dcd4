//go:build integration

package orders

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/testutil"
)

type fixture struct {
	db          *sql.DB
	repo        *OrderRepository
	sellerA     string
	sellerB     string
	leatherwood testutil.Variant
	manuka      testutil.Variant
}

func setup(ctx context.Context, t *testing.T) *fixture {
	t.Helper()

	pg := testutil.SetupPostgres(ctx, t)
	t.Cleanup(pg.Cleanup)

	f := &fixture{db: pg.DB, repo: NewOrderRepository(pg.DB), sellerA: "seller-a", sellerB: "seller-b"}
	producerA := testutil.SeedProducer(ctx, t, pg.DB, f.sellerA, "Hill Apiary")
	producerB := testutil.SeedProducer(ctx, t, pg.DB, f.sellerB, "Coast Bees")
	f.leatherwood = testutil.SeedVariant(ctx, t, pg.DB, producerA, "Leatherwood", "500g", "20.00", 5)
	f.manuka = testutil.SeedVariant(ctx, t, pg.DB, producerB, "Manuka", "250g", "30.00", 2)
	testutil.SeedUser(ctx, t, pg.DB, "buyer-1", "buyer@example.com")
	return f
}

func lineItem(v testutil.Variant, title string, qty int, price string) domain.OrderLineItem {
	unit := decimal.RequireFromString(price)
	return domain.OrderLineItem{
		ProductID:    v.ProductID,
		VariantID:    v.VariantID,
		ProductTitle: title,
		VariantSize:  "500g",
		Quantity:     qty,
		UnitPrice:    unit,
		GST:          unit.Mul(decimal.RequireFromString("0.10")).Round(2),
		Provenance:   domain.ProvenanceSnapshot{BatchID: v.BatchID},
	}
}

func (f *fixture) newOrder(leatherwoodQty, manukaQty int) *domain.Order {
	return &domain.Order{
		BuyerID:  "buyer-1",
		Customer: domain.CustomerInfo{Email: "buyer@example.com", Phone: "+61412345678"},
		ShippingAddress: domain.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Street: "1 Hive St",
			Suburb: "Hobart", State: "TAS", Postcode: "7000", Country: "AU",
		},
		SubOrders: []domain.SubOrder{
			{
				ProducerID:   f.leatherwood.ProducerID,
				Status:       domain.SubOrderStatusPending,
				Subtotal:     decimal.NewFromInt(int64(20 * leatherwoodQty)),
				ShippingCost: decimal.NewFromInt(5),
				PlatformFee:  decimal.NewFromInt(int64(2 * leatherwoodQty)),
				Items:        []domain.OrderLineItem{lineItem(f.leatherwood, "Leatherwood", leatherwoodQty, "20.00")},
			},
			{
				ProducerID:   f.manuka.ProducerID,
				Status:       domain.SubOrderStatusPending,
				Subtotal:     decimal.NewFromInt(int64(30 * manukaQty)),
				ShippingCost: decimal.NewFromInt(5),
				PlatformFee:  decimal.NewFromInt(int64(3 * manukaQty)),
				Items:        []domain.OrderLineItem{lineItem(f.manuka, "Manuka", manukaQty, "30.00")},
			},
		},
		Payment: &domain.PaymentRecord{
			SessionID: domain.PendingSessionPrefix + uuid.New().String(),
			Nonce:     uuid.New().String(),
			Amount:    decimal.NewFromInt(int64(20*leatherwoodQty + 30*manukaQty + 10)),
			Currency:  "aud",
			Status:    domain.PaymentStatusPending,
		},
	}
}

func TestCreateOrder_PersistsGraphAndTakesStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(2, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, order))
	require.NotEmpty(t, order.ID)

	assert.Equal(t, 3, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))
	assert.Equal(t, 1, testutil.Stock(ctx, t, f.db, f.manuka.VariantID))

	got, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.Len(t, got.SubOrders, 2)
	assert.Equal(t, f.leatherwood.ProducerID, got.SubOrders[0].ProducerID)
	assert.Equal(t, f.manuka.ProducerID, got.SubOrders[1].ProducerID)
	require.Len(t, got.SubOrders[0].Items, 1)
	assert.Equal(t, 2, got.SubOrders[0].Items[0].Quantity)
	assert.Equal(t, f.leatherwood.BatchID, got.SubOrders[0].Items[0].Provenance.BatchID)
	assert.Equal(t, "2", got.SubOrders[0].Items[0].GST.String())

	require.NotNil(t, got.Payment)
	assert.True(t, got.Payment.HasPlaceholderSession())
	assert.True(t, got.Total().Equal(got.Payment.Amount))
	assert.Equal(t, "TAS", got.ShippingAddress.State)
}

func TestCreateOrder_StockRaceRollsBackEverything(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	err := f.repo.CreateOrder(ctx, f.newOrder(1, 3))
	require.ErrorIs(t, err, domain.ErrStockRaceLost)

	assert.Equal(t, 5, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))
	assert.Equal(t, 2, testutil.Stock(ctx, t, f.db, f.manuka.VariantID))

	orders, err := f.repo.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestUpdatePaymentSessionID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(1, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, order))

	require.NoError(t, f.repo.UpdatePaymentSessionID(ctx, order.ID, "cs_test_123"))

	p, err := f.repo.GetPaymentBySession(ctx, "cs_test_123")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, order.ID, p.OrderID)
	assert.False(t, p.HasPlaceholderSession())

	byNonce, err := f.repo.GetPaymentByNonce(ctx, order.Payment.Nonce)
	require.NoError(t, err)
	require.NotNil(t, byNonce)
	assert.Equal(t, p.ID, byNonce.ID)

	err = f.repo.UpdatePaymentSessionID(ctx, uuid.New().String(), "cs_test_456")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOrder_RestoresStockAndIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(2, 2)
	require.NoError(t, f.repo.CreateOrder(ctx, order))
	assert.Equal(t, 0, testutil.Stock(ctx, t, f.db, f.manuka.VariantID))

	require.NoError(t, f.repo.DeleteOrder(ctx, order.ID))
	require.NoError(t, f.repo.DeleteOrder(ctx, order.ID))

	assert.Equal(t, 5, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))
	assert.Equal(t, 2, testutil.Stock(ctx, t, f.db, f.manuka.VariantID))

	got, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	p, err := f.repo.GetPaymentByNonce(ctx, order.Payment.Nonce)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestConfirmPayment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(1, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, order))

	changed, err := f.repo.ConfirmPayment(ctx, order.ID, "cs_paid")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.repo.ConfirmPayment(ctx, order.ID, "cs_paid")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, got.Payment.Status)
	assert.Equal(t, "cs_paid", got.Payment.SessionID)
	for _, so := range got.SubOrders {
		assert.Equal(t, domain.SubOrderStatusConfirmed, so.Status)
	}
}

func TestExpirePayment_CancelsAndReleasesStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(3, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, order))
	assert.Equal(t, 2, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))

	changed, err := f.repo.ExpirePayment(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.repo.ExpirePayment(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, 5, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))
	assert.Equal(t, 2, testutil.Stock(ctx, t, f.db, f.manuka.VariantID))

	got, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, got.Payment.Status)
	for _, so := range got.SubOrders {
		assert.Equal(t, domain.SubOrderStatusCancelled, so.Status)
	}
}

func TestUpdateSubOrderStatus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(1, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, order))
	_, err := f.repo.ConfirmPayment(ctx, order.ID, "cs_paid")
	require.NoError(t, err)

	subOrderID := order.SubOrders[0].ID

	_, err = f.repo.UpdateSubOrderStatus(ctx, subOrderID, f.sellerB, domain.SubOrderStatusProcessing)
	assert.ErrorIs(t, err, ErrNotFound, "another seller cannot move the sub-order")

	so, err := f.repo.UpdateSubOrderStatus(ctx, subOrderID, f.sellerA, domain.SubOrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.SubOrderStatusProcessing, so.Status)

	_, err = f.repo.UpdateSubOrderStatus(ctx, subOrderID, f.sellerA, domain.SubOrderStatusDelivered)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	var transitionErr *domain.TransitionError
	assert.ErrorAs(t, err, &transitionErr)

	_, err = f.repo.UpdateSubOrderStatus(ctx, "not-a-uuid", f.sellerA, domain.SubOrderStatusPacked)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSubOrderStatus_PendingWaitsForPayment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(1, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, order))
	subOrderID := order.SubOrders[0].ID

	for _, next := range []domain.SubOrderStatus{domain.SubOrderStatusConfirmed, domain.SubOrderStatusCancelled} {
		_, err := f.repo.UpdateSubOrderStatus(ctx, subOrderID, f.sellerA, next)
		assert.ErrorIs(t, err, ErrInvalidTransition, next)
	}
	assert.Equal(t, 4, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))

	expired, err := f.repo.ExpirePayment(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, expired)

	got, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubOrderStatusCancelled, got.SubOrders[0].Status)
	assert.Equal(t, 5, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))
}

func TestUpdateSubOrderStatus_CancelReturnsUnshippedStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	order := f.newOrder(2, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, order))
	_, err := f.repo.ConfirmPayment(ctx, order.ID, "cs_paid")
	require.NoError(t, err)

	so, err := f.repo.UpdateSubOrderStatus(ctx, order.SubOrders[0].ID, f.sellerA, domain.SubOrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.SubOrderStatusCancelled, so.Status)
	assert.Equal(t, 5, testutil.Stock(ctx, t, f.db, f.leatherwood.VariantID))
	assert.Equal(t, 1, testutil.Stock(ctx, t, f.db, f.manuka.VariantID), "other seller's stock untouched")

	manuka := order.SubOrders[1].ID
	for _, next := range []domain.SubOrderStatus{
		domain.SubOrderStatusProcessing,
		domain.SubOrderStatusPacked,
		domain.SubOrderStatusShipped,
		domain.SubOrderStatusRefunded,
	} {
		_, err := f.repo.UpdateSubOrderStatus(ctx, manuka, f.sellerB, next)
		require.NoError(t, err, next)
	}
	assert.Equal(t, 1, testutil.Stock(ctx, t, f.db, f.manuka.VariantID), "shipped goods are not restocked")
}

func TestListByBuyer_NewestFirst(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	f := setup(ctx, t)

	first := f.newOrder(1, 1)
	first.CreatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, f.repo.CreateOrder(ctx, first))
	second := f.newOrder(1, 1)
	require.NoError(t, f.repo.CreateOrder(ctx, second))

	orders, err := f.repo.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
	for _, o := range orders {
		assert.Len(t, o.SubOrders, 2)
		assert.NotNil(t, o.Payment)
	}

	none, err := f.repo.ListByBuyer(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, none)
}
