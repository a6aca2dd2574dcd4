package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/identity"
	"github.com/joao-fontenele/honey-marketplace/internal/payment"
)

const (
	sellerOne = "5e11e400-0000-4000-8000-000000000001"
	sellerTwo = "5e11e400-0000-4000-8000-000000000002"

	manukaProduct     = "0d0c7a00-0000-4000-8000-000000000001"
	manukaVariant     = "0d0c7a00-0000-4000-8000-0000000000a1"
	leatherwoodProd   = "0d0c7a00-0000-4000-8000-000000000002"
	leatherwoodVar    = "0d0c7a00-0000-4000-8000-0000000000a2"
	unknownVariantID  = "0d0c7a00-0000-4000-8000-0000000000ff"
	unknownProductID  = "0d0c7a00-0000-4000-8000-0000000000fe"
	testBuyerID       = "buyer-1"
	testSessionID     = "cs_test_abc"
	testRedirectURL   = "https://checkout.stripe.test/pay/cs_test_abc"
	testProviderError = "stripe: api error"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func catalogFixture() map[string]domain.CatalogEntry {
	return map[string]domain.CatalogEntry{
		manukaVariant: {
			ProductID: manukaProduct, VariantID: manukaVariant, ProducerID: sellerOne,
			ProductTitle: "Manuka Honey", VariantSize: "500g", Price: dec("10.00"), Stock: 5, BatchID: "batch-m1",
		},
		leatherwoodVar: {
			ProductID: leatherwoodProd, VariantID: leatherwoodVar, ProducerID: sellerTwo,
			ProductTitle: "Leatherwood Honey", VariantSize: "250g", Price: dec("25.00"), Stock: 3,
		},
	}
}

type fakeCatalog struct {
	entries map[string]domain.CatalogEntry
	err     error
	lookups [][]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{entries: catalogFixture()}
}

func (c *fakeCatalog) LookupVariants(_ context.Context, ids []string) (map[string]domain.CatalogEntry, error) {
	c.lookups = append(c.lookups, ids)
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]domain.CatalogEntry)
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// memoryStore keeps orders in memory and decrements stock on create the way
// the Postgres store does.
type memoryStore struct {
	mu      sync.Mutex
	stock   map[string]int
	orders  map[string]*domain.Order
	nextID  int
	deleted []string

	createErr error
	updateErr error
	deleteErr error
}

func newMemoryStore() *memoryStore {
	stock := make(map[string]int)
	for id, e := range catalogFixture() {
		stock[id] = e.Stock
	}
	return &memoryStore{stock: stock, orders: make(map[string]*domain.Order)}
}

func (s *memoryStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}

	remaining := make(map[string]int, len(s.stock))
	for k, v := range s.stock {
		remaining[k] = v
	}
	for _, so := range order.SubOrders {
		for _, item := range so.Items {
			if remaining[item.VariantID] < item.Quantity {
				return fmt.Errorf("%w: variant %s", domain.ErrStockRaceLost, item.VariantID)
			}
			remaining[item.VariantID] -= item.Quantity
		}
	}
	s.stock = remaining

	s.nextID++
	order.ID = fmt.Sprintf("order-%d", s.nextID)
	for i := range order.SubOrders {
		order.SubOrders[i].ID = fmt.Sprintf("%s-sub-%d", order.ID, i)
		order.SubOrders[i].OrderID = order.ID
	}
	order.Payment.OrderID = order.ID
	s.orders[order.ID] = order
	return nil
}

func (s *memoryStore) UpdatePaymentSessionID(ctx context.Context, orderID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}
	o, ok := s.orders[orderID]
	if !ok {
		return errors.New("not found")
	}
	o.Payment.SessionID = sessionID
	return nil
}

func (s *memoryStore) DeleteOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, orderID)
	o, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	for _, so := range o.SubOrders {
		for _, item := range so.Items {
			s.stock[item.VariantID] += item.Quantity
		}
	}
	delete(s.orders, orderID)
	return nil
}

func (s *memoryStore) GetPaymentBySession(_ context.Context, sessionID string) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.Payment.SessionID == sessionID {
			p := *o.Payment
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) placeholderPayments() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, o := range s.orders {
		if strings.HasPrefix(o.Payment.SessionID, domain.PendingSessionPrefix) {
			n++
		}
	}
	return n
}

type fakeUsers struct {
	err     error
	ensured []string
}

func (u *fakeUsers) EnsureUser(_ context.Context, id, _ string) error {
	u.ensured = append(u.ensured, id)
	return u.err
}

type fakeBroker struct {
	err      error
	requests []payment.SessionRequest
	// before runs ahead of returning, with access to the request.
	before func(req payment.SessionRequest)
}

func (b *fakeBroker) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	b.requests = append(b.requests, req)
	if b.before != nil {
		b.before(req)
	}
	if b.err != nil {
		return nil, b.err
	}
	return &payment.Session{ID: testSessionID, URL: testRedirectURL}, nil
}

func testSettings() Settings {
	return Settings{
		PlatformFeeRate: dec("0.10"),
		Shipping:        ShippingPolicy{FlatFee: dec("12.00")},
		Currency:        "aud",
		SuccessURL:      "https://honey.example/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:       "https://honey.example/cart",
	}
}

type harness struct {
	catalog    *fakeCatalog
	store      *memoryStore
	users      *fakeUsers
	broker     *fakeBroker
	controller *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		catalog: newFakeCatalog(),
		store:   newMemoryStore(),
		users:   &fakeUsers{},
		broker:  &fakeBroker{},
	}

	c, err := NewController(h.catalog, h.store, h.users, h.broker, testSettings(), discardLogger())
	require.NoError(t, err)
	h.controller = c

	return h
}

func testBuyer() identity.User {
	return identity.User{ID: testBuyerID, Email: "buyer@example.com"}
}

func validRequest(items ...domain.CartLine) Request {
	return Request{
		Items: items,
		CustomerInfo: domain.CustomerInfo{
			Email: "buyer@example.com",
			Phone: "0412 345 678",
		},
		ShippingAddress: AddressInput{
			FirstName: "Ada",
			LastName:  "Apiarist",
			Address:   "12 Hive Lane",
			Suburb:    "Fitzroy",
			State:     "vic",
			Postcode:  "3065",
		},
	}
}

func manuka(qty int) domain.CartLine {
	return domain.CartLine{ProductID: manukaProduct, VariantID: manukaVariant, Quantity: qty}
}

func leatherwood(qty int) domain.CartLine {
	return domain.CartLine{ProductID: leatherwoodProd, VariantID: leatherwoodVar, Quantity: qty}
}
