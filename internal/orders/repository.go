package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder writes the order, its sub-orders, line items and payment record
// in one transaction, decrementing variant stock for every line. IDs are
// assigned here; the payment session id and nonce must already be set.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	if len(order.SubOrders) == 0 {
		return errors.New("order has no sub-orders")
	}
	if order.Payment == nil {
		return errors.New("order has no payment record")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	addr := order.ShippingAddress
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, customer_email, customer_phone,
			ship_first_name, ship_last_name, ship_street, ship_suburb, ship_state, ship_postcode, ship_country,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, order.ID, order.BuyerID, order.Customer.Email, order.Customer.Phone,
		addr.FirstName, addr.LastName, addr.Street, addr.Suburb, addr.State, addr.Postcode, addr.Country,
		order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.SubOrders {
		so := &order.SubOrders[i]
		so.ID = uuid.New().String()
		so.OrderID = order.ID
		so.CreatedAt = order.CreatedAt
		so.UpdatedAt = order.CreatedAt

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sub_orders (id, order_id, producer_id, position, status, subtotal, shipping_cost, platform_fee, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		`, so.ID, so.OrderID, so.ProducerID, i, so.Status, so.Subtotal, so.ShippingCost, so.PlatformFee, so.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert sub-order: %w", err)
		}

		for j := range so.Items {
			item := &so.Items[j]
			item.ID = uuid.New().String()
			item.SubOrderID = so.ID

			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_line_items (id, sub_order_id, position, product_id, variant_id, product_title, variant_size,
					quantity, unit_price, gst, batch_id, batch_region, harvest_date, floral_sources)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			`, item.ID, item.SubOrderID, j, item.ProductID, item.VariantID, item.ProductTitle, item.VariantSize,
				item.Quantity, item.UnitPrice, item.GST, item.Provenance.BatchID, item.Provenance.Region,
				item.Provenance.HarvestDate, pq.Array(nonNil(item.Provenance.FloralSources)))
			if err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}

			if err := decrementStock(ctx, tx, item.VariantID, item.Quantity); err != nil {
				return err
			}
		}
	}

	p := order.Payment
	p.ID = uuid.New().String()
	p.OrderID = order.ID
	p.CreatedAt = order.CreatedAt
	p.UpdatedAt = order.CreatedAt
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, session_id, nonce, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, p.ID, p.OrderID, p.SessionID, p.Nonce, p.Amount, p.Currency, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	return tx.Commit()
}

func decrementStock(ctx context.Context, q queryer, variantID string, quantity int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, variantID, quantity)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: variant %s", domain.ErrStockRaceLost, variantID)
	}

	return nil
}

// restoreStock gives back the stock held by line items of the given
// sub-orders.
func restoreStock(ctx context.Context, q queryer, subOrderIDs []string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE product_variants v
		SET stock = v.stock + held.quantity
		FROM (
			SELECT variant_id, SUM(quantity) AS quantity
			FROM order_line_items
			WHERE sub_order_id = ANY($1::uuid[])
			GROUP BY variant_id
		) held
		WHERE v.id = held.variant_id
	`, pq.Array(subOrderIDs))
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	return nil
}

// UpdatePaymentSessionID replaces the payment's session id with the provider's
// real one.
func (r *OrderRepository) UpdatePaymentSessionID(ctx context.Context, orderID, sessionID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET session_id = $2, updated_at = NOW()
		WHERE order_id = $1
	`, orderID, sessionID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteOrder removes the order with all of its children and returns the
// stock its line items held. Deleting an absent order is not an error.
func (r *OrderRepository) DeleteOrder(ctx context.Context, orderID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	subOrderIDs, err := subOrderIDsForUpdate(ctx, tx, orderID, "")
	if err != nil {
		return err
	}

	if len(subOrderIDs) > 0 {
		if err := restoreStock(ctx, tx, subOrderIDs); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	return tx.Commit()
}

// subOrderIDsForUpdate locks the order's sub-orders, optionally restricted
// to one status.
func subOrderIDsForUpdate(ctx context.Context, q queryer, orderID string, status domain.SubOrderStatus) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM sub_orders
		WHERE order_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY position
		FOR UPDATE
	`, orderID, string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	orders, err := r.queryOrders(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return nil, nil
	}

	return &orders[0], nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return r.queryOrders(ctx, `WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

func (r *OrderRepository) queryOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, buyer_id, customer_email, customer_phone,
			ship_first_name, ship_last_name, ship_street, ship_suburb, ship_state, ship_postcode, ship_country,
			created_at, updated_at
		FROM orders
	`+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var o domain.Order
		a := &o.ShippingAddress
		if err := rows.Scan(&o.ID, &o.BuyerID, &o.Customer.Email, &o.Customer.Phone,
			&a.FirstName, &a.LastName, &a.Street, &a.Suburb, &a.State, &a.Postcode, &a.Country,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.SubOrders = []domain.SubOrder{}
		orderMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadSubOrders(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	if err := r.loadPayments(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

const subOrderColumns = `id, order_id, producer_id, status, subtotal, shipping_cost, platform_fee, created_at, updated_at`

func scanSubOrder(rows interface{ Scan(...any) error }, so *domain.SubOrder) error {
	return rows.Scan(&so.ID, &so.OrderID, &so.ProducerID, &so.Status, &so.Subtotal, &so.ShippingCost,
		&so.PlatformFee, &so.CreatedAt, &so.UpdatedAt)
}

func (r *OrderRepository) loadSubOrders(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subOrderColumns+`
		FROM sub_orders
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var subOrders []domain.SubOrder
	for rows.Next() {
		var so domain.SubOrder
		if err := scanSubOrder(rows, &so); err != nil {
			return err
		}
		so.Items = []domain.OrderLineItem{}
		subOrders = append(subOrders, so)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	if err := r.loadLineItems(ctx, subOrders); err != nil {
		return err
	}

	for _, so := range subOrders {
		order := orderMap[so.OrderID]
		order.SubOrders = append(order.SubOrders, so)
	}

	return nil
}

func (r *OrderRepository) loadLineItems(ctx context.Context, subOrders []domain.SubOrder) error {
	if len(subOrders) == 0 {
		return nil
	}

	index := make(map[string]int, len(subOrders))
	ids := make([]string, len(subOrders))
	for i, so := range subOrders {
		index[so.ID] = i
		ids[i] = so.ID
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sub_order_id, product_id, variant_id, product_title, variant_size, quantity, unit_price, gst,
			batch_id, batch_region, harvest_date, floral_sources
		FROM order_line_items
		WHERE sub_order_id = ANY($1::uuid[])
		ORDER BY sub_order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderLineItem
		pv := &item.Provenance
		if err := rows.Scan(&item.ID, &item.SubOrderID, &item.ProductID, &item.VariantID, &item.ProductTitle,
			&item.VariantSize, &item.Quantity, &item.UnitPrice, &item.GST,
			&pv.BatchID, &pv.Region, &pv.HarvestDate, pq.Array(&pv.FloralSources)); err != nil {
			return err
		}
		so := &subOrders[index[item.SubOrderID]]
		so.Items = append(so.Items, item)
	}

	return rows.Err()
}

const paymentColumns = `id, order_id, session_id, nonce, amount, currency, status, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }, p *domain.PaymentRecord) error {
	return row.Scan(&p.ID, &p.OrderID, &p.SessionID, &p.Nonce, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
}

func (r *OrderRepository) loadPayments(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = ANY($1::uuid[])
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p domain.PaymentRecord
		if err := scanPayment(rows, &p); err != nil {
			return err
		}
		orderMap[p.OrderID].Payment = &p
	}

	return rows.Err()
}

func (r *OrderRepository) GetPaymentBySession(ctx context.Context, sessionID string) (*domain.PaymentRecord, error) {
	return r.getPayment(ctx, `session_id = $1`, sessionID)
}

func (r *OrderRepository) GetPaymentByNonce(ctx context.Context, nonce string) (*domain.PaymentRecord, error) {
	return r.getPayment(ctx, `nonce = $1`, nonce)
}

func (r *OrderRepository) getPayment(ctx context.Context, where string, arg string) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg), &p)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ConfirmPayment marks the order's payment as paid under the provider's
// session id and moves pending sub-orders to confirmed. It reports false if
// the payment was not pending.
func (r *OrderRepository) ConfirmPayment(ctx context.Context, orderID, sessionID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE payments SET session_id = $2, status = $3, updated_at = NOW()
		WHERE order_id = $1 AND status = $4
	`, orderID, sessionID, domain.PaymentStatusPaid, domain.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sub_orders SET status = $2, updated_at = NOW()
		WHERE order_id = $1 AND status = $3
	`, orderID, domain.SubOrderStatusConfirmed, domain.SubOrderStatusPending); err != nil {
		return false, fmt.Errorf("confirm sub-orders: %w", err)
	}

	return true, tx.Commit()
}

// ExpirePayment marks a pending payment as expired, cancels the order's
// pending sub-orders and releases their stock. It reports false if the
// payment was not pending.
func (r *OrderRepository) ExpirePayment(ctx context.Context, orderID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = $2, updated_at = NOW()
		WHERE order_id = $1 AND status = $3
	`, orderID, domain.PaymentStatusExpired, domain.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	pending, err := subOrderIDsForUpdate(ctx, tx, orderID, domain.SubOrderStatusPending)
	if err != nil {
		return false, err
	}

	if len(pending) > 0 {
		if err := restoreStock(ctx, tx, pending); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sub_orders SET status = $2, updated_at = NOW()
			WHERE id = ANY($1::uuid[])
		`, pq.Array(pending), domain.SubOrderStatusCancelled); err != nil {
			return false, fmt.Errorf("cancel sub-orders: %w", err)
		}
	}

	return true, tx.Commit()
}

// UpdateSubOrderStatus applies a seller-requested status transition to a
// sub-order belonging to the producer owned by sellerUserID. Pending
// sub-orders are only moved by payment confirmation or expiry. Cancelling or
// refunding a sub-order that has not shipped returns its stock. It returns
// ErrNotFound if no such sub-order exists and ErrInvalidTransition, wrapping
// the *domain.TransitionError, if the move is not allowed.
func (r *OrderRepository) UpdateSubOrderStatus(ctx context.Context, id, sellerUserID string, next domain.SubOrderStatus) (*domain.SubOrder, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var so domain.SubOrder
	err = scanSubOrder(tx.QueryRowContext(ctx, `
		SELECT `+subOrderColumns+` FROM sub_orders
		WHERE id = $1 AND producer_id = (SELECT id FROM producers WHERE user_id = $2)
		FOR UPDATE
	`, id, sellerUserID), &so)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := so.Status.SellerTransitionTo(next); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}

	if next.ReleasesStock() && so.Status.HoldsStock() {
		if err := restoreStock(ctx, tx, []string{id}); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE sub_orders SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, id, next).Scan(&so.UpdatedAt)
	if err != nil {
		return nil, err
	}
	so.Status = next

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &so, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
