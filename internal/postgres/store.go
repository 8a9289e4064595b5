package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"square-checkout/internal/model"
	"square-checkout/internal/order"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	insertOrderSQL = `INSERT INTO orders (order_key, status, currency, cart_token, total_minor)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, updated_at`

	selectOrderByKeySQL = `SELECT id, order_key, status, currency, total_minor, billing, shipping, metadata, created_at, updated_at
FROM orders WHERE order_key = $1`

	selectNotesSQL = `SELECT COALESCE(array_agg(note ORDER BY id), '{}') FROM order_notes WHERE order_id = $1`

	updateBillingSQL  = `UPDATE orders SET billing = $2, updated_at = now() WHERE id = $1`
	updateShippingSQL = `UPDATE orders SET shipping = $2, updated_at = now() WHERE id = $1`
	updateStatusSQL   = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
	insertNoteSQL     = `INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`

	updateMetaSQL = `UPDATE orders SET metadata = metadata || jsonb_build_object($2::text, $3::text), updated_at = now() WHERE id = $1`

	applyReconciliationSQL = `UPDATE orders SET
	billing = $2,
	shipping = $3,
	status = $4,
	metadata = CASE WHEN $5::text = '' THEN metadata ELSE metadata || jsonb_build_object('` + order.MetaCheckoutID + `', $5::text) END,
	updated_at = now()
WHERE id = $1`
)

// OrderStore implements order.Store and order.ReconciliationApplier.
type OrderStore struct {
	pool DBPool
}

// NewOrderStore creates a store on pool.
func NewOrderStore(pool DBPool) *OrderStore {
	return &OrderStore{pool: pool}
}

// CreatePending inserts a pending order with a fresh order key.
func (s *OrderStore) CreatePending(ctx context.Context, req order.PendingRequest) (*order.Order, error) {
	o := &order.Order{
		Key:      order.NewKey(),
		Status:   order.StatusPending,
		Metadata: map[string]string{},
	}
	if req.Cart != nil {
		o.Currency = req.Cart.Currency
		o.Total = order.CartTotal(req.Cart)
	}

	var id int64
	err := s.pool.QueryRow(ctx, insertOrderSQL, o.Key, string(o.Status), o.Currency, req.CartToken, o.Total).
		Scan(&id, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	o.ID = strconv.FormatInt(id, 10)
	return o, nil
}

// FindByKey loads an order and its notes.
func (s *OrderStore) FindByKey(ctx context.Context, key string) (*order.Order, error) {
	var (
		id                          int64
		o                           order.Order
		status                      string
		billing, shipping, metadata []byte
	)
	err := s.pool.QueryRow(ctx, selectOrderByKeySQL, key).Scan(
		&id, &o.Key, &status, &o.Currency, &o.Total,
		&billing, &shipping, &metadata, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewOrderNotFoundError(key)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	o.ID = strconv.FormatInt(id, 10)
	o.Status = order.Status(status)
	if err := decodeJSONB(billing, &o.Billing); err != nil {
		return nil, fmt.Errorf("decode billing: %w", err)
	}
	if err := decodeJSONB(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	o.Metadata = map[string]string{}
	if err := decodeJSONB(metadata, &o.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	if err := s.pool.QueryRow(ctx, selectNotesSQL, id).Scan(&o.Notes); err != nil {
		return nil, fmt.Errorf("select notes: %w", err)
	}
	return &o, nil
}

// SetAddress replaces the billing or shipping address.
func (s *OrderStore) SetAddress(ctx context.Context, orderID string, kind order.AddressKind, addr order.Address) error {
	id, err := parseID(orderID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}

	query := updateBillingSQL
	if kind == order.Shipping {
		query = updateShippingSQL
	}
	tag, err := s.pool.Exec(ctx, query, id, data)
	return expectOneRow(tag, err, orderID)
}

// SetStatus updates the status and records note in the same transaction.
func (s *OrderStore) SetStatus(ctx context.Context, orderID string, status order.Status, note string) error {
	id, err := parseID(orderID)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateStatusSQL, id, string(status))
		if err := expectOneRow(tag, err, orderID); err != nil {
			return err
		}
		return insertNote(ctx, tx, id, note)
	})
}

// SetMeta merges one key into the order metadata.
func (s *OrderStore) SetMeta(ctx context.Context, orderID, key, value string) error {
	id, err := parseID(orderID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, updateMetaSQL, id, key, value)
	return expectOneRow(tag, err, orderID)
}

// ApplyReconciliation writes both addresses, the status, the checkout id and
// the note in one transaction. Either all of them land or none do.
func (s *OrderStore) ApplyReconciliation(ctx context.Context, orderID string, rec order.Reconciliation) error {
	id, err := parseID(orderID)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(rec.Billing)
	if err != nil {
		return fmt.Errorf("encode billing: %w", err)
	}
	shipping, err := json.Marshal(rec.Shipping)
	if err != nil {
		return fmt.Errorf("encode shipping: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, applyReconciliationSQL, id, billing, shipping, string(rec.Status), rec.CheckoutID)
		if err := expectOneRow(tag, err, orderID); err != nil {
			return err
		}
		return insertNote(ctx, tx, id, rec.Note)
	})
}

func (s *OrderStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertNote(ctx context.Context, tx pgx.Tx, id int64, note string) error {
	if note == "" {
		return nil
	}
	if _, err := tx.Exec(ctx, insertNoteSQL, id, note); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// expectOneRow maps zero affected rows to an order-not-found error.
func expectOneRow(tag pgconn.CommandTag, err error, orderID string) error {
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewOrderNotFoundError(orderID)
	}
	return nil
}

func parseID(orderID string) (int64, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewOrderNotFoundError(orderID)
	}
	return id, nil
}

func decodeJSONB(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

var (
	_ order.Store                 = (*OrderStore)(nil)
	_ order.ReconciliationApplier = (*OrderStore)(nil)
)
