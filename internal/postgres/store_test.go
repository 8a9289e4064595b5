package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"square-checkout/internal/cart"
	"square-checkout/internal/model"
	"square-checkout/internal/order"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestOrderStore_CreatePending(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	store := NewOrderStore(mock)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := &cart.Snapshot{
		Lines:         []cart.Line{{Quantity: 2, Subtotal: 20, Total: 18}},
		ShippingTotal: 5,
		Currency:      "USD",
	}

	mock.ExpectQuery(insertOrderSQL).
		WithArgs(pgxmock.AnyArg(), "pending", "USD", "tok-1", int64(2300)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), created, created))

	o, err := store.CreatePending(ctx, order.PendingRequest{Cart: snap, CartToken: "tok-1"})
	require.NoError(t, err)

	assert.Equal(t, "42", o.ID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, int64(2300), o.Total)
	assert.Contains(t, o.Key, "wc_order_")
	assert.Equal(t, created, o.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_FindByKey(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	store := NewOrderStore(mock)

	now := time.Now().UTC()
	billing := order.Address{FirstName: "Ada", City: "New York"}

	mock.ExpectQuery(selectOrderByKeySQL).
		WithArgs("wc_order_abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "order_key", "status", "currency", "total_minor",
			"billing", "shipping", "metadata", "created_at", "updated_at",
		}).AddRow(
			int64(7), "wc_order_abc", "completed", "USD", int64(1000),
			mustJSON(t, billing), []byte(`{}`), []byte(`{"square_checkout_id":"CHK-1"}`), now, now,
		))
	mock.ExpectQuery(selectNotesSQL).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"notes"}).AddRow([]string{"Verified by Square Checkout"}))

	o, err := store.FindByKey(ctx, "wc_order_abc")
	require.NoError(t, err)

	assert.Equal(t, "7", o.ID)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.Equal(t, billing, o.Billing)
	assert.True(t, o.Shipping.IsZero())
	assert.Equal(t, "CHK-1", o.CheckoutID())
	assert.Equal(t, []string{"Verified by Square Checkout"}, o.Notes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_FindByKeyMissing(t *testing.T) {
	mock := newMock(t)
	store := NewOrderStore(mock)

	mock.ExpectQuery(selectOrderByKeySQL).
		WithArgs("wc_order_missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.FindByKey(context.Background(), "wc_order_missing")
	assert.True(t, errors.Is(err, model.ErrOrderNotFound), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_SetAddress(t *testing.T) {
	mock := newMock(t)
	store := NewOrderStore(mock)
	addr := order.Address{FirstName: "Ada"}

	mock.ExpectExec(updateBillingSQL).
		WithArgs(int64(7), mustJSON(t, addr)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(updateShippingSQL).
		WithArgs(int64(7), mustJSON(t, addr)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetAddress(context.Background(), "7", order.Billing, addr))
	require.NoError(t, store.SetAddress(context.Background(), "7", order.Shipping, addr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_SetStatusWithNote(t *testing.T) {
	mock := newMock(t)
	store := NewOrderStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(updateStatusSQL).
		WithArgs(int64(7), "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(insertNoteSQL).
		WithArgs(int64(7), "Verified by Square Checkout").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.SetStatus(context.Background(), "7", order.StatusCompleted, "Verified by Square Checkout")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_SetStatusMissingRollsBack(t *testing.T) {
	mock := newMock(t)
	store := NewOrderStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(updateStatusSQL).
		WithArgs(int64(9), "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.SetStatus(context.Background(), "9", order.StatusCompleted, "note")
	assert.True(t, errors.Is(err, model.ErrOrderNotFound), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_SetMeta(t *testing.T) {
	mock := newMock(t)
	store := NewOrderStore(mock)

	mock.ExpectExec(updateMetaSQL).
		WithArgs(int64(7), order.MetaCheckoutID, "CHK-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetMeta(context.Background(), "7", order.MetaCheckoutID, "CHK-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_InvalidID(t *testing.T) {
	store := NewOrderStore(newMock(t))

	err := store.SetMeta(context.Background(), "not-a-number", "k", "v")
	assert.True(t, errors.Is(err, model.ErrOrderNotFound), "got %v", err)
}

func TestOrderStore_ApplyReconciliation(t *testing.T) {
	addr := order.Address{FirstName: "Ada", LastName: "Lovelace", Country: "US"}
	rec := order.Reconciliation{
		Billing:    addr,
		Shipping:   addr,
		Status:     order.StatusCompleted,
		Note:       "Verified by Square Checkout",
		CheckoutID: "CHK-1",
	}

	t.Run("commits all writes together", func(t *testing.T) {
		mock := newMock(t)
		store := NewOrderStore(mock)

		mock.ExpectBegin()
		mock.ExpectExec(applyReconciliationSQL).
			WithArgs(int64(7), mustJSON(t, addr), mustJSON(t, addr), "completed", "CHK-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(insertNoteSQL).
			WithArgs(int64(7), "Verified by Square Checkout").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, store.ApplyReconciliation(context.Background(), "7", rec))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("note failure rolls back", func(t *testing.T) {
		mock := newMock(t)
		store := NewOrderStore(mock)

		mock.ExpectBegin()
		mock.ExpectExec(applyReconciliationSQL).
			WithArgs(int64(7), mustJSON(t, addr), mustJSON(t, addr), "completed", "CHK-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(insertNoteSQL).
			WithArgs(int64(7), "Verified by Square Checkout").
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := store.ApplyReconciliation(context.Background(), "7", rec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert note")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
