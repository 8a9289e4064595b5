package order

import (
	"context"
	"strconv"
	"sync"
	"time"

	"square-checkout/internal/model"
)

// MemoryStore keeps orders in process memory.
// Writes are sequential; it does not implement ReconciliationApplier so the
// reconciler's non-transactional path can be exercised against it.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int
	orders map[string]*Order // by ID
	byKey  map[string]string // key → ID
	now    func() time.Time

	// FailOn makes the named operation ("SetAddress", "SetStatus", "SetMeta")
	// return the given error. Used to exercise partial failures.
	FailOn map[string]error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1000,
		orders: make(map[string]*Order),
		byKey:  make(map[string]string),
		now:    time.Now,
	}
}

// CreatePending creates an order in pending status with a fresh order key.
func (s *MemoryStore) CreatePending(ctx context.Context, req PendingRequest) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()
	o := &Order{
		ID:        strconv.Itoa(s.nextID),
		Key:       NewKey(),
		Status:    StatusPending,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Cart != nil {
		o.Currency = req.Cart.Currency
		o.Total = CartTotal(req.Cart)
	}
	s.orders[o.ID] = o
	s.byKey[o.Key] = o.ID
	return clone(o), nil
}

// FindByKey looks up an order by its key.
func (s *MemoryStore) FindByKey(ctx context.Context, key string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, model.NewOrderNotFoundError(key)
	}
	return clone(s.orders[id]), nil
}

// Get returns an order by ID. Test helper.
func (s *MemoryStore) Get(id string) (*Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return clone(o), true
}

// SetAddress replaces the billing or shipping address.
func (s *MemoryStore) SetAddress(ctx context.Context, orderID string, kind AddressKind, addr Address) error {
	return s.mutate("SetAddress", orderID, func(o *Order) {
		if kind == Shipping {
			o.Shipping = addr
		} else {
			o.Billing = addr
		}
	})
}

// SetStatus transitions the order and appends note when non-empty.
func (s *MemoryStore) SetStatus(ctx context.Context, orderID string, status Status, note string) error {
	return s.mutate("SetStatus", orderID, func(o *Order) {
		o.Status = status
		if note != "" {
			o.Notes = append(o.Notes, note)
		}
	})
}

// SetMeta writes a metadata entry.
func (s *MemoryStore) SetMeta(ctx context.Context, orderID, key, value string) error {
	return s.mutate("SetMeta", orderID, func(o *Order) {
		if o.Metadata == nil {
			o.Metadata = map[string]string{}
		}
		o.Metadata[key] = value
	})
}

func (s *MemoryStore) mutate(op, orderID string, fn func(o *Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailOn[op]; err != nil {
		return err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return model.NewOrderNotFoundError(orderID)
	}
	fn(o)
	o.UpdatedAt = s.now().UTC()
	return nil
}

func clone(o *Order) *Order {
	cp := *o
	cp.Metadata = make(map[string]string, len(o.Metadata))
	for k, v := range o.Metadata {
		cp.Metadata[k] = v
	}
	cp.Notes = append([]string(nil), o.Notes...)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
