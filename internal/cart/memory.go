package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// MemoryReader serves fixed snapshots keyed by cart token.
// Used by tests and local development without a storefront.
type MemoryReader struct {
	mu    sync.RWMutex
	carts map[string]*Snapshot
	reads int
}

// NewMemoryReader creates an empty reader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{carts: make(map[string]*Snapshot)}
}

// LoadFixtures reads a JSON object of snapshots keyed by cart token:
//
//	{"tok": {"currency": "USD", "lines": [{"product_id": "61", "name": "Mug", "quantity": 1, "subtotal": 10, "total": 10}]}}
func LoadFixtures(path string) (*MemoryReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cart fixtures: %w", err)
	}

	var carts map[string]*Snapshot
	if err := json.Unmarshal(data, &carts); err != nil {
		return nil, fmt.Errorf("parsing cart fixtures: %w", err)
	}

	m := NewMemoryReader()
	for token, s := range carts {
		m.Put(token, s)
	}
	return m, nil
}

// Len returns the number of stored carts.
func (m *MemoryReader) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.carts)
}

// Put stores a snapshot for token, replacing any previous one.
func (m *MemoryReader) Put(token string, s *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[token] = s
}

// Read returns a copy of the stored snapshot, or an empty snapshot when the
// token is unknown.
func (m *MemoryReader) Read(ctx context.Context, token string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	s, ok := m.carts[token]
	if !ok || s == nil {
		return &Snapshot{}, nil
	}

	cp := *s
	cp.Lines = append([]Line(nil), s.Lines...)
	cp.Coupons = append([]Coupon(nil), s.Coupons...)
	return &cp, nil
}

// Reads returns how many times Read was called.
func (m *MemoryReader) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}

var _ Reader = (*MemoryReader)(nil)
