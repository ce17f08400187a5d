package stock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"craftline/internal/domain"
)

type balanceKey struct {
	kind     string
	id       string
	location string
}

type hold struct {
	key balanceKey
	qty decimal.Decimal
}

// Memory is an in-process Backend used by tests and single-node
// deployments without an external inventory system.
type Memory struct {
	mu       sync.Mutex
	balances map[balanceKey]decimal.Decimal
	holds    map[string]hold
}

func NewMemory() *Memory {
	return &Memory{
		balances: map[balanceKey]decimal.Decimal{},
		holds:    map[string]hold{},
	}
}

func key(item domain.ItemRef, location string) balanceKey {
	return balanceKey{kind: item.Kind, id: item.ID, location: location}
}

// Set replaces the on-hand balance of an item, for seeding.
func (m *Memory) Set(item domain.ItemRef, qty decimal.Decimal, location string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key(item, location)] = qty
}

func (m *Memory) Available(_ context.Context, item domain.ItemRef, location string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	avail := m.balances[key(item, location)]
	for _, h := range m.holds {
		if h.key == key(item, location) {
			avail = avail.Sub(h.qty)
		}
	}
	return avail, nil
}

func (m *Memory) Reserve(_ context.Context, item domain.ItemRef, qty decimal.Decimal, location, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.holds[ref]; exists {
		return fmt.Errorf("stock: hold %s already exists", ref)
	}
	k := key(item, location)
	avail := m.balances[k]
	for _, h := range m.holds {
		if h.key == k {
			avail = avail.Sub(h.qty)
		}
	}
	if avail.LessThan(qty) {
		return fmt.Errorf("stock: insufficient %s/%s at %q: have %s, want %s", item.Kind, item.ID, location, avail, qty)
	}
	m.holds[ref] = hold{key: k, qty: qty}
	return nil
}

func (m *Memory) Release(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holds, ref)
	return nil
}

func (m *Memory) ConsumeHold(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[ref]
	if !ok {
		return fmt.Errorf("stock: unknown hold %s", ref)
	}
	m.balances[h.key] = m.balances[h.key].Sub(h.qty)
	delete(m.holds, ref)
	return nil
}

func (m *Memory) Consume(_ context.Context, item domain.ItemRef, qty decimal.Decimal, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(item, location)
	m.balances[k] = m.balances[k].Sub(qty)
	return nil
}

func (m *Memory) Receive(_ context.Context, item domain.ItemRef, qty decimal.Decimal, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(item, location)
	m.balances[k] = m.balances[k].Add(qty)
	return nil
}

// HoldCount reports live holds, for tests.
func (m *Memory) HoldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holds)
}
