package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"toolcrib.org/internal/ids"
	"toolcrib.org/internal/obs"
)

// InMemory implements Ledger with a single mutex, so the check-and-decrement
// in Reserve is atomic in-process.
type InMemory struct {
	mu    sync.Mutex
	tools map[string]*Tool
	seq   int64
}

var _ Ledger = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{tools: make(map[string]*Tool)}
}

func (s *InMemory) IncreaseStock(ctx context.Context, key Key, qty int) (Tool, error) {
	if qty <= 0 {
		return Tool{}, ErrInvalidQuantity
	}
	if strings.TrimSpace(key.Name) == "" {
		return Tool{}, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tools {
		if t.Name == key.Name && t.Make == key.Make && t.Range == key.Range && t.Location == key.Location {
			t.QuantityTotal += qty
			t.QuantityAvailable += qty
			return *t, nil
		}
	}
	s.seq++
	t := &Tool{
		ID:                ids.Code(CodePrefix, s.seq),
		Name:              key.Name,
		Make:              key.Make,
		Range:             key.Range,
		Location:          key.Location,
		QuantityTotal:     qty,
		QuantityAvailable: qty,
		CreatedAt:         time.Now().UTC(),
	}
	s.tools[t.ID] = t
	return *t, nil
}

func (s *InMemory) Reserve(ctx context.Context, toolID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[toolID]
	if !ok {
		return ErrNotFound
	}
	if t.QuantityAvailable < qty {
		obs.CountReservation("insufficient")
		return ErrInsufficientStock
	}
	t.QuantityAvailable -= qty
	obs.CountReservation("ok")
	return nil
}

func (s *InMemory) Release(ctx context.Context, toolID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[toolID]
	if !ok {
		return ErrNotFound
	}
	t.QuantityAvailable += qty
	if t.QuantityAvailable > t.QuantityTotal {
		t.QuantityAvailable = t.QuantityTotal
	}
	return nil
}

func (s *InMemory) Get(ctx context.Context, toolID string) (Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[toolID]
	if !ok {
		return Tool{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemory) ListAvailable(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		if t.QuantityAvailable > 0 {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
