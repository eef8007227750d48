package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestIncreaseStockCreatesAndMerges(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	key := Key{Name: "Vernier Caliper", Make: "Mitutoyo", Range: "0-150mm", Location: "Rack A"}

	tool, err := s.IncreaseStock(ctx, key, 20)
	if err != nil {
		t.Fatalf("IncreaseStock: %v", err)
	}
	if tool.ID != "T00001" {
		t.Fatalf("unexpected code %q", tool.ID)
	}
	if tool.QuantityTotal != 20 || tool.QuantityAvailable != 20 {
		t.Fatalf("unexpected quantities: %+v", tool)
	}

	// Same key merges into the existing record.
	merged, err := s.IncreaseStock(ctx, key, 5)
	if err != nil {
		t.Fatalf("second IncreaseStock: %v", err)
	}
	if merged.ID != tool.ID || merged.QuantityTotal != 25 || merged.QuantityAvailable != 25 {
		t.Fatalf("merge failed: %+v", merged)
	}

	// A different location is a different record.
	other, err := s.IncreaseStock(ctx, Key{Name: "Vernier Caliper", Make: "Mitutoyo", Range: "0-150mm", Location: "Rack B"}, 3)
	if err != nil {
		t.Fatalf("IncreaseStock other location: %v", err)
	}
	if other.ID == tool.ID {
		t.Fatal("distinct key merged into existing record")
	}
	if other.ID != "T00002" {
		t.Fatalf("unexpected second code %q", other.ID)
	}
}

func TestIncreaseStockValidation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	if _, err := s.IncreaseStock(ctx, Key{Name: "x"}, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := s.IncreaseStock(ctx, Key{}, 5); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	tool, _ := s.IncreaseStock(ctx, Key{Name: "Micrometer"}, 10)

	if err := s.Reserve(ctx, tool.ID, 4); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	got, _ := s.Get(ctx, tool.ID)
	if got.QuantityAvailable != 6 || got.QuantityTotal != 10 {
		t.Fatalf("unexpected quantities after reserve: %+v", got)
	}

	if err := s.Reserve(ctx, tool.ID, 7); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if err := s.Release(ctx, tool.ID, 4); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, _ = s.Get(ctx, tool.ID)
	if got.QuantityAvailable != 10 {
		t.Fatalf("release not applied: %+v", got)
	}

	// Release never pushes available above total.
	if err := s.Release(ctx, tool.ID, 99); err != nil {
		t.Fatalf("over-release: %v", err)
	}
	got, _ = s.Get(ctx, tool.ID)
	if got.QuantityAvailable != got.QuantityTotal {
		t.Fatalf("available exceeded total: %+v", got)
	}

	if err := s.Reserve(ctx, "T99999", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentReserveNoOversubscription(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	tool, _ := s.IncreaseStock(ctx, Key{Name: "Height Gauge"}, 5)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Reserve(ctx, tool.ID, 3)
		}()
	}
	wg.Wait()
	close(results)

	var okCount, insufficient int
	for err := range results {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || insufficient != 1 {
		t.Fatalf("expected one winner, got ok=%d insufficient=%d", okCount, insufficient)
	}
	got, _ := s.Get(ctx, tool.ID)
	if got.QuantityAvailable != 2 {
		t.Fatalf("expected 2 available, got %d", got.QuantityAvailable)
	}
}

func TestConcurrentReserveConservation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	tool, _ := s.IncreaseStock(ctx, Key{Name: "Dial Indicator"}, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Reserve(ctx, tool.ID, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 reservations, got %d", succeeded)
	}
	got, _ := s.Get(ctx, tool.ID)
	if got.QuantityAvailable != 0 {
		t.Fatalf("expected 0 available, got %d", got.QuantityAvailable)
	}
}

func TestListAvailable(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	a, _ := s.IncreaseStock(ctx, Key{Name: "Bore Gauge"}, 1)
	if err := s.Reserve(ctx, a.ID, 1); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	_, _ = s.IncreaseStock(ctx, Key{Name: "Caliper"}, 2)

	list, err := s.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Caliper" {
		t.Fatalf("unexpected listing: %+v", list)
	}
}
