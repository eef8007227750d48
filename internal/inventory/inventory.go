package inventory

import (
	"context"
	"errors"
	"time"
)

// Tool is a physical inventory record. The two quantity fields are mutated
// only by the Ledger operations below; invariant:
// 0 <= QuantityAvailable <= QuantityTotal at all times.
type Tool struct {
	ID                string    `json:"id"` // generated code, e.g. "T00007"
	Name              string    `json:"name"`
	Make              string    `json:"make"`
	Range             string    `json:"range"`
	Location          string    `json:"location"`
	QuantityTotal     int       `json:"quantity_total"`
	QuantityAvailable int       `json:"quantity_available"`
	CreatedAt         time.Time `json:"created_at"`
}

// Key identifies a tool line; inventory records are unique on it.
type Key struct {
	Name     string `json:"name"`
	Make     string `json:"make"`
	Range    string `json:"range"`
	Location string `json:"location"`
}

var (
	ErrNotFound          = errors.New("inventory: tool not found")
	ErrInvalidQuantity   = errors.New("inventory: invalid quantity (must be > 0)")
	ErrInvalidKey        = errors.New("inventory: tool name is required")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// CodePrefix prefixes generated tool codes.
const CodePrefix = "T"

// Ledger owns quantity_total/quantity_available for each tool record.
type Ledger interface {
	// IncreaseStock adds qty to an existing record matching key, or creates
	// a new record with both quantities set to qty and a fresh code.
	// Used only on tool-addition approval.
	IncreaseStock(ctx context.Context, key Key, qty int) (Tool, error)
	// Reserve atomically checks quantity_available >= qty and decrements it
	// in the same step, serialized per tool. Two concurrent approvals must
	// never both succeed when their combined quantity exceeds availability.
	Reserve(ctx context.Context, toolID string, qty int) error
	// Release adds qty back to quantity_available, never exceeding
	// quantity_total. Used on tool return.
	Release(ctx context.Context, toolID string, qty int) error
	// Get reads a single record.
	Get(ctx context.Context, toolID string) (Tool, error)
	// ListAvailable returns records with stock on hand, ordered by name.
	ListAvailable(ctx context.Context) ([]Tool, error)
}
