package workflow

import (
	"errors"
	"time"

	"toolcrib.org/internal/inventory"
)

// Status enumerates request lifecycle states. PENDING is the only
// non-terminal state reachable from creation; every transition requires the
// current state to exactly match its precondition or fails without side
// effects.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusReceived Status = "RECEIVED"
	StatusReturned Status = "RETURNED"
	// StatusCancelled is part of the stored enumeration but has no
	// producing transition here; only an administrative path outside this
	// engine could set it.
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether the status belongs to the enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusReceived, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

// Request id prefixes distinguish the two workflows.
const (
	AdditionPrefix = "TAR"
	UsagePrefix    = "TR"
)

// ToolDescriptor names the tool line an addition request proposes.
type ToolDescriptor struct {
	Name     string `json:"name"`
	Make     string `json:"make"`
	Range    string `json:"range"`
	Location string `json:"location"`
}

// Key converts the descriptor to an inventory key.
func (d ToolDescriptor) Key() inventory.Key {
	return inventory.Key{Name: d.Name, Make: d.Make, Range: d.Range, Location: d.Location}
}

// AdditionRequest proposes new stock. Proposed by a supervisor, decided by
// an officer; terminal states APPROVED and REJECTED.
type AdditionRequest struct {
	ID           string         `json:"id"`
	Tool         ToolDescriptor `json:"tool"`
	Quantity     int            `json:"quantity"`
	Status       Status         `json:"status"`
	SupervisorID string         `json:"supervisor_id"`
	RequestedAt  time.Time      `json:"requested_at"`
	ReviewedAt   *time.Time     `json:"reviewed_at,omitempty"`
	ReviewerID   string         `json:"reviewer_id,omitempty"`
	Remarks      string         `json:"remarks,omitempty"`
}

// UsageRequest checks stock out of the crib. Proposed by an operator,
// approved by a supervisor, fulfilled by the same operator; terminal states
// REJECTED and RETURNED.
type UsageRequest struct {
	ID          string     `json:"id"`
	OperatorID  string     `json:"operator_id"`
	ToolID      string     `json:"tool_id"`
	Quantity    int        `json:"quantity"`
	Status      Status     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ApproverID  string     `json:"approver_id,omitempty"`
	Remarks     string     `json:"remarks,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
}

var (
	ErrNotFound         = errors.New("workflow: request not found")
	ErrAlreadyProcessed = errors.New("workflow: request already processed")
	ErrInvalidState     = errors.New("workflow: operation illegal for current status")
	ErrForbidden        = errors.New("workflow: caller does not own this request")
	ErrInvalidQuantity  = errors.New("workflow: invalid quantity (must be > 0)")
	ErrExceedsAvailable = errors.New("workflow: requested quantity exceeds available")
)
