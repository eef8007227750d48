package workflow

import (
	"context"

	"toolcrib.org/internal/auth"
)

// Notifier receives fire-and-forget notices after successful transitions.
// Implementations must never fail the transition that triggered them.
type Notifier interface {
	Notify(ctx context.Context, userID string, role auth.Role, title, body string)
}

// UsageFilter narrows usage-request listings.
type UsageFilter struct {
	Status     Status
	OperatorID string
}

// Engine drives the two request state machines and orchestrates the
// inventory ledger at the correct transition points. Stock mutation and the
// matching status flip always commit as one atomic unit.
type Engine interface {
	// SubmitAddition creates a PENDING addition request.
	SubmitAddition(ctx context.Context, tool ToolDescriptor, qty int, supervisorID string) (AdditionRequest, error)
	// ApproveAddition increases stock and flips PENDING to APPROVED in one
	// atomic unit.
	ApproveAddition(ctx context.Context, requestID, officerID string) (AdditionRequest, error)
	// RejectAddition flips PENDING to REJECTED with remarks.
	RejectAddition(ctx context.Context, requestID, officerID, remarks string) (AdditionRequest, error)
	// ListAdditions returns addition requests, optionally filtered by
	// status, newest first.
	ListAdditions(ctx context.Context, status Status) ([]AdditionRequest, error)

	// SubmitUsage creates a PENDING usage request. The availability check
	// here is advisory only; the authoritative check is the atomic reserve
	// at approval time.
	SubmitUsage(ctx context.Context, toolID string, qty int, operatorID string) (UsageRequest, error)
	// ApproveUsage reserves stock and flips PENDING to APPROVED in one
	// atomic unit. On insufficient stock the request stays PENDING so the
	// approval can be retried once stock frees up.
	ApproveUsage(ctx context.Context, requestID, supervisorID string) (UsageRequest, error)
	// RejectUsage flips PENDING to REJECTED with remarks.
	RejectUsage(ctx context.Context, requestID, supervisorID, remarks string) (UsageRequest, error)
	// MarkReceived flips APPROVED to RECEIVED; only the requesting operator
	// may call it.
	MarkReceived(ctx context.Context, requestID, operatorID string) (UsageRequest, error)
	// ReturnTool releases stock and flips RECEIVED to RETURNED in one
	// atomic unit; only the requesting operator may call it.
	ReturnTool(ctx context.Context, requestID, operatorID string) (UsageRequest, error)
	// ListUsage returns usage requests matching the filter, newest first.
	ListUsage(ctx context.Context, f UsageFilter) ([]UsageRequest, error)
}
