package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/ids"
	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/stream"
)

// InMemory implements Engine with a single mutex. Holding it across the
// status check, the ledger call, and the status flip makes each transition
// atomic in-process; the durable implementation gets the same guarantee from
// store transactions.
type InMemory struct {
	mu        sync.Mutex
	ledger    inventory.Ledger
	notifier  Notifier
	events    *stream.Stream
	now       func() time.Time
	additions map[string]*AdditionRequest
	usages    map[string]*UsageRequest
	addSeq    int64
	useSeq    int64
}

var _ Engine = (*InMemory)(nil)

// Option configures InMemory behavior.
type Option func(*InMemory)

// WithNotifier attaches the fire-and-forget notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *InMemory) { e.notifier = n }
}

// WithEvents attaches the live event stream.
func WithEvents(s *stream.Stream) Option {
	return func(e *InMemory) { e.events = s }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *InMemory) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewInMemory creates an engine over the given ledger.
func NewInMemory(ledger inventory.Ledger, opts ...Option) *InMemory {
	e := &InMemory{
		ledger:    ledger,
		now:       time.Now,
		additions: make(map[string]*AdditionRequest),
		usages:    make(map[string]*UsageRequest),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *InMemory) SubmitAddition(ctx context.Context, tool ToolDescriptor, qty int, supervisorID string) (AdditionRequest, error) {
	if qty <= 0 {
		return AdditionRequest{}, ErrInvalidQuantity
	}
	if tool.Name == "" {
		return AdditionRequest{}, inventory.ErrInvalidKey
	}
	e.mu.Lock()
	e.addSeq++
	req := &AdditionRequest{
		ID:           ids.Code(AdditionPrefix, e.addSeq),
		Tool:         tool,
		Quantity:     qty,
		Status:       StatusPending,
		SupervisorID: supervisorID,
		RequestedAt:  e.now().UTC(),
	}
	e.additions[req.ID] = req
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "addition.submitted", out.ID, "", out.Quantity, supervisorID)
	e.notify(ctx, "", auth.RoleOfficer, "New tool addition request",
		fmt.Sprintf("%s requested %d x %s", supervisorID, out.Quantity, tool.Name))
	return out, nil
}

func (e *InMemory) ApproveAddition(ctx context.Context, requestID, officerID string) (AdditionRequest, error) {
	e.mu.Lock()
	req, ok := e.additions[requestID]
	if !ok {
		e.mu.Unlock()
		return AdditionRequest{}, ErrNotFound
	}
	if req.Status != StatusPending {
		e.mu.Unlock()
		return AdditionRequest{}, ErrAlreadyProcessed
	}
	// Stock increase and status flip commit together: the status is only
	// flipped after the ledger accepted the increase, both under the same
	// engine lock.
	if _, err := e.ledger.IncreaseStock(ctx, req.Tool.Key(), req.Quantity); err != nil {
		e.mu.Unlock()
		return AdditionRequest{}, err
	}
	at := e.now().UTC()
	req.Status = StatusApproved
	req.ReviewedAt = &at
	req.ReviewerID = officerID
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "addition.approved", out.ID, "", out.Quantity, officerID)
	e.notify(ctx, out.SupervisorID, "", "Tool addition approved",
		fmt.Sprintf("%s approved %s", officerID, out.ID))
	return out, nil
}

func (e *InMemory) RejectAddition(ctx context.Context, requestID, officerID, remarks string) (AdditionRequest, error) {
	e.mu.Lock()
	req, ok := e.additions[requestID]
	if !ok {
		e.mu.Unlock()
		return AdditionRequest{}, ErrNotFound
	}
	if req.Status != StatusPending {
		e.mu.Unlock()
		return AdditionRequest{}, ErrAlreadyProcessed
	}
	at := e.now().UTC()
	req.Status = StatusRejected
	req.ReviewedAt = &at
	req.ReviewerID = officerID
	req.Remarks = remarks
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "addition.rejected", out.ID, "", out.Quantity, officerID)
	e.notify(ctx, out.SupervisorID, "", "Tool addition rejected", remarks)
	return out, nil
}

func (e *InMemory) ListAdditions(ctx context.Context, status Status) ([]AdditionRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AdditionRequest, 0, len(e.additions))
	for _, req := range e.additions {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (e *InMemory) SubmitUsage(ctx context.Context, toolID string, qty int, operatorID string) (UsageRequest, error) {
	if qty <= 0 {
		return UsageRequest{}, ErrInvalidQuantity
	}
	tool, err := e.ledger.Get(ctx, toolID)
	if err != nil {
		return UsageRequest{}, err
	}
	// Advisory pre-check only: availability can change between submission
	// and approval, so the authoritative check is the reserve at approval.
	if qty > tool.QuantityAvailable {
		return UsageRequest{}, ErrExceedsAvailable
	}
	e.mu.Lock()
	e.useSeq++
	req := &UsageRequest{
		ID:          ids.Code(UsagePrefix, e.useSeq),
		OperatorID:  operatorID,
		ToolID:      toolID,
		Quantity:    qty,
		Status:      StatusPending,
		RequestedAt: e.now().UTC(),
	}
	e.usages[req.ID] = req
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "usage.submitted", out.ID, toolID, qty, operatorID)
	e.notify(ctx, "", auth.RoleSupervisor, "New tool usage request",
		fmt.Sprintf("%s requested %d x %s", operatorID, qty, tool.Name))
	return out, nil
}

func (e *InMemory) ApproveUsage(ctx context.Context, requestID, supervisorID string) (UsageRequest, error) {
	e.mu.Lock()
	req, ok := e.usages[requestID]
	if !ok {
		e.mu.Unlock()
		return UsageRequest{}, ErrNotFound
	}
	if req.Status != StatusPending {
		e.mu.Unlock()
		return UsageRequest{}, ErrAlreadyProcessed
	}
	// Reservation failure leaves the request PENDING: no auto-reject, the
	// approval can be retried once stock frees up.
	if err := e.ledger.Reserve(ctx, req.ToolID, req.Quantity); err != nil {
		e.mu.Unlock()
		return UsageRequest{}, err
	}
	at := e.now().UTC()
	req.Status = StatusApproved
	req.ReviewedAt = &at
	req.ApproverID = supervisorID
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "usage.approved", out.ID, out.ToolID, out.Quantity, supervisorID)
	e.notify(ctx, out.OperatorID, "", "Tool request approved",
		fmt.Sprintf("%s approved %s", supervisorID, out.ID))
	return out, nil
}

func (e *InMemory) RejectUsage(ctx context.Context, requestID, supervisorID, remarks string) (UsageRequest, error) {
	e.mu.Lock()
	req, ok := e.usages[requestID]
	if !ok {
		e.mu.Unlock()
		return UsageRequest{}, ErrNotFound
	}
	if req.Status != StatusPending {
		e.mu.Unlock()
		return UsageRequest{}, ErrAlreadyProcessed
	}
	at := e.now().UTC()
	req.Status = StatusRejected
	req.ReviewedAt = &at
	req.ApproverID = supervisorID
	req.Remarks = remarks
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "usage.rejected", out.ID, out.ToolID, out.Quantity, supervisorID)
	e.notify(ctx, out.OperatorID, "", "Tool request rejected", remarks)
	return out, nil
}

func (e *InMemory) MarkReceived(ctx context.Context, requestID, operatorID string) (UsageRequest, error) {
	e.mu.Lock()
	req, ok := e.usages[requestID]
	if !ok {
		e.mu.Unlock()
		return UsageRequest{}, ErrNotFound
	}
	if req.OperatorID != operatorID {
		e.mu.Unlock()
		return UsageRequest{}, ErrForbidden
	}
	if req.Status != StatusApproved {
		e.mu.Unlock()
		return UsageRequest{}, ErrInvalidState
	}
	at := e.now().UTC()
	req.Status = StatusReceived
	req.ReceivedAt = &at
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "usage.received", out.ID, out.ToolID, out.Quantity, operatorID)
	return out, nil
}

func (e *InMemory) ReturnTool(ctx context.Context, requestID, operatorID string) (UsageRequest, error) {
	e.mu.Lock()
	req, ok := e.usages[requestID]
	if !ok {
		e.mu.Unlock()
		return UsageRequest{}, ErrNotFound
	}
	if req.OperatorID != operatorID {
		e.mu.Unlock()
		return UsageRequest{}, ErrForbidden
	}
	if req.Status != StatusReceived {
		e.mu.Unlock()
		return UsageRequest{}, ErrInvalidState
	}
	if err := e.ledger.Release(ctx, req.ToolID, req.Quantity); err != nil {
		e.mu.Unlock()
		return UsageRequest{}, err
	}
	at := e.now().UTC()
	req.Status = StatusReturned
	req.ReturnedAt = &at
	out := *req
	e.mu.Unlock()

	e.emit(ctx, "usage.returned", out.ID, out.ToolID, out.Quantity, operatorID)
	e.notify(ctx, "", auth.RoleSupervisor, "Tool returned",
		fmt.Sprintf("%s returned %d for %s", operatorID, out.Quantity, out.ID))
	return out, nil
}

func (e *InMemory) ListUsage(ctx context.Context, f UsageFilter) ([]UsageRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]UsageRequest, 0, len(e.usages))
	for _, req := range e.usages {
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.OperatorID != "" && req.OperatorID != f.OperatorID {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

// notify and emit run after the transition committed; they never affect it.

func (e *InMemory) notify(ctx context.Context, userID string, role auth.Role, title, body string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, userID, role, title, body)
}

func (e *InMemory) emit(ctx context.Context, kind, requestID, toolID string, qty int, actorID string) {
	if e.events == nil {
		return
	}
	e.events.Publish(stream.Event{
		Kind:      kind,
		RequestID: requestID,
		ToolID:    toolID,
		Quantity:  qty,
		ActorID:   actorID,
	})
}
