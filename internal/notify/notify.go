package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/ids"
	"toolcrib.org/internal/obs"
)

// Notification is a persisted message for a user or a whole role.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Role      auth.Role `json:"role,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned when no notification matches both the id and the
// recipient.
var ErrNotFound = errors.New("notification not found")

// Store persists notifications.
type Store interface {
	Append(ctx context.Context, n *Notification) error
	// ListFor returns notifications addressed to the user directly or to
	// the user's role, newest first.
	ListFor(ctx context.Context, userID string, role auth.Role) ([]Notification, error)
	// MarkRead flags a notification as read. Only the addressed user, or a
	// member of the addressed role, may mark it; anyone else gets
	// ErrNotFound. Marking twice is a no-op.
	MarkRead(ctx context.Context, id, userID string, role auth.Role) error
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	items []Notification
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty notification store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = ids.NewToken()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.items = append(s.items, *n)
	return nil
}

func (s *InMemory) ListFor(ctx context.Context, userID string, role auth.Role) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.items {
		if (n.UserID != "" && n.UserID == userID) || (n.Role != "" && n.Role == role) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) MarkRead(ctx context.Context, id, userID string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		n := &s.items[i]
		if n.ID != id {
			continue
		}
		if (n.UserID != "" && n.UserID == userID) || (n.Role != "" && n.Role == role) {
			n.Read = true
			return nil
		}
		// Addressed to someone else; indistinguishable from absent.
		return ErrNotFound
	}
	return ErrNotFound
}

// Service writes notifications after successful workflow transitions.
// Writes are fire-and-forget: a failure is logged and never surfaces to the
// transition that triggered it.
type Service struct {
	store Store
}

// NewService wraps a notification store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// SetStore wires the store in after construction, for backends where the
// store itself fires notifications through this service.
func (s *Service) SetStore(store Store) {
	s.store = store
}

// Notify records a notification for a user (or a whole role when userID is
// empty).
func (s *Service) Notify(ctx context.Context, userID string, role auth.Role, title, body string) {
	if s == nil || s.store == nil {
		return
	}
	n := Notification{UserID: userID, Role: role, Title: title, Body: body}
	if err := s.store.Append(ctx, &n); err != nil {
		obs.LogError("append notification", err)
	}
}

// ListFor exposes stored notifications for the API layer.
func (s *Service) ListFor(ctx context.Context, userID string, role auth.Role) ([]Notification, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	return s.store.ListFor(ctx, userID, role)
}

// MarkRead flags a stored notification as read for the API layer.
func (s *Service) MarkRead(ctx context.Context, id, userID string, role auth.Role) error {
	if s == nil || s.store == nil {
		return ErrNotFound
	}
	return s.store.MarkRead(ctx, id, userID, role)
}
