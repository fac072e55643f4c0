// Package trigger implements the push entry point: map a push event to its
// affected recipients and resolve the registered waiter of every connected
// one with freshly rendered notifications.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/pushgarden/internal/domain"
	"github.com/bissquit/pushgarden/internal/notifications"
	"github.com/bissquit/pushgarden/internal/pkg/ctxlog"
	"github.com/bissquit/pushgarden/internal/registry"
)

// Renderer renders one notification into its display fragment.
type Renderer interface {
	Render(notif domain.Notification, sender *domain.User) (string, error)
}

// Result reports what processing one push event did.
type Result struct {
	EventID          string `json:"event_id"`
	AlreadyProcessed bool   `json:"already_processed"`
	Recipients       int    `json:"recipients"`
	Delivered        int    `json:"delivered"`
}

// Service processes push events.
type Service struct {
	users    notifications.UserDirectory
	store    notifications.Store
	events   notifications.PushEventStore
	renderer Renderer
	registry *registry.Registry[[]string]
}

// NewService creates a new push trigger service.
func NewService(
	users notifications.UserDirectory,
	store notifications.Store,
	events notifications.PushEventStore,
	renderer Renderer,
	reg *registry.Registry[[]string],
) *Service {
	return &Service{
		users:    users,
		store:    store,
		events:   events,
		renderer: renderer,
		registry: reg,
	}
}

// Process handles one push event. Unknown or malformed ids surface as
// ErrEventNotFound with no state mutation. An already-processed event is an
// idempotent no-op. Otherwise every affected recipient gets an independent
// delivery attempt; per-recipient failures are logged and skipped, and the
// event is marked processed regardless of how many deliveries succeeded.
func (s *Service) Process(ctx context.Context, pushEventID string) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("push_event_id", pushEventID)

	event, err := s.events.Find(ctx, pushEventID)
	if err != nil {
		if errors.Is(err, notifications.ErrEventNotFound) {
			recordEvent("not_found")
		}
		return nil, fmt.Errorf("find push event: %w", err)
	}

	result := &Result{
		EventID:    event.ID,
		Recipients: len(event.RecipientIDs),
	}

	if event.Processed {
		logger.Info("push event already processed, skipping")
		recordEvent("duplicate")
		result.AlreadyProcessed = true
		return result, nil
	}

	for _, recipientID := range event.RecipientIDs {
		delivered, err := s.deliver(ctx, recipientID)
		if delivered {
			result.Delivered++
		}
		if err != nil {
			// Never abort the batch for one recipient.
			logger.Error("delivery failed", "recipient_id", recipientID, "error", err)
		}
	}

	if err := s.events.MarkProcessed(ctx, event.ID); err != nil {
		return nil, fmt.Errorf("mark push event processed: %w", err)
	}

	logger.Info("push event processed",
		"recipients", result.Recipients, "delivered", result.Delivered)
	recordEvent("processed")

	return result, nil
}

// deliver attempts delivery to one recipient. A recipient without a current
// key or without a pending waiter is simply not connected; their records stay
// fresh for the next probe. Records are marked delivered only after the
// resolve wins, so a lost race forfeits nothing.
func (s *Service) deliver(ctx context.Context, recipientID string) (bool, error) {
	key, err := s.users.FindCurrentKey(ctx, recipientID)
	if err != nil {
		if errors.Is(err, notifications.ErrUserNotFound) || errors.Is(err, notifications.ErrKeyNotFound) {
			recordDelivery("not_connected")
			return false, nil
		}
		recordDelivery("failed")
		return false, fmt.Errorf("find current key: %w", err)
	}

	if !s.registry.IsPending(key) {
		recordDelivery("not_connected")
		return false, nil
	}

	recs, err := s.store.FetchFresh(ctx, recipientID)
	if err != nil {
		recordDelivery("failed")
		return false, fmt.Errorf("fetch fresh: %w", err)
	}
	if len(recs) == 0 {
		recordDelivery("nothing_fresh")
		return false, nil
	}

	fragments := make([]string, 0, len(recs))
	ids := make([]string, 0, len(recs))
	for _, n := range recs {
		sender, err := s.users.FindUser(ctx, n.SenderID)
		if err != nil && !errors.Is(err, notifications.ErrUserNotFound) {
			recordDelivery("failed")
			return false, fmt.Errorf("resolve sender: %w", err)
		}

		fragment, err := s.renderer.Render(n, sender)
		if err != nil {
			recordDelivery("failed")
			return false, fmt.Errorf("render notification %s: %w", n.ID, err)
		}

		fragments = append(fragments, fragment)
		ids = append(ids, n.ID)
	}

	if !s.registry.Resolve(key, fragments) {
		// The waiter disconnected or timed out between the pending check and
		// now; the records stay fresh and the next probe picks them up.
		recordDelivery("not_connected")
		return false, nil
	}

	if err := s.store.MarkDelivered(ctx, ids); err != nil {
		// Delivery already happened; worst case the records are re-delivered
		// on the next probe.
		recordDelivery("resolved")
		return true, fmt.Errorf("mark delivered: %w", err)
	}

	recordDelivery("resolved")
	return true, nil
}
