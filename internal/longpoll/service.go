// Package longpoll implements the client-facing wait endpoint: probe the
// store for fresh notifications, otherwise register a waiter and suspend
// until a push resolves it, the client disconnects or the wait times out.
package longpoll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/pushgarden/internal/domain"
	"github.com/bissquit/pushgarden/internal/notifications"
	"github.com/bissquit/pushgarden/internal/pkg/ctxlog"
	"github.com/bissquit/pushgarden/internal/registry"
)

// Renderer renders one notification into its display fragment.
type Renderer interface {
	Render(notif domain.Notification, sender *domain.User) (string, error)
}

// Service implements the long-poll wait flow.
type Service struct {
	users    notifications.UserDirectory
	store    notifications.Store
	renderer Renderer
	registry *registry.Registry[[]string]
	timeout  time.Duration
}

// NewService creates a new long-poll service. The timeout bounds every
// suspended wait; it must be positive.
func NewService(
	users notifications.UserDirectory,
	store notifications.Store,
	renderer Renderer,
	reg *registry.Registry[[]string],
	timeout time.Duration,
) *Service {
	return &Service{
		users:    users,
		store:    store,
		renderer: renderer,
		registry: reg,
		timeout:  timeout,
	}
}

// Await returns rendered fragments for the recipient behind key. It replies
// immediately when fresh notifications exist; otherwise it suspends until a
// push resolves the registered waiter, ctx is cancelled (client disconnect),
// or the wait timeout elapses. A timeout yields an empty non-nil slice so the
// caller can reply with an empty result and let the client retry.
func (s *Service) Await(ctx context.Context, key string) ([]string, error) {
	logger := ctxlog.FromContext(ctx).With("key", key)

	user, err := s.users.FindByCurrentKey(ctx, key)
	if err != nil {
		if errors.Is(err, notifications.ErrUserNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("resolve session key: %w", err)
	}

	// Probe: anything already fresh is delivered without registering.
	fragments, err := s.collect(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(fragments) > 0 {
		logger.Debug("probe found fresh notifications", "count", len(fragments))
		return fragments, nil
	}

	handle := s.registry.Register(key)

	// Re-probe after registering: a push between the first probe and the
	// register would otherwise be missed until the next timeout cycle.
	fragments, err = s.collect(ctx, user.ID)
	if err != nil {
		handle.Cancel(registry.ReasonDisconnected)
		return nil, err
	}
	if len(fragments) > 0 {
		if !handle.Cancel(registry.ReasonSelfResolved) {
			// A concurrent push resolved the waiter with the same records;
			// prefer its payload over our own fetch to deliver once. The
			// winner publishes the payload by closing Done, so wait for it.
			<-handle.Done()
			if payload, outcome := handle.Outcome(); outcome == registry.OutcomeFulfilled {
				return payload, nil
			}
		}
		return fragments, nil
	}

	logger.Debug("no fresh notifications, suspending", "user_id", user.ID, "timeout", s.timeout)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-handle.Done():
		payload, outcome := handle.Outcome()
		if outcome == registry.OutcomeFulfilled {
			logger.Debug("waiter resolved", "count", len(payload))
			return payload, nil
		}
		if handle.Reason() == registry.ReasonSuperseded {
			return nil, ErrSuperseded
		}
		// Shutdown or an external cancel: reply empty, the client retries.
		return []string{}, nil

	case <-ctx.Done():
		// Client went away. A resolve that won this race delivered into a
		// dead connection; the records stay fresh in the store only when the
		// cancel wins, which is the accepted trade-off.
		handle.Cancel(registry.ReasonDisconnected)
		return nil, ctx.Err()

	case <-timer.C:
		if !handle.Cancel(registry.ReasonTimeout) {
			// Resolve beat the timeout; wait for Done so the payload write
			// is visible, then deliver it.
			<-handle.Done()
			if payload, outcome := handle.Outcome(); outcome == registry.OutcomeFulfilled {
				return payload, nil
			}
		}
		return []string{}, nil
	}
}

// collect fetches the recipient's fresh notifications, renders them and marks
// them delivered. Returns nil when nothing is fresh. Marking happens in the
// same call as the fetch: the fragments are on their way to the client.
func (s *Service) collect(ctx context.Context, recipientID string) ([]string, error) {
	recs, err := s.store.FetchFresh(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("probe notifications: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	fragments := make([]string, 0, len(recs))
	ids := make([]string, 0, len(recs))
	for _, n := range recs {
		sender, err := s.users.FindUser(ctx, n.SenderID)
		if err != nil && !errors.Is(err, notifications.ErrUserNotFound) {
			return nil, fmt.Errorf("resolve sender: %w", err)
		}

		fragment, err := s.renderer.Render(n, sender)
		if err != nil {
			return nil, fmt.Errorf("render notification %s: %w", n.ID, err)
		}

		fragments = append(fragments, fragment)
		ids = append(ids, n.ID)
	}

	if err := s.store.MarkDelivered(ctx, ids); err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}

	return fragments, nil
}
