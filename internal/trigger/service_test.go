package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bissquit/pushgarden/internal/domain"
	"github.com/bissquit/pushgarden/internal/notifications"
	"github.com/bissquit/pushgarden/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepo implements the notifications interfaces the trigger depends on.
type mockRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	events    map[string]*domain.PushEvent
	fresh     map[string][]domain.Notification
	delivered []string
	processed []string
	fetchErr  error
	markErr   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		users:  make(map[string]*domain.User),
		events: make(map[string]*domain.PushEvent),
		fresh:  make(map[string][]domain.Notification),
	}
}

func (m *mockRepo) addUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *mockRepo) addEvent(e *domain.PushEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
}

func (m *mockRepo) addFresh(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fresh[n.RecipientID] = append(m.fresh[n.RecipientID], n)
}

func (m *mockRepo) FindByCurrentKey(_ context.Context, key string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.CurrentKey == key {
			return u, nil
		}
	}
	return nil, notifications.ErrUserNotFound
}

func (m *mockRepo) FindCurrentKey(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return "", notifications.ErrUserNotFound
	}
	if u.CurrentKey == "" {
		return "", notifications.ErrKeyNotFound
	}
	return u.CurrentKey, nil
}

func (m *mockRepo) FindUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, notifications.ErrUserNotFound
	}
	return u, nil
}

func (m *mockRepo) FetchFresh(_ context.Context, recipientID string) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return append([]domain.Notification(nil), m.fresh[recipientID]...), nil
}

func (m *mockRepo) MarkDelivered(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.delivered = append(m.delivered, ids...)
	return nil
}

func (m *mockRepo) Find(_ context.Context, id string) (*domain.PushEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, notifications.ErrEventNotFound
	}
	return e, nil
}

func (m *mockRepo) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, id)
	if e, ok := m.events[id]; ok {
		e.Processed = true
	}
	return nil
}

type stubRenderer struct{}

func (stubRenderer) Render(n domain.Notification, _ *domain.User) (string, error) {
	return "frag:" + n.ID, nil
}

func newTestService(repo *mockRepo, reg *registry.Registry[[]string]) *Service {
	return NewService(repo, repo, repo, stubRenderer{}, reg)
}

func TestProcess_EventNotFound(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, registry.New[[]string]())

	_, err := svc.Process(context.Background(), "missing")
	assert.ErrorIs(t, err, notifications.ErrEventNotFound)
	assert.Empty(t, repo.processed, "a missing event must not mutate state")
}

func TestProcess_AlreadyProcessed(t *testing.T) {
	repo := newMockRepo()
	repo.addUser(&domain.User{ID: "u1", CurrentKey: "key1"})
	repo.addEvent(&domain.PushEvent{ID: "e1", RecipientIDs: []string{"u1"}, Processed: true})
	repo.addFresh(domain.Notification{ID: "n1", RecipientID: "u1", IsFresh: true})

	reg := registry.New[[]string]()
	handle := reg.Register("key1")
	svc := newTestService(repo, reg)

	result, err := svc.Process(context.Background(), "e1")
	require.NoError(t, err)

	assert.True(t, result.AlreadyProcessed)
	assert.Zero(t, result.Delivered)
	assert.True(t, reg.IsPending("key1"), "duplicate trigger must not resolve waiters")
	assert.Empty(t, repo.processed)

	handle.Cancel(registry.ReasonDisconnected)
}

func TestProcess_ResolvesConnectedRecipientsOnly(t *testing.T) {
	repo := newMockRepo()
	repo.addUser(&domain.User{ID: "a", CurrentKey: "key-a"})
	repo.addUser(&domain.User{ID: "b", CurrentKey: "key-b"})
	repo.addUser(&domain.User{ID: "c", CurrentKey: "key-c"})
	repo.addEvent(&domain.PushEvent{ID: "e1", RecipientIDs: []string{"a", "b", "c"}})
	repo.addFresh(domain.Notification{ID: "na", RecipientID: "a", IsFresh: true})
	repo.addFresh(domain.Notification{ID: "nc", RecipientID: "c", IsFresh: true})

	reg := registry.New[[]string]()
	handleA := reg.Register("key-a")
	handleC := reg.Register("key-c")
	svc := newTestService(repo, reg)

	result, err := svc.Process(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Recipients)
	assert.Equal(t, 2, result.Delivered)

	payloadA, outcomeA := handleA.Outcome()
	require.Equal(t, registry.OutcomeFulfilled, outcomeA)
	assert.Equal(t, []string{"frag:na"}, payloadA)

	payloadC, outcomeC := handleC.Outcome()
	require.Equal(t, registry.OutcomeFulfilled, outcomeC)
	assert.Equal(t, []string{"frag:nc"}, payloadC)

	assert.ElementsMatch(t, []string{"na", "nc"}, repo.delivered)
	assert.Equal(t, []string{"e1"}, repo.processed, "the event is processed regardless of per-recipient outcomes")
}

func TestProcess_RecipientWithoutWaiterStaysFresh(t *testing.T) {
	repo := newMockRepo()
	repo.addUser(&domain.User{ID: "u1", CurrentKey: "key1"})
	repo.addEvent(&domain.PushEvent{ID: "e1", RecipientIDs: []string{"u1"}})
	repo.addFresh(domain.Notification{ID: "n1", RecipientID: "u1", IsFresh: true})

	svc := newTestService(repo, registry.New[[]string]())

	result, err := svc.Process(context.Background(), "e1")
	require.NoError(t, err)

	assert.Zero(t, result.Delivered)
	assert.Empty(t, repo.delivered, "records must stay fresh for the next probe")
	assert.Equal(t, []string{"e1"}, repo.processed)
}

func TestProcess_UnknownRecipientSkipped(t *testing.T) {
	repo := newMockRepo()
	repo.addUser(&domain.User{ID: "u2", CurrentKey: "key2"})
	repo.addEvent(&domain.PushEvent{ID: "e1", RecipientIDs: []string{"ghost", "u2"}})
	repo.addFresh(domain.Notification{ID: "n2", RecipientID: "u2", IsFresh: true})

	reg := registry.New[[]string]()
	handle := reg.Register("key2")
	svc := newTestService(repo, reg)

	result, err := svc.Process(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Delivered, "the unknown recipient must not block the rest")

	_, outcome := handle.Outcome()
	assert.Equal(t, registry.OutcomeFulfilled, outcome)
	assert.Equal(t, []string{"e1"}, repo.processed)
}

func TestProcess_StoreFailureIsolatedPerRecipient(t *testing.T) {
	repo := newMockRepo()
	repo.addUser(&domain.User{ID: "u1", CurrentKey: "key1"})
	repo.addEvent(&domain.PushEvent{ID: "e1", RecipientIDs: []string{"u1"}})
	repo.fetchErr = errors.New("store down")

	reg := registry.New[[]string]()
	handle := reg.Register("key1")
	svc := newTestService(repo, reg)

	result, err := svc.Process(context.Background(), "e1")
	require.NoError(t, err, "per-recipient store failures must not abort the batch")

	assert.Zero(t, result.Delivered)
	assert.True(t, reg.IsPending("key1"), "a failed delivery leaves the waiter pending")
	assert.Equal(t, []string{"e1"}, repo.processed)

	handle.Cancel(registry.ReasonDisconnected)
}

func TestProcess_NothingFreshNoResolve(t *testing.T) {
	repo := newMockRepo()
	repo.addUser(&domain.User{ID: "u1", CurrentKey: "key1"})
	repo.addEvent(&domain.PushEvent{ID: "e1", RecipientIDs: []string{"u1"}})

	reg := registry.New[[]string]()
	handle := reg.Register("key1")
	svc := newTestService(repo, reg)

	result, err := svc.Process(context.Background(), "e1")
	require.NoError(t, err)

	assert.Zero(t, result.Delivered)
	assert.True(t, reg.IsPending("key1"), "no fresh records means the waiter keeps waiting")

	handle.Cancel(registry.ReasonDisconnected)
}
