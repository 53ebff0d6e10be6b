package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Initialize(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockStore) Upsert(ctx context.Context, userID string, session *chatsync.ChatSession) error {
	return m.Called(userID, session.ID).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, userID, sessionID string) error {
	return m.Called(userID, sessionID).Error(0)
}

func (m *MockStore) List(ctx context.Context, userID string) ([]*chatsync.ChatSession, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*chatsync.ChatSession), args.Error(1)
}

func (m *MockStore) HealthCheck(ctx context.Context) Health {
	return m.Called().Get(0).(Health)
}

func (m *MockStore) Close() error { return nil }

func fastPolicy() Policy {
	return Policy{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Timeout: time.Second}
}

func TestGuardRetriesThrottledOnce(t *testing.T) {
	store := new(MockStore)
	sess := &chatsync.ChatSession{ID: "s1"}
	store.On("Upsert", "u1", "s1").Return(NewError("upsert", KindThrottled, errors.New("429"))).Once()
	store.On("Upsert", "u1", "s1").Return(nil).Once()

	err := Guard(store, fastPolicy()).Upsert(context.Background(), "u1", sess)
	assert.NoError(t, err)
	store.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestGuardSurfacesFailureAfterSingleRetry(t *testing.T) {
	store := new(MockStore)
	store.On("Delete", "u1", "s1").Return(NewError("delete", KindUnreachable, errors.New("dial tcp"))).Times(2)

	policy := fastPolicy()
	policy.MaxRetries = 5
	err := Guard(store, policy).Delete(context.Background(), "u1", "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	store.AssertNumberOfCalls(t, "Delete", 2)
}

func TestGuardDoesNotRetryUnauthorized(t *testing.T) {
	store := new(MockStore)
	store.On("List", "u1").Return(nil, NewError("list", KindUnauthorized, errors.New("JWT expired"))).Once()

	_, err := Guard(store, fastPolicy()).List(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	store.AssertNumberOfCalls(t, "List", 1)
}

func TestGuardClassifiesPlainErrors(t *testing.T) {
	store := new(MockStore)
	store.On("Initialize").Return(errors.New("boom")).Once()

	err := Guard(store, fastPolicy()).Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Contains(t, err.Error(), "initialize")
	store.AssertNumberOfCalls(t, "Initialize", 1)
}

func TestGuardTimesOutSlowCalls(t *testing.T) {
	store := NewMemoryStore()
	store.SetDelay(time.Second)

	policy := fastPolicy()
	policy.Timeout = 20 * time.Millisecond
	policy.MaxRetries = -1

	start := time.Now()
	err := Guard(store, policy).Upsert(context.Background(), "u1", &chatsync.ChatSession{ID: "s1"})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, store.Calls("upsert"))
}

func TestGuardHealthCheckTimeout(t *testing.T) {
	store := NewMemoryStore()
	store.SetDelay(time.Second)

	policy := fastPolicy()
	policy.Timeout = 20 * time.Millisecond

	h := Guard(store, policy).HealthCheck(context.Background())
	assert.False(t, h.Reachable)
	assert.ErrorIs(t, h.Err, ErrUnreachable)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, DefaultTimeout, p.Timeout)
	assert.Equal(t, 1, p.MaxRetries)
}
