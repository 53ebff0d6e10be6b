package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestManualSignInOut(t *testing.T) {
	m := NewManual()
	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.CurrentUser())

	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.SignIn(User{ID: "u1", Name: "Ada"})
	ev := recv(t, events)
	assert.Equal(t, SignedIn, ev.Type)
	assert.Equal(t, "u1", ev.User.ID)
	assert.True(t, m.IsAuthenticated())

	u := m.CurrentUser()
	u.Name = "changed"
	assert.Equal(t, "Ada", m.CurrentUser().Name)

	m.SignOut()
	ev = recv(t, events)
	assert.Equal(t, SignedOut, ev.Type)
	assert.Nil(t, ev.User)
	assert.False(t, m.IsAuthenticated())
}

func TestManualUnsubscribeClosesChannel(t *testing.T) {
	m := NewManual()
	events, unsubscribe := m.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-events
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	m.SignIn(User{ID: "u1"})
}

func TestManualKeepsNewestWhenSubscriberLags(t *testing.T) {
	m := NewManual()
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+3; i++ {
		m.SignIn(User{ID: "u1"})
	}
	m.SignOut()

	var last Event
	for len(events) > 0 {
		last = <-events
	}
	assert.Equal(t, SignedOut, last.Type)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "signed-in", SignedIn.String())
	assert.Equal(t, "signed-out", SignedOut.String())
	assert.Equal(t, "unknown", EventType(0).String())
}
