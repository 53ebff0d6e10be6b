// Package auth exposes the identity collaborator the synchronizer listens to.
package auth

import "sync"

// User is a signed-in profile.
type User struct {
	ID    string
	Name  string
	Email string
}

// EventType is the kind of an authentication change.
type EventType int

const (
	SignedIn EventType = iota + 1
	SignedOut
)

func (t EventType) String() string {
	switch t {
	case SignedIn:
		return "signed-in"
	case SignedOut:
		return "signed-out"
	default:
		return "unknown"
	}
}

// Event reports a sign-in or sign-out. User is nil on sign-out.
type Event struct {
	Type EventType
	User *User
}

// Provider is the authentication state a synchronizer subscribes to.
type Provider interface {
	IsAuthenticated() bool
	CurrentUser() *User

	// Subscribe returns a channel of future events and a function that ends
	// the subscription and closes the channel.
	Subscribe() (<-chan Event, func())
}

// subscriberBuffer bounds each subscriber queue. When a queue is full the
// oldest event is dropped so the newest state always gets through.
const subscriberBuffer = 8

// Manual is a Provider driven by explicit SignIn and SignOut calls.
type Manual struct {
	mu   sync.RWMutex
	user *User
	subs map[int]chan Event
	next int
}

// NewManual creates a signed-out provider.
func NewManual() *Manual {
	return &Manual{subs: make(map[int]chan Event)}
}

// SignIn sets the current user and notifies subscribers.
func (m *Manual) SignIn(user User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := user
	m.user = &u
	m.publish(Event{Type: SignedIn, User: &user})
}

// SignOut clears the current user and notifies subscribers.
func (m *Manual) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.user = nil
	m.publish(Event{Type: SignedOut})
}

// IsAuthenticated implements Provider.
func (m *Manual) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

// CurrentUser implements Provider. It returns a copy.
func (m *Manual) CurrentUser() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Subscribe implements Provider.
func (m *Manual) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan Event, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// publish must be called with mu held.
func (m *Manual) publish(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Compile-time check that Manual implements Provider
var _ Provider = (*Manual)(nil)
