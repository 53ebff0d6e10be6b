package hybrid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync/auth"
	"github.com/creastat/chatsync/local"
	"github.com/creastat/chatsync/remote"
)

// stepClock advances one second on every reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *stepClock) jump(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// transitions records state changes.
type transitions struct {
	mu   sync.Mutex
	seen []State
}

func (r *transitions) listen(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, to)
}

func (r *transitions) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.seen...)
}

type fixture struct {
	sync   *Synchronizer
	local  *local.MemoryStore
	remote *remote.MemoryStore
	auth   *auth.Manual
	clock  *stepClock
	states *transitions

	cfg   Config
	store local.Store
}

type fixtureSettings struct {
	cfg  Config
	wrap func(local.Store) local.Store
}

type fixtureOption func(*fixtureSettings)

func withBackend(b Backend) fixtureOption {
	return func(o *fixtureSettings) { o.cfg.StorageBackend = b }
}

func withQuota(n int) fixtureOption {
	return func(o *fixtureSettings) { o.cfg.QuotaMax = n }
}

// withLocal puts wrap between the synchronizer and the in-memory store.
func withLocal(wrap func(local.Store) local.Store) fixtureOption {
	return func(o *fixtureSettings) { o.wrap = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	settings := fixtureSettings{cfg: DefaultConfig()}
	settings.cfg.Location = time.UTC
	for _, opt := range opts {
		opt(&settings)
	}

	f := &fixture{
		local:  local.NewMemoryStore(nil),
		remote: remote.NewMemoryStore(),
		auth:   auth.NewManual(),
		clock:  newStepClock(),
		states: &transitions{},
		cfg:    settings.cfg,
	}
	f.store = f.local
	if settings.wrap != nil {
		f.store = settings.wrap(f.local)
	}
	f.sync = f.build(t)
	return f
}

func (f *fixture) build(t *testing.T) *Synchronizer {
	t.Helper()
	guarded := remote.Guard(f.remote, remote.Policy{
		Timeout:        time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	s, err := New(f.store, guarded, f.auth, f.cfg,
		WithClock(f.clock.now),
		WithStateListener(f.states.listen),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// restart closes the synchronizer and starts a new one over the same stores,
// as a relaunched app would.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sync.Close())
	f.sync = f.build(t)
	f.start(t)
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sync.Start(context.Background()))
	f.sync.Wait()
}

// waitFor blocks until the synchronizer reaches state and its remote work settled.
func (f *fixture) waitFor(t *testing.T, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.sync.State() == state }, 2*time.Second, 2*time.Millisecond,
		"want %s, have %s", state, f.sync.State())
	f.sync.Wait()
}

var ada = auth.User{ID: "u-ada", Name: "Ada"}
