// Package hybrid composes the local and remote session stores.
//
// Every accepted write lands in the local store before the call returns.
// When the signed-in user's remote store is reachable the write is mirrored
// asynchronously; remote failures only move the synchronizer to a degraded
// state and are never returned to callers.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/auth"
	"github.com/creastat/chatsync/local"
	"github.com/creastat/chatsync/quota"
	"github.com/creastat/chatsync/remote"
)

// ErrClosed is returned by operations on a closed Synchronizer.
var ErrClosed = errors.New("synchronizer is closed")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("synchronizer already started")

// Synchronizer coordinates the local store, the remote store and the guest quota.
type Synchronizer struct {
	local  local.Store
	remote remote.Store
	auth   auth.Provider
	quota  *quota.Tracker
	cfg    Config

	logger         *slog.Logger
	now            func() time.Time
	listeners      []StateListener
	reconcileLimit int

	state atomic.Int32

	mu          sync.Mutex
	closed      bool
	started     bool
	user        *auth.User
	epoch       uint64
	epochCtx    context.Context
	cancelEpoch context.CancelFunc
	currentID   string
	currentDate string
	queue       *syncQueue
	// reconciling counts reconciles of this epoch still running. Their
	// remote listings may hold deleted sessions, so tombstones outlive them.
	reconciling int

	unsubscribe func()
	loopDone    chan struct{}
	wg          sync.WaitGroup
}

// New creates a Synchronizer. remoteStore may be nil, which behaves like
// BackendLocal. A remote store that is not already guarded is wrapped with
// remote.Guard using cfg.RemoteTimeout.
func New(localStore local.Store, remoteStore remote.Store, provider auth.Provider, cfg Config, opts ...Option) (*Synchronizer, error) {
	if localStore == nil {
		return nil, fmt.Errorf("%w: local store is required", chatsync.ErrInvalidConfig)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: auth provider is required", chatsync.ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if remoteStore != nil {
		if _, ok := remoteStore.(*remote.Guarded); !ok {
			policy := remote.DefaultPolicy()
			policy.Timeout = cfg.RemoteTimeout
			remoteStore = remote.Guard(remoteStore, policy)
		}
	}

	s := &Synchronizer{
		local:          localStore,
		remote:         remoteStore,
		auth:           provider,
		cfg:            cfg,
		logger:         slog.Default(),
		now:            time.Now,
		reconcileLimit: 4,
		queue:          newSyncQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "hybrid")
	s.quota = quota.New(localStore,
		quota.WithMax(cfg.QuotaMax),
		quota.WithLocation(cfg.Location),
		quota.WithClock(s.now),
		quota.WithLogger(s.logger),
	)
	s.epochCtx, s.cancelEpoch = context.WithCancel(context.Background())
	s.currentDate = s.today()
	return s, nil
}

// Start migrates legacy history, initializes the remote side and begins
// following authentication events until Close.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.setState(Initializing)
	s.mu.Unlock()

	if _, err := s.Migrate(ctx); err != nil {
		s.logger.Error("legacy migration aborted, legacy data kept", "err", err)
	}

	events, unsubscribe := s.auth.Subscribe()

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.loopDone = make(chan struct{})
	s.user = s.auth.CurrentUser()
	epoch, epochCtx, user := s.epoch, s.epochCtx, s.user
	s.mu.Unlock()

	go s.watchAuth(events)

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(epochCtx, stop)()

	s.initialize(ctx, epoch, user)
	return nil
}

// State returns the current state.
func (s *Synchronizer) State() State {
	return State(s.state.Load())
}

// Status returns the cloud-sync indicator.
func (s *Synchronizer) Status() Status {
	return StatusOf(s.State())
}

// Wait blocks until all pending remote work has finished.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// Close stops following authentication events, abandons pending remote work
// and waits for it to unwind. The stores are left open.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.advanceEpoch()
	unsubscribe, loopDone := s.unsubscribe, s.loopDone
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if loopDone != nil {
		<-loopDone
	}
	s.wg.Wait()
	return nil
}

// Reconnect re-probes the remote store after a degradation. It is a no-op
// unless the synchronizer is CloudUnavailable with a signed-in user.
func (s *Synchronizer) Reconnect(ctx context.Context) State {
	s.mu.Lock()
	if s.closed || s.State() != CloudUnavailable || s.user == nil {
		s.mu.Unlock()
		return s.State()
	}
	s.setState(Reinitializing)
	epoch, epochCtx, user := s.epoch, s.epochCtx, s.user
	s.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(epochCtx, stop)()

	s.initialize(ctx, epoch, user)
	return s.State()
}

func (s *Synchronizer) watchAuth(events <-chan auth.Event) {
	defer close(s.loopDone)
	for ev := range events {
		switch ev.Type {
		case auth.SignedIn:
			s.signIn(ev.User)
		case auth.SignedOut:
			s.signOut()
		}
	}
}

func (s *Synchronizer) signIn(user *auth.User) {
	if user == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.advanceEpoch()
	u := *user
	s.user = &u
	s.setState(Reinitializing)
	epoch, ctx := s.epoch, s.epochCtx
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("user signed in, reinitializing", "user", u.ID)
	go func() {
		defer s.wg.Done()
		s.initialize(ctx, epoch, &u)
	}()
}

func (s *Synchronizer) signOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.advanceEpoch()
	s.user = nil
	s.setState(LocalOnly)
	s.logger.Info("user signed out, remote sync stopped")
}

// initialize settles into a steady state. Results are discarded when the
// epoch moved on while remote calls were in flight.
func (s *Synchronizer) initialize(ctx context.Context, epoch uint64, user *auth.User) {
	if s.cfg.StorageBackend == BackendLocal || s.remote == nil || user == nil {
		s.settle(epoch, LocalOnly)
		return
	}

	if err := s.remote.Initialize(ctx); err != nil {
		s.logger.Warn("remote initialize failed", "err", err)
		s.settle(epoch, CloudUnavailable)
		return
	}

	h := s.remote.HealthCheck(ctx)
	if !h.Reachable {
		s.logger.Warn("remote health check failed", "err", h.Err, "latency", h.Latency)
		s.settle(epoch, CloudUnavailable)
		return
	}

	if s.settle(epoch, CloudAvailable) {
		s.startReconcile(epoch, user.ID)
	}
}

// settle moves to state if epoch is still current.
func (s *Synchronizer) settle(epoch uint64, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		return false
	}
	s.setState(state)
	return true
}

// remoteFailed degrades after a failed remote call. Unauthorized stops
// remote calls until the next sign-in.
func (s *Synchronizer) remoteFailed(epoch uint64, op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		s.logger.Debug("ignoring abandoned remote failure", "op", op, "err", err)
		return
	}

	s.logger.Warn("remote sync failed", "op", op, "kind", remote.KindOf(err).String(), "err", err)
	if s.State() != CloudAvailable {
		return
	}
	if errors.Is(err, remote.ErrUnauthorized) {
		s.setState(LocalOnly)
		return
	}
	s.setState(CloudUnavailable)
}

// advanceEpoch abandons all remote work of the current epoch.
// Callers hold mu.
func (s *Synchronizer) advanceEpoch() {
	s.cancelEpoch()
	s.epoch++
	s.epochCtx, s.cancelEpoch = context.WithCancel(context.Background())
	s.queue = newSyncQueue()
	s.reconciling = 0
}

// setState records a transition and notifies listeners. Callers hold mu.
func (s *Synchronizer) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Info("sync state changed", "from", from.String(), "state", to.String())
	for _, fn := range s.listeners {
		fn(from, to)
	}
}

func (s *Synchronizer) today() string {
	return chatsync.DateKey(s.now().In(s.cfg.Location))
}
