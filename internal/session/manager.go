// Package session owns the client's authentication state and the roles derived from it.
//
// A Manager reconciles two independent sources: a one-time fetch of the persisted
// session and a long-lived change listener. Both feed a single reducer (apply) and
// both derive from the backend's state, so the last write wins. The one exception is
// the session itself: once the listener has reported one, a slower fetch only
// resolves loading and cannot roll the actor back. Consumers read immutable
// Snapshots and may subscribe to changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/puppy-social/puppy/internal/ports"
)

var (
	// ErrAlreadyInitialized is returned when Initialize is called more than once.
	ErrAlreadyInitialized = errors.New("session manager already initialized")
	// ErrClosed is returned by operations on a manager that has been closed.
	ErrClosed = errors.New("session manager closed")
)

const defaultLookupTimeout = 10 * time.Second

// Observer receives lifecycle notifications, typically for metrics.
type Observer interface {
	SessionEvent(kind domainauth.EventKind)
	RoleLookup(err error)
	Resolved(authenticated bool)
}

type nopObserver struct{}

func (nopObserver) SessionEvent(domainauth.EventKind) {}
func (nopObserver) RoleLookup(error)                  {}
func (nopObserver) Resolved(bool)                     {}

// Options groups dependencies for a Manager.
type Options struct {
	Auth     ports.AuthService
	Roles    ports.RoleLookup
	Logger   *slog.Logger
	Observer Observer
	// LookupTimeout bounds each role lookup. Defaults to 10s.
	LookupTimeout time.Duration
}

// state is owned by Manager and only mutated through apply.
type state struct {
	session  *domainauth.Session
	roles    domainauth.RoleSet
	resolved bool
	// heard is set once the listener has applied a session; the fetch result is older than it.
	heard   bool
	version uint64
}

// Manager is the authoritative holder of "who is acting and with what privileges".
type Manager struct {
	auth          ports.AuthService
	roles         ports.RoleLookup
	logger        *slog.Logger
	observer      Observer
	lookupTimeout time.Duration

	mu      sync.Mutex
	st      state
	alive   bool
	subs    map[uint64]chan domainauth.Snapshot
	nextSub uint64

	started     atomic.Bool
	unsubscribe func()
	queue       *taskQueue
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewManager constructs a Manager. Call Initialize to start it.
func NewManager(opts Options) (*Manager, error) {
	if opts.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if opts.Roles == nil {
		return nil, errors.New("role lookup is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	timeout := opts.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	return &Manager{
		auth:          opts.Auth,
		roles:         opts.Roles,
		logger:        logger.With("component", "session"),
		observer:      observer,
		lookupTimeout: timeout,
		alive:         true,
		subs:          make(map[uint64]chan domainauth.Snapshot),
		queue:         newTaskQueue(),
		ctx:           context.Background(),
		cancel:        func() {},
	}, nil
}

// Initialize registers the change listener and starts the one-time session fetch.
// It returns immediately; Snapshot().Loading stays true until the fetch completes.
// The manager's lifetime is independent of ctx cancellation; use Close to tear down.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.ctx, m.cancel = ctx, cancel
	m.mu.Unlock()

	m.queue.start()
	unsubscribe := m.auth.SubscribeToSessionChanges(m.onSessionEvent)

	// Close may have run while subscribing; it saw no listener to remove.
	m.mu.Lock()
	closed := !m.alive
	if !closed {
		m.unsubscribe = unsubscribe
	}
	m.mu.Unlock()
	if closed {
		unsubscribe()
		return ErrClosed
	}

	go m.initialLoad()
	return nil
}

// Close unregisters the listener and discards the result of any in-flight work.
// It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return nil
	}
	m.alive = false
	subs := m.subs
	m.subs = make(map[uint64]chan domainauth.Snapshot)
	unsubscribe, cancel := m.unsubscribe, m.cancel
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.queue.stop()
	cancel()

	for _, ch := range subs {
		close(ch)
	}
	m.logger.Debug("session manager closed")
	return nil
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() domainauth.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that receives the current snapshot immediately and then
// the latest snapshot after each change. Slow readers only ever see the newest value.
// The channel is closed by cancel or by Close.
func (m *Manager) Subscribe() (<-chan domainauth.Snapshot, func()) {
	ch := make(chan domainauth.Snapshot, 1)

	m.mu.Lock()
	if !m.alive {
		ch <- m.snapshotLocked()
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// WaitResolved blocks until the initial session fetch has completed.
func (m *Manager) WaitResolved(ctx context.Context) (domainauth.Snapshot, error) {
	ch, cancel := m.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return m.Snapshot(), ErrClosed
			}
			if !snap.Loading {
				return snap, nil
			}
		}
	}
}

// SignOut invalidates the backend session and clears the actor and roles.
// Clearing needs no role lookup, so it completes before SignOut returns.
func (m *Manager) SignOut(ctx context.Context) error {
	if !m.isAlive() {
		return ErrClosed
	}
	if err := m.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	m.apply(func(st *state) bool {
		if st.session == nil {
			return false
		}
		st.session = nil
		st.roles = domainauth.RoleSet{}
		return true
	})
	return nil
}

// lifetime returns the context cancelled by Close.
func (m *Manager) lifetime() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// initialLoad performs the one-time fetch. It alone controls the loading flag.
func (m *Manager) initialLoad() {
	sess, err := m.auth.FetchCurrentSession(m.lifetime())
	if err != nil {
		if !m.isAlive() {
			return
		}
		m.logger.Warn("initial session fetch failed", "error", err)
		var authenticated bool
		if m.apply(func(st *state) bool {
			st.resolved = true
			authenticated = st.session != nil
			return true
		}) {
			m.observer.Resolved(authenticated)
		}
		return
	}

	var roles domainauth.RoleSet
	if sess != nil {
		roles = m.checkRoles(sess.Actor.ID)
	}

	var authenticated bool
	applied := m.apply(func(st *state) bool {
		st.resolved = true
		if st.heard {
			if sess != nil && st.session.ActorID() == sess.Actor.ID {
				st.roles = roles
			}
		} else {
			st.session = sess
			st.roles = roles
		}
		authenticated = st.session != nil
		return true
	})
	if applied {
		m.observer.Resolved(authenticated)
	}
}

// onSessionEvent is the change listener. It never blocks on I/O: role lookups are
// posted to the task queue and run after the callback has returned.
func (m *Manager) onSessionEvent(ev domainauth.SessionEvent) {
	if !m.isAlive() {
		return
	}
	m.observer.SessionEvent(ev.Kind)

	if ev.Kind == domainauth.EventUserUpdated {
		m.onUserUpdated(ev)
		return
	}

	sess := ev.Session
	m.apply(func(st *state) bool {
		prev := st.session.ActorID()
		st.heard = true
		st.session = sess
		if sess == nil || sess.Actor.ID != prev {
			st.roles = domainauth.RoleSet{}
		}
		return true
	})

	if sess != nil {
		m.scheduleRoleLookup(sess.Actor.ID)
	}
}

// onUserUpdated re-checks roles when the update concerns the current actor.
func (m *Manager) onUserUpdated(ev domainauth.SessionEvent) {
	actorID := ev.ActorID
	if actorID == "" {
		actorID = ev.Session.ActorID()
	}
	if actorID == "" {
		return
	}

	m.mu.Lock()
	current := m.st.session.ActorID()
	m.mu.Unlock()

	if actorID == current {
		m.scheduleRoleLookup(actorID)
	}
}

func (m *Manager) scheduleRoleLookup(actorID string) {
	m.queue.post(func() {
		if !m.isAlive() {
			return
		}
		roles := m.checkRoles(actorID)
		m.apply(func(st *state) bool {
			// Results for an actor that is no longer current are stale.
			if st.session.ActorID() != actorID || st.roles == roles {
				return false
			}
			st.roles = roles
			return true
		})
	})
}

// checkRoles looks up the actor's roles, failing closed on any error.
func (m *Manager) checkRoles(actorID string) domainauth.RoleSet {
	ctx, cancel := context.WithTimeout(m.lifetime(), m.lookupTimeout)
	defer cancel()

	roles, err := m.roles.LookupRoles(ctx, actorID)
	m.observer.RoleLookup(err)
	if err != nil {
		if m.isAlive() {
			m.logger.Warn("role lookup failed; treating actor as unprivileged",
				"actor_id", actorID,
				"error", err)
		}
		return domainauth.RoleSet{}
	}
	return domainauth.DeriveRoleSet(roles)
}

// apply runs mutate under the lock and publishes the new snapshot when it reports a change.
// It is a no-op after Close.
func (m *Manager) apply(mutate func(st *state) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive {
		return false
	}
	if !mutate(&m.st) {
		return false
	}
	m.st.version++

	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	return true
}

func (m *Manager) isAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

func (m *Manager) snapshotLocked() domainauth.Snapshot {
	snap := domainauth.Snapshot{
		Loading: !m.st.resolved,
		Version: m.st.version,
	}
	if s := m.st.session; s != nil {
		actor := s.Actor
		snap.User = &actor
		snap.SessionID = s.ID
		snap.IsAdmin = m.st.roles.IsAdmin
		snap.IsModerator = m.st.roles.IsModerator
	}
	return snap
}
