package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthService      = (*FakeAuthService)(nil)
	_ ports.RoleLookup       = (*StubRoleLookup)(nil)
	_ ports.IdentityProvider = (*MockIdentityProvider)(nil)
	_ ports.SessionStore     = (*MemorySessionStore)(nil)
	_ ports.ChangeFeed       = (*MemoryChangeFeed)(nil)
	_ ports.UserStore        = (*MemoryUserStore)(nil)
	_ ports.RoleStore        = (*MemoryRoleStore)(nil)
	_ ports.ActivityLog      = (*MemoryActivityLog)(nil)
)

// FakeAuthService is an in-memory authentication backend.
// Fetches can be held open to exercise races with the change listener.
type FakeAuthService struct {
	// SignOutErr, when set, is returned by SignOut without changing state.
	SignOutErr error

	mu        sync.Mutex
	session   *domainauth.Session
	fetchErr  error
	hold      chan struct{}
	listeners map[int]ports.SessionListener
	nextID    int

	fetchCalls       int
	signOutCalls     int
	unsubscribeCalls int
	fetchStarted     chan struct{}
}

// NewFakeAuthService creates a backend whose persisted session is sess (nil when signed out).
func NewFakeAuthService(sess *domainauth.Session) *FakeAuthService {
	return &FakeAuthService{
		session:      sess,
		listeners:    make(map[int]ports.SessionListener),
		fetchStarted: make(chan struct{}, 1),
	}
}

// SetSession replaces the persisted session without notifying listeners.
func (f *FakeAuthService) SetSession(sess *domainauth.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = sess
}

// SetFetchError makes FetchCurrentSession fail with err.
func (f *FakeAuthService) SetFetchError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// HoldFetch blocks FetchCurrentSession until the returned release func is called.
// The fetch result is read after release.
func (f *FakeAuthService) HoldFetch() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// FetchStarted receives a value each time FetchCurrentSession is entered.
func (f *FakeAuthService) FetchStarted() <-chan struct{} { return f.fetchStarted }

func (f *FakeAuthService) FetchCurrentSession(ctx context.Context) (*domainauth.Session, error) {
	f.mu.Lock()
	f.fetchCalls++
	hold := f.hold
	f.mu.Unlock()

	select {
	case f.fetchStarted <- struct{}{}:
	default:
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.session == nil {
		return nil, nil
	}
	sess := *f.session
	return &sess, nil
}

func (f *FakeAuthService) SubscribeToSessionChanges(fn ports.SessionListener) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.listeners, id)
			f.unsubscribeCalls++
		})
	}
}

// SignOut clears the persisted session and notifies listeners before returning.
func (f *FakeAuthService) SignOut(_ context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	if f.SignOutErr != nil {
		err := f.SignOutErr
		f.mu.Unlock()
		return err
	}
	f.session = nil
	f.mu.Unlock()

	f.Emit(domainauth.SessionEvent{Kind: domainauth.EventSignedOut, At: time.Now()})
	return nil
}

// SignIn persists sess and emits SIGNED_IN.
func (f *FakeAuthService) SignIn(sess domainauth.Session) {
	f.SetSession(&sess)
	f.Emit(domainauth.SessionEvent{Kind: domainauth.EventSignedIn, Session: &sess, At: time.Now()})
}

// Emit delivers ev synchronously to every registered listener.
func (f *FakeAuthService) Emit(ev domainauth.SessionEvent) {
	f.mu.Lock()
	fns := make([]ports.SessionListener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// ListenerCount reports the number of registered listeners.
func (f *FakeAuthService) ListenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// UnsubscribeCalls reports how many listeners were unregistered.
func (f *FakeAuthService) UnsubscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribeCalls
}

// FetchCalls reports how many times FetchCurrentSession was called.
func (f *FakeAuthService) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// SignOutCalls reports how many times SignOut was called.
func (f *FakeAuthService) SignOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

// StubRoleLookup serves roles from a map. Lookups can be held open and failed on demand.
type StubRoleLookup struct {
	mu      sync.Mutex
	roles   map[string][]domainauth.Role
	err     error
	hold    chan struct{}
	calls   []string
	started chan string
}

// NewStubRoleLookup creates a lookup seeded with roles keyed by actor ID.
func NewStubRoleLookup(roles map[string][]domainauth.Role) *StubRoleLookup {
	if roles == nil {
		roles = make(map[string][]domainauth.Role)
	}
	return &StubRoleLookup{roles: roles, started: make(chan string, 64)}
}

// SetRoles replaces the roles of actorID.
func (s *StubRoleLookup) SetRoles(actorID string, roles ...domainauth.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[actorID] = roles
}

// SetError makes every lookup fail with err; nil restores normal behavior.
func (s *StubRoleLookup) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Hold blocks lookups until the returned release func is called.
// Results are read after release, so roles changed while held are observed.
func (s *StubRoleLookup) Hold() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.hold == ch {
				s.hold = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Started receives the actor ID of each lookup as it begins.
func (s *StubRoleLookup) Started() <-chan string { return s.started }

// Calls returns the actor IDs looked up so far, in order.
func (s *StubRoleLookup) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *StubRoleLookup) LookupRoles(ctx context.Context, actorID string) ([]domainauth.Role, error) {
	s.mu.Lock()
	s.calls = append(s.calls, actorID)
	hold := s.hold
	s.mu.Unlock()

	select {
	case s.started <- actorID:
	default:
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]domainauth.Role(nil), s.roles[actorID]...), nil
}

// MockIdentityProvider simulates an IdP for tests with deterministic state/nonce handling.
type MockIdentityProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (authURL, state, nonce string, err error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error)

	AuthURL     string
	StatePrefix string
	NoncePrefix string
	DefaultUser domainauth.Identity

	mu        sync.Mutex
	callCount int
}

// NewMockIdentityProvider creates a MockIdentityProvider with sensible defaults.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{
		AuthURL:     "https://mock-idp/auth",
		StatePrefix: "state",
		NoncePrefix: "nonce",
		DefaultUser: domainauth.Identity{
			Subject:     "mock-user-1",
			Email:       "mock.user@example.com",
			DisplayName: "Mock User",
		},
	}
}

func (m *MockIdentityProvider) Begin(ctx context.Context, in ports.BeginInput) (string, string, string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}

	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()

	authURL := m.AuthURL
	if authURL == "" {
		authURL = "https://mock-idp/auth"
	}
	statePrefix := m.StatePrefix
	if statePrefix == "" {
		statePrefix = "state"
	}
	noncePrefix := m.NoncePrefix
	if noncePrefix == "" {
		noncePrefix = "nonce"
	}

	return authURL, fmt.Sprintf("%s-%d", statePrefix, n), fmt.Sprintf("%s-%d", noncePrefix, n), nil
}

func (m *MockIdentityProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}

	user := m.DefaultUser
	if user.Subject == "" {
		user = domainauth.Identity{
			Subject:     "mock-user-1",
			Email:       "mock.user@example.com",
			DisplayName: "Mock User",
		}
	}
	user.ExpiresAt = time.Now().Add(time.Hour)
	return user, nil
}

// MemorySessionStore is an in-memory session store for unit tests.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *domainauth.Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &sess
	return nil
}

func (m *MemorySessionStore) Current(_ context.Context) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domainauth.Session{}, domainauth.ErrNoSession
	}
	return *m.session, nil
}

func (m *MemorySessionStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// MemoryChangeFeed is an in-process ChangeFeed. Publish delivers synchronously.
type MemoryChangeFeed struct {
	mu        sync.Mutex
	listeners map[int]ports.SessionListener
	nextID    int
	published []domainauth.SessionEvent
}

// NewMemoryChangeFeed creates an empty feed.
func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{listeners: make(map[int]ports.SessionListener)}
}

func (m *MemoryChangeFeed) Publish(_ context.Context, ev domainauth.SessionEvent) error {
	m.mu.Lock()
	m.published = append(m.published, ev)
	fns := make([]ports.SessionListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (m *MemoryChangeFeed) Subscribe(_ context.Context, fn ports.SessionListener) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}, nil
}

// Published returns every event published so far.
func (m *MemoryChangeFeed) Published() []domainauth.SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domainauth.SessionEvent(nil), m.published...)
}

// MemoryUserStore keeps credentials keyed by email.
type MemoryUserStore struct {
	mu      sync.Mutex
	byEmail map[string]ports.Credentials
	// Err, when set, is returned by every call.
	Err error
	// Roles, when set, receives the initial roles of created users. A failing role
	// write leaves the user uncreated.
	Roles *MemoryRoleStore
}

// NewMemoryUserStore creates an empty user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byEmail: make(map[string]ports.Credentials)}
}

func (m *MemoryUserStore) Create(ctx context.Context, actor domainauth.Actor, passwordHash []byte, roles []domainauth.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.byEmail[actor.Email]; ok {
		return &apperrors.AppError{Code: apperrors.ErrCodeConflict, Message: "email already registered", Field: "email"}
	}
	if m.Roles != nil {
		if err := m.Roles.ReplaceRoles(ctx, actor.ID, roles); err != nil {
			return err
		}
	}
	m.byEmail[actor.Email] = ports.Credentials{Actor: actor, PasswordHash: passwordHash}
	return nil
}

func (m *MemoryUserStore) FindByEmail(_ context.Context, email string) (ports.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return ports.Credentials{}, m.Err
	}
	creds, ok := m.byEmail[email]
	if !ok {
		return ports.Credentials{}, apperrors.NotFound("user not found")
	}
	return creds, nil
}

// Len reports the number of stored users.
func (m *MemoryUserStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byEmail)
}

// MemoryRoleStore keeps role assignments keyed by actor ID.
type MemoryRoleStore struct {
	mu    sync.Mutex
	roles map[string][]domainauth.Role
	// Err, when set, is returned by every call.
	Err error
	// Audit receives the entry of every ApplyChange. When it fails the roles are left unchanged.
	Audit ports.ActivityLog
}

// NewMemoryRoleStore creates a store seeded with roles.
func NewMemoryRoleStore(roles map[string][]domainauth.Role) *MemoryRoleStore {
	if roles == nil {
		roles = make(map[string][]domainauth.Role)
	}
	return &MemoryRoleStore{roles: roles}
}

func (m *MemoryRoleStore) LookupRoles(_ context.Context, actorID string) ([]domainauth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]domainauth.Role(nil), m.roles[actorID]...), nil
}

func (m *MemoryRoleStore) ReplaceRoles(_ context.Context, actorID string, roles []domainauth.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.roles[actorID] = append([]domainauth.Role(nil), roles...)
	return nil
}

func (m *MemoryRoleStore) ApplyChange(ctx context.Context, change ports.RoleChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if change.OnlyIfNoAdmin {
		for _, roles := range m.roles {
			if slices.Contains(roles, domainauth.RoleAdmin) {
				return ports.ErrAdminExists
			}
		}
	}
	if m.Audit != nil {
		if err := m.Audit.Record(ctx, change.Audit); err != nil {
			return fmt.Errorf("record activity: %w", err)
		}
	}
	m.roles[change.ActorID] = append([]domainauth.Role(nil), change.Roles...)
	return nil
}

func (m *MemoryRoleStore) ListAssignments(_ context.Context) (map[string][]domainauth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string][]domainauth.Role, len(m.roles))
	for id, roles := range m.roles {
		out[id] = append([]domainauth.Role(nil), roles...)
	}
	return out, nil
}

// MemoryActivityLog records entries in memory.
type MemoryActivityLog struct {
	mu      sync.Mutex
	entries []ports.ActivityEntry
	// Err, when set, is returned by Record.
	Err error
}

func (m *MemoryActivityLog) Record(_ context.Context, entry ports.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryActivityLog) Recent(_ context.Context, limit int) ([]ports.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]ports.ActivityRecord, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ports.ActivityRecord{
			ActivityEntry: m.entries[i],
			ID:            fmt.Sprintf("log-%d", i+1),
		})
	}
	return out, nil
}

// Entries returns the recorded entries.
func (m *MemoryActivityLog) Entries() []ports.ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ActivityEntry(nil), m.entries...)
}
