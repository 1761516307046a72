package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	apperrors "github.com/puppy-social/puppy/internal/errors"
	"github.com/puppy-social/puppy/internal/ports"
)

const (
	minPasswordLength = 6
	minUsernameLength = 3
)

// ErrInvalidCredentials is returned when an email/password pair does not match.
var ErrInvalidCredentials = apperrors.Unauthorized("invalid email or password")

var tracer = otel.Tracer("github.com/puppy-social/puppy/internal/service")

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Users    ports.UserStore
	Sessions ports.SessionStore
	Tokens   *TokenIssuer
	// Feed carries events to and from other processes. Optional.
	Feed   ports.ChangeFeed
	Logger *slog.Logger
	// Origin identifies this process on the feed. Defaults to a random ID.
	Origin string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

// AuthService is the authentication backend of this client. It signs actors in and out,
// persists the current session, and notifies listeners of every change.
type AuthService struct {
	users    ports.UserStore
	sessions ports.SessionStore
	tokens   *TokenIssuer
	feed     ports.ChangeFeed
	logger   *slog.Logger
	origin   string
	cost     int
	now      func() time.Time

	mu        sync.Mutex
	listeners map[uint64]ports.SessionListener
	nextID    uint64
}

var _ ports.AuthService = (*AuthService)(nil)

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	if opts.Users == nil {
		return nil, errors.New("Users is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("Sessions is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("Tokens is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origin := opts.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &AuthService{
		users:     opts.Users,
		sessions:  opts.Sessions,
		tokens:    opts.Tokens,
		feed:      opts.Feed,
		logger:    logger.With("component", "auth_service"),
		origin:    origin,
		cost:      cost,
		now:       now,
		listeners: make(map[uint64]ports.SessionListener),
	}, nil
}

// Origin returns the identifier this process stamps on published events.
func (s *AuthService) Origin() string { return s.origin }

// SignUpInput groups parameters for SignUp.
type SignUpInput struct {
	Email       string
	Password    string
	Username    string
	DisplayName string
}

func (in *SignUpInput) normalize() error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	if _, err := mail.ParseAddress(in.Email); err != nil || in.Email == "" {
		return apperrors.ValidationField("email", "A valid email address is required.")
	}
	if len(in.Password) < minPasswordLength {
		return apperrors.ValidationField("password", fmt.Sprintf("Password must be at least %d characters.", minPasswordLength))
	}
	if len(in.Username) < minUsernameLength {
		return apperrors.ValidationField("username", fmt.Sprintf("Username must be at least %d characters.", minUsernameLength))
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Username
	}
	return nil
}

// SignUp registers a new actor with the default role and signs them in.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*domainauth.Session, error) {
	ctx, span := tracer.Start(ctx, "auth.SignUp")
	defer span.End()

	if err := in.normalize(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("hash password: %w", err))
	}

	actor := domainauth.Actor{
		ID:          uuid.NewString(),
		Email:       in.Email,
		Username:    in.Username,
		DisplayName: in.DisplayName,
	}
	if err := s.register(ctx, actor, hash); err != nil {
		return nil, endSpan(span, err)
	}

	sess, err := s.signIn(ctx, actor)
	return sess, endSpan(span, err)
}

// SignInWithPassword verifies credentials and starts a session.
func (s *AuthService) SignInWithPassword(ctx context.Context, email, password string) (*domainauth.Session, error) {
	ctx, span := tracer.Start(ctx, "auth.SignInWithPassword")
	defer span.End()

	creds, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, endSpan(span, fmt.Errorf("find user: %w", err))
	}
	if len(creds.PasswordHash) == 0 {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sess, err := s.signIn(ctx, creds.Actor)
	return sess, endSpan(span, err)
}

// SignInWithIdentity starts a session for an identity asserted by an SSO provider,
// registering the actor on first sign-in.
func (s *AuthService) SignInWithIdentity(ctx context.Context, id domainauth.Identity) (*domainauth.Session, error) {
	ctx, span := tracer.Start(ctx, "auth.SignInWithIdentity")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" {
		return nil, apperrors.ValidationField("email", "identity has no email")
	}

	creds, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
	case apperrors.IsNotFound(err):
		name := id.DisplayName
		if name == "" {
			name = email
		}
		actorID := uuid.NewString()
		creds.Actor = domainauth.Actor{
			ID:          actorID,
			Email:       email,
			Username:    ssoUsername(email, actorID),
			DisplayName: name,
		}
		if err := s.register(ctx, creds.Actor, nil); err != nil {
			return nil, endSpan(span, err)
		}
	default:
		return nil, endSpan(span, fmt.Errorf("find user: %w", err))
	}

	sess, err := s.signIn(ctx, creds.Actor)
	return sess, endSpan(span, err)
}

func (s *AuthService) register(ctx context.Context, actor domainauth.Actor, hash []byte) error {
	if err := s.users.Create(ctx, actor, hash, []domainauth.Role{domainauth.RoleUser}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "user registered", "actor_id", actor.ID)
	return nil
}

func (s *AuthService) signIn(ctx context.Context, actor domainauth.Actor) (*domainauth.Session, error) {
	sess := domainauth.Session{ID: uuid.NewString(), Actor: actor}
	token, exp, err := s.tokens.Issue(actor.ID, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Token = token
	sess.ExpiresAt = exp

	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.emit(ctx, domainauth.SessionEvent{Kind: domainauth.EventSignedIn, Session: &sess})
	s.logger.InfoContext(ctx, "signed in", "actor_id", actor.ID, "session_id", sess.ID)
	return &sess, nil
}

// FetchCurrentSession returns the persisted session, or nil when there is none.
// A session whose token no longer verifies is cleared and reported as absent.
func (s *AuthService) FetchCurrentSession(ctx context.Context) (*domainauth.Session, error) {
	ctx, span := tracer.Start(ctx, "auth.FetchCurrentSession")
	defer span.End()

	sess, err := s.sessions.Current(ctx)
	if errors.Is(err, domainauth.ErrNoSession) {
		span.SetAttributes(attribute.Bool("session.present", false))
		return nil, nil
	}
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("load session: %w", err))
	}

	if verr := s.validate(sess); verr != nil {
		s.logger.InfoContext(ctx, "discarding persisted session", "session_id", sess.ID, "reason", verr.Error())
		if err := s.sessions.Clear(ctx); err != nil {
			return nil, endSpan(span, fmt.Errorf("clear session: %w", err))
		}
		span.SetAttributes(attribute.Bool("session.present", false))
		return nil, nil
	}

	span.SetAttributes(attribute.Bool("session.present", true), attribute.String("actor.id", sess.Actor.ID))
	return &sess, nil
}

func (s *AuthService) validate(sess domainauth.Session) error {
	claims, err := s.tokens.Verify(sess.Token)
	if err != nil {
		return err
	}
	if claims.Subject != sess.Actor.ID || claims.SessionID != sess.ID {
		return errors.New("token does not match session")
	}
	return nil
}

// Refresh re-issues the current session's token and extends its expiry.
func (s *AuthService) Refresh(ctx context.Context) (*domainauth.Session, error) {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	sess, err := s.FetchCurrentSession(ctx)
	if err != nil {
		return nil, endSpan(span, err)
	}
	if sess == nil {
		return nil, domainauth.ErrNoSession
	}

	token, exp, err := s.tokens.Issue(sess.Actor.ID, sess.ID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	sess.Token = token
	sess.ExpiresAt = exp
	if err := s.sessions.Save(ctx, *sess); err != nil {
		return nil, endSpan(span, fmt.Errorf("save session: %w", err))
	}

	s.emit(ctx, domainauth.SessionEvent{Kind: domainauth.EventTokenRefreshed, Session: sess})
	return sess, nil
}

// RefreshIfDue refreshes the session when it expires within window.
// It reports whether a refresh happened.
func (s *AuthService) RefreshIfDue(ctx context.Context, window time.Duration) (bool, error) {
	sess, err := s.sessions.Current(ctx)
	if errors.Is(err, domainauth.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess.ExpiresAt.Sub(s.now()) > window {
		return false, nil
	}

	refreshed, err := s.Refresh(ctx)
	if errors.Is(err, domainauth.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return refreshed != nil, nil
}

// SignOut clears the persisted session. Listeners observe SIGNED_OUT before it returns.
func (s *AuthService) SignOut(ctx context.Context) error {
	prev, err := s.sessions.Current(ctx)
	if err != nil && !errors.Is(err, domainauth.ErrNoSession) {
		s.logger.WarnContext(ctx, "could not read session before sign-out", "error", err)
	}
	if err := s.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.emit(ctx, domainauth.SessionEvent{Kind: domainauth.EventSignedOut, ActorID: prev.Actor.ID})
	if prev.ID != "" {
		s.logger.InfoContext(ctx, "signed out", "actor_id", prev.Actor.ID, "session_id", prev.ID)
	}
	return nil
}

// NotifyRolesChanged tells every listener that actorID's roles changed.
func (s *AuthService) NotifyRolesChanged(ctx context.Context, actorID string) error {
	if actorID == "" {
		return errors.New("actor ID is required")
	}
	s.emit(ctx, domainauth.SessionEvent{Kind: domainauth.EventUserUpdated, ActorID: actorID})
	return nil
}

// SubscribeToSessionChanges registers fn for local and remote session events.
// Local events are delivered synchronously on the goroutine that caused them.
func (s *AuthService) SubscribeToSessionChanges(fn ports.SessionListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

// ListenRemote forwards events published by other processes to local listeners.
// Events this process published are skipped; they were already delivered locally.
func (s *AuthService) ListenRemote(ctx context.Context) (func(), error) {
	if s.feed == nil {
		return func() {}, nil
	}
	return s.feed.Subscribe(ctx, func(ev domainauth.SessionEvent) {
		if ev.Origin == s.origin {
			return
		}
		s.logger.DebugContext(ctx, "remote session event", "kind", ev.Kind, "origin", ev.Origin)
		s.deliver(ev)
	})
}

func (s *AuthService) emit(ctx context.Context, ev domainauth.SessionEvent) {
	ev.Origin = s.origin
	ev.At = s.now().UTC()
	s.deliver(ev)

	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "publish session event failed", "kind", ev.Kind, "error", err)
	}
}

func (s *AuthService) deliver(ev domainauth.SessionEvent) {
	s.mu.Lock()
	fns := make([]ports.SessionListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// ssoUsername derives a unique username for an actor registered through SSO.
func ssoUsername(email, actorID string) string {
	local, _, _ := strings.Cut(email, "@")
	return local + "-" + actorID[:8]
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
