// Package auth owns the client session: it restores persisted credentials,
// logs in, refreshes the access token before it expires and tears the session
// down when a refresh fails.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/alphabot-ai/threadline/internal/model"
	"github.com/alphabot-ai/threadline/internal/store"
	"github.com/alphabot-ai/threadline/internal/token"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is how long before expiry an access token is treated
// as already expired.
const DefaultRefreshBuffer = 60 * time.Second

// Transport performs the network calls the manager depends on.
type Transport interface {
	ObtainTokens(ctx context.Context, creds model.Credentials) (model.TokenPair, error)
	RefreshTokens(ctx context.Context, refreshToken string) (model.TokenPair, error)
	CurrentUser(ctx context.Context, accessToken string) (model.User, error)
	Register(ctx context.Context, reg model.Registration) (model.User, error)
}

type Status int

const (
	StatusUnauthenticated Status = iota
	StatusAuthenticated
	StatusRefreshing
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusRefreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Session is a point-in-time copy of the manager state.
type Session struct {
	User   *model.User
	Tokens *model.TokenPair
	Status Status
}

type Manager struct {
	transport     Transport
	store         store.CredentialStore
	refreshBuffer time.Duration
	now           func() time.Time

	// opMu serializes operations that mutate the session, so each one runs
	// to completion before the next observes state.
	opMu sync.Mutex

	mu         sync.RWMutex
	user       *model.User
	access     string
	refresh    string
	refreshing bool

	flight singleflight.Group

	hooksMu     sync.Mutex
	logoutHooks []func()
}

func New(transport Transport, st store.CredentialStore, refreshBuffer time.Duration) *Manager {
	if refreshBuffer <= 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	return &Manager{
		transport:     transport,
		store:         st,
		refreshBuffer: refreshBuffer,
		now:           time.Now,
	}
}

// OnLogout registers fn to run after every logout, including the one forced
// by a failed refresh.
func (m *Manager) OnLogout(fn func()) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.logoutHooks = append(m.logoutHooks, fn)
}

func (m *Manager) User() *model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil && m.access != ""
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Session{Status: m.statusLocked()}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	if m.access != "" {
		s.Tokens = &model.TokenPair{Access: m.access, Refresh: m.refresh}
	}
	return s
}

func (m *Manager) statusLocked() Status {
	switch {
	case m.refreshing:
		return StatusRefreshing
	case m.user != nil && m.access != "":
		return StatusAuthenticated
	default:
		return StatusUnauthenticated
	}
}

// Initialize restores the session persisted by a previous run. It never
// fails: any problem leaves the manager logged out.
func (m *Manager) Initialize(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	access, err := m.store.GetAccessToken(ctx)
	if err != nil {
		logStoreMiss("access token", err)
		return
	}
	refresh, err := m.store.GetRefreshToken(ctx)
	if err != nil {
		logStoreMiss("refresh token", err)
		return
	}
	if access == "" || refresh == "" {
		return
	}
	var cached *model.User
	if u, err := m.store.GetUser(ctx); err == nil {
		cached = &u
	} else {
		logStoreMiss("user", err)
	}

	if token.ExpiresWithin(access, m.now(), 0) {
		if err := m.refreshLocked(ctx, refresh); err != nil {
			log.Printf("[auth] failed to initialize auth: %v", err)
			return
		}
	} else {
		m.mu.Lock()
		m.access = access
		m.refresh = refresh
		m.user = cached
		m.mu.Unlock()
	}

	current := m.AccessToken()
	fresh, err := m.transport.CurrentUser(ctx, current)
	if err != nil {
		if m.User() == nil {
			log.Printf("[auth] no cached profile and refetch failed, logging out: %v", err)
			m.logoutLocked(ctx)
			return
		}
		log.Printf("[auth] failed to refresh user data, keeping cached profile: %v", err)
		return
	}
	m.mu.Lock()
	m.user = &fresh
	m.mu.Unlock()
	if err := m.store.SetUser(ctx, fresh); err != nil {
		log.Printf("[auth] persist refreshed profile: %v", err)
	}
}

// Login exchanges credentials for tokens and loads the profile. Nothing is
// committed unless a usable profile was obtained.
func (m *Manager) Login(ctx context.Context, creds model.Credentials) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	_, err := m.loginLocked(ctx, creds, nil)
	return err
}

// Register creates an account and logs into it. The created user is returned
// even when the login half fails; that failure matches
// ErrLoginAfterRegistration.
func (m *Manager) Register(ctx context.Context, reg model.Registration) (model.User, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	created, err := m.transport.Register(ctx, reg)
	if err != nil {
		return model.User{}, fmt.Errorf("register: %w", err)
	}

	creds := model.Credentials{Username: reg.Username, Password: reg.Password}
	if _, err := m.loginLocked(ctx, creds, &created); err != nil {
		return created, fmt.Errorf("%w: %w", ErrLoginAfterRegistration, err)
	}
	log.Printf("[auth] registration successful for %s", created.Username)
	return created, nil
}

func (m *Manager) loginLocked(ctx context.Context, creds model.Credentials, fallback *model.User) (model.User, error) {
	if creds.Username == "" || creds.Password == "" {
		return model.User{}, ErrInvalidCredentials
	}

	pair, err := m.transport.ObtainTokens(ctx, creds)
	if err != nil {
		switch httpStatus(err) {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return model.User{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return model.User{}, fmt.Errorf("obtain tokens: %w", err)
	}

	user, err := m.transport.CurrentUser(ctx, pair.Access)
	if err != nil {
		log.Printf("[auth] profile fetch after login failed, deriving from token: %v", err)
		user, err = profileFromToken(pair.Access, creds.Username, fallback)
		if err != nil {
			return model.User{}, err
		}
	}

	if err := m.persist(ctx, pair, user); err != nil {
		m.logoutLocked(ctx)
		return model.User{}, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.access = pair.Access
	m.refresh = pair.Refresh
	m.user = &user
	m.mu.Unlock()

	log.Printf("[auth] login successful for %s", user.Username)
	return user, nil
}

func profileFromToken(access, username string, fallback *model.User) (model.User, error) {
	if fallback != nil {
		return *fallback, nil
	}
	id, err := token.Subject(access)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %w", ErrNoSubject, err)
	}
	return model.User{ID: id, Username: username, Email: ""}, nil
}

func (m *Manager) persist(ctx context.Context, pair model.TokenPair, user model.User) error {
	if err := m.store.SetAccessToken(ctx, pair.Access); err != nil {
		return err
	}
	if err := m.store.SetRefreshToken(ctx, pair.Refresh); err != nil {
		return err
	}
	return m.store.SetUser(ctx, user)
}

// RefreshTokens mints a new access token from override, or from the session's
// refresh token when override is empty. A transport failure logs the session
// out before the error is returned.
func (m *Manager) RefreshTokens(ctx context.Context, override string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	return m.refreshLocked(ctx, override)
}

func (m *Manager) refreshLocked(ctx context.Context, override string) error {
	refresh := override
	if refresh == "" {
		refresh = m.RefreshToken()
	}
	if refresh == "" {
		return ErrNoRefreshToken
	}

	m.setRefreshing(true)
	defer m.setRefreshing(false)

	pair, err := m.transport.RefreshTokens(ctx, refresh)
	if err == nil && pair.Access == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err != nil {
		log.Printf("[auth] failed to refresh token: %v", err)
		m.logoutLocked(ctx)
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	rotated := pair.Refresh != ""
	if rotated {
		refresh = pair.Refresh
	}

	// Tokens are only committed together with a profile.
	user := m.User()
	if user == nil {
		user, err = m.profileAfterRefresh(ctx, pair.Access)
		if err != nil {
			log.Printf("[auth] no profile for refreshed session, logging out: %v", err)
			m.logoutLocked(ctx)
			return fmt.Errorf("%w: %w", ErrNoUser, err)
		}
	}

	m.mu.Lock()
	m.access = pair.Access
	m.refresh = refresh
	m.user = user
	m.mu.Unlock()

	if rotated {
		if err := m.store.SetRefreshToken(ctx, refresh); err != nil {
			log.Printf("[auth] persist rotated refresh token: %v", err)
		}
	}
	if err := m.store.SetAccessToken(ctx, pair.Access); err != nil {
		log.Printf("[auth] persist access token: %v", err)
	}

	log.Printf("[auth] token refreshed (rotated=%t)", rotated)
	return nil
}

// profileAfterRefresh finds a profile for a session refreshed without one
// loaded: the cached profile first, then the backend.
func (m *Manager) profileAfterRefresh(ctx context.Context, access string) (*model.User, error) {
	u, err := m.store.GetUser(ctx)
	if err == nil {
		return &u, nil
	}
	logStoreMiss("user", err)

	u, err = m.transport.CurrentUser(ctx, access)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetUser(ctx, u); err != nil {
		log.Printf("[auth] persist fetched profile: %v", err)
	}
	return &u, nil
}

func (m *Manager) setRefreshing(v bool) {
	m.mu.Lock()
	m.refreshing = v
	m.mu.Unlock()
}

// GetValidAccessToken returns an access token that is not about to expire,
// refreshing it first when needed. Concurrent callers share one refresh.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	stale := m.AccessToken()
	if stale == "" {
		return "", ErrNoAccessToken
	}
	if !token.ExpiresWithin(stale, m.now(), m.refreshBuffer) {
		return stale, nil
	}

	// The shared refresh must outlive any single caller's context.
	detached := context.WithoutCancel(ctx)
	ch := m.flight.DoChan("refresh", func() (any, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()

		current := m.AccessToken()
		if current == "" {
			return nil, ErrNoAccessToken
		}
		if current != stale && !token.ExpiresWithin(current, m.now(), m.refreshBuffer) {
			return nil, nil
		}
		return nil, m.refreshLocked(detached, "")
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	access := m.AccessToken()
	if access == "" {
		return "", ErrNoAccessToken
	}
	return access, nil
}

// Logout clears the session in memory and in the store. It is idempotent and
// never fails.
func (m *Manager) Logout(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.logoutLocked(ctx)
}

func (m *Manager) logoutLocked(ctx context.Context) {
	m.mu.Lock()
	m.user = nil
	m.access = ""
	m.refresh = ""
	m.mu.Unlock()

	if err := m.store.ClearAuth(context.WithoutCancel(ctx)); err != nil {
		log.Printf("[auth] clear credential store: %v", err)
	}

	m.hooksMu.Lock()
	hooks := append([]func(){}, m.logoutHooks...)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	log.Println("[auth] logout successful")
}

// UpdateUser merges the non-nil fields of patch into the loaded profile and
// persists the result. It never contacts the network.
func (m *Manager) UpdateUser(ctx context.Context, patch model.UserPatch) (model.User, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	current := m.User()
	if current == nil {
		return model.User{}, ErrNoUser
	}
	merged := *current
	if patch.Username != nil {
		merged.Username = *patch.Username
	}
	if patch.Email != nil {
		merged.Email = *patch.Email
	}

	if err := m.store.SetUser(ctx, merged); err != nil {
		return model.User{}, fmt.Errorf("persist user: %w", err)
	}
	m.mu.Lock()
	m.user = &merged
	m.mu.Unlock()
	return merged, nil
}

func logStoreMiss(what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	log.Printf("[auth] read persisted %s: %v", what, err)
}
