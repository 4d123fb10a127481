// Package session tracks the signed-in Supabase user and verifies Supabase
// access tokens.
package session

import (
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindlog/social_layer/internal/errors"
)

// Audience is the aud claim Supabase puts on user access tokens.
const Audience = "authenticated"

// Claims are the Supabase access token claims the service uses.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// Verifier validates HS256 access tokens signed with the project JWT secret.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier creates a Verifier. An empty audience disables the aud check.
func NewVerifier(secret, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), audience: audience}
}

// Parse validates token and returns its claims.
func (v *Verifier) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "empty token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.Subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return claims, nil
}

// UnverifiedSubject returns the subject of token without checking its
// signature. Use it only where the token is later presented to a server that
// verifies it, such as a realtime join.
func UnverifiedSubject(token string) (string, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return "", errors.InvalidToken(err)
	}
	if claims.Subject == "" {
		return "", errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return claims.Subject, nil
}

// Event is an auth state transition.
type Event int

const (
	SignedIn Event = iota
	SignedOut
	TokenRefreshed
)

func (e Event) String() string {
	switch e {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	case TokenRefreshed:
		return "token_refreshed"
	}
	return "unknown"
}

// Change is delivered to subscribers on every auth state transition.
type Change struct {
	Event       Event
	UserID      string
	AccessToken string
}

// Source reports the current user and notifies about changes.
type Source interface {
	// Current returns the signed-in user and token. userID is empty when
	// nobody is signed in.
	Current() (userID, accessToken string)
	// Subscribe registers fn for future changes. The returned function
	// removes the subscription.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// Manager is an in-process Source driven by explicit sign-in and sign-out.
type Manager struct {
	verifier *Verifier

	mu     sync.Mutex
	userID string
	token  string
	nextID int
	subs   map[int]func(Change)
}

var _ Source = (*Manager)(nil)

// NewManager creates a signed-out Manager. With a nil verifier tokens are
// accepted without validation and the user ID must be given explicitly.
func NewManager(verifier *Verifier) *Manager {
	return &Manager{verifier: verifier, subs: make(map[int]func(Change))}
}

func (m *Manager) Current() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.token
}

func (m *Manager) Subscribe(fn func(Change)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// SignIn validates token and makes its subject the current user. A token
// for the already signed-in user is reported as a refresh.
func (m *Manager) SignIn(token string) (*Claims, error) {
	if m.verifier == nil {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "no verifier configured")
	}
	claims, err := m.verifier.Parse(token)
	if err != nil {
		return nil, err
	}
	m.set(claims.UserID(), token)
	return claims, nil
}

// SignInAs sets the current user without token validation.
func (m *Manager) SignInAs(userID, token string) {
	m.set(userID, token)
}

func (m *Manager) set(userID, token string) {
	m.mu.Lock()
	event := SignedIn
	if m.userID == userID {
		event = TokenRefreshed
	}
	m.userID, m.token = userID, token
	subs := m.snapshot()
	m.mu.Unlock()

	notify(subs, Change{Event: event, UserID: userID, AccessToken: token})
}

// SignOut clears the current user.
func (m *Manager) SignOut() {
	m.mu.Lock()
	if m.userID == "" {
		m.mu.Unlock()
		return
	}
	m.userID, m.token = "", ""
	subs := m.snapshot()
	m.mu.Unlock()

	notify(subs, Change{Event: SignedOut})
}

func (m *Manager) snapshot() []func(Change) {
	out := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}
