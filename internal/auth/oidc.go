package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/store"
)

const stateTTL = 10 * time.Minute

var (
	// ErrInvalidState is returned when the callback state is unknown, reused or expired.
	ErrInvalidState = errors.New("invalid or expired state")
	// ErrMissingEmail is returned when the provider does not disclose a verified email.
	ErrMissingEmail = errors.New("identity provider did not return an email")
)

// Identity is the subset of an ID token mirrored into a local account.
type Identity struct {
	Issuer        string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// OIDCProvider drives the authorization code flow against an OpenID Connect provider.
type OIDCProvider struct {
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
	issuer   string

	mu     sync.Mutex
	states map[string]time.Time
}

// NewOIDCProvider performs provider discovery and prepares the OAuth2 client.
func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	return &OIDCProvider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		issuer:   cfg.Issuer,
		states:   make(map[string]time.Time),
	}, nil
}

// AuthCodeURL returns the provider login URL along with a fresh single-use state.
func (p *OIDCProvider) AuthCodeURL() (url, state string) {
	state = uuid.NewString()
	now := time.Now()

	p.mu.Lock()
	for s, exp := range p.states {
		if now.After(exp) {
			delete(p.states, s)
		}
	}
	p.states[state] = now.Add(stateTTL)
	p.mu.Unlock()

	return p.oauth.AuthCodeURL(state), state
}

func (p *OIDCProvider) consumeState(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	exp, ok := p.states[state]
	if !ok {
		return false
	}
	delete(p.states, state)
	return time.Now().Before(exp)
}

// Exchange validates state, redeems the code and verifies the returned ID token.
func (p *OIDCProvider) Exchange(ctx context.Context, state, code string) (*Identity, error) {
	if !p.consumeState(state) {
		return nil, ErrInvalidState
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("token response has no id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}

	return &Identity{
		Issuer:        idToken.Issuer,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

// SignInWithIdentity mirrors an external identity into a local account, creating it on
// first sign-in, and returns a JWT for it.
func (s *Service) SignInWithIdentity(ctx context.Context, id *Identity) (string, error) {
	user, err := s.store.GetUserByOIDC(ctx, id.Issuer, id.Subject)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("get user: %w", err)
	}

	if user == nil {
		user, err = s.createIdentityUser(ctx, id)
		if err != nil {
			return "", err
		}
		s.log.Info().Int64("user_id", user.ID).Str("issuer", id.Issuer).Msg("account created from identity provider")
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

func (s *Service) createIdentityUser(ctx context.Context, id *Identity) (*store.User, error) {
	email, err := normalizeEmail(id.Email)
	if err != nil {
		return nil, ErrMissingEmail
	}
	local := email[:strings.LastIndexByte(email, '@')]

	displayName := strings.TrimSpace(id.Name)
	if displayName == "" {
		displayName = local
	}

	base := UsernameFromEmail(email)
	const attempts = 5
	for i := range attempts {
		username := base
		if i > 0 {
			suffix := fmt.Sprintf("-%04d", rand.IntN(10000))
			if len(username)+len(suffix) > maxUsernameLen {
				username = username[:maxUsernameLen-len(suffix)]
			}
			username += suffix
		}

		user, err := s.store.CreateUser(ctx, &store.NewUser{
			Email:       email,
			Username:    username,
			OIDCIssuer:  id.Issuer,
			OIDCSubject: id.Subject,
			DisplayName: displayName,
		})
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// The email itself may be taken by a password account.
		if _, lookupErr := s.store.GetUserByEmail(ctx, email); lookupErr == nil {
			return nil, ErrUserExists
		}
	}
	return nil, fmt.Errorf("could not allocate a username for %s", email)
}

// UsernameFromEmail derives a valid username from the local part of an email address.
func UsernameFromEmail(email string) string {
	local := email
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
		if b.Len() == maxUsernameLen {
			break
		}
	}

	username := b.String()
	for len(username) < minUsernameLen {
		username += "_"
	}
	return username
}
