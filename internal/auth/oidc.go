package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/foxzi/hookdesk/internal/config"
)

const stateTTL = 10 * time.Minute

var ErrInvalidState = errors.New("invalid state")

// OIDCProvider handles OIDC authentication
type OIDCProvider struct {
	config   *config.OIDCConfig
	oauth2   oauth2.Config
	verifier *oidc.IDTokenVerifier

	mu     sync.Mutex
	states map[string]time.Time // state -> issued at
}

// UserInfo represents user information from OIDC
type UserInfo struct {
	Email  string
	Name   string
	Groups []string
}

// NewOIDCProvider discovers the issuer. It returns nil when OIDC is disabled.
func NewOIDCProvider(ctx context.Context, cfg *config.OIDCConfig) (*OIDCProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &OIDCProvider{
		config: cfg,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		states:   make(map[string]time.Time),
	}, nil
}

// AuthCodeURL generates the authorization URL with a fresh single-use state
func (p *OIDCProvider) AuthCodeURL() (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.pruneStates(time.Now())
	p.states[state] = time.Now()
	p.mu.Unlock()

	return p.oauth2.AuthCodeURL(state), nil
}

// consumeState reports whether state was issued and is still fresh, and
// forgets it either way.
func (p *OIDCProvider) consumeState(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	issued, ok := p.states[state]
	delete(p.states, state)
	return ok && time.Since(issued) < stateTTL
}

func (p *OIDCProvider) pruneStates(now time.Time) {
	for s, issued := range p.states {
		if now.Sub(issued) >= stateTTL {
			delete(p.states, s)
		}
	}
}

// Exchange exchanges the authorization code for tokens and user info
func (p *OIDCProvider) Exchange(ctx context.Context, state, code string) (*UserInfo, error) {
	if !p.consumeState(state) {
		return nil, ErrInvalidState
	}

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}

	var claims struct {
		Email  string   `json:"email"`
		Name   string   `json:"name"`
		Groups []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	if claims.Email == "" {
		return nil, fmt.Errorf("id_token has no email claim")
	}

	if !groupAllowed(p.config.AllowedGroups, claims.Groups) {
		return nil, fmt.Errorf("user not in allowed groups")
	}

	return &UserInfo{
		Email:  claims.Email,
		Name:   claims.Name,
		Groups: claims.Groups,
	}, nil
}

func groupAllowed(allowed, groups []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, g := range groups {
		if slices.Contains(allowed, g) {
			return true
		}
	}
	return false
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
