package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/sessionkit/sessionkit/store"
)

// Provider describes one OAuth provider. ClientSecret must come from the
// environment or a secret store, never from literal configuration.
type Provider struct {
	ID           string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	// RequireVerifiedEmail rejects sign-ins whose provider account has an
	// unverified email, and gates linking by email on the same flag.
	RequireVerifiedEmail bool
}

// Claims is the subset of the provider's userinfo response the strategy
// consumes.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// ThirdParty exchanges OAuth authorization codes for identities. One
// instance serves all configured providers.
type ThirdParty struct {
	store     store.Store
	providers map[string]Provider
	client    *http.Client
}

// NewThirdParty builds the strategy from the provider set.
func NewThirdParty(st store.Store, providers []Provider) (*ThirdParty, error) {
	if st == nil {
		return nil, errors.New("thirdparty strategy requires a store")
	}
	byID := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p.ID == "" || p.ClientID == "" || p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
			return nil, fmt.Errorf("provider %q is missing required fields", p.ID)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.ID)
		}
		byID[p.ID] = p
	}
	return &ThirdParty{
		store:     st,
		providers: byID,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *ThirdParty) oauthConfig(p Provider, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: p.AuthURL, TokenURL: p.TokenURL},
		RedirectURL:  redirectURL,
		Scopes:       p.Scopes,
	}
}

// AuthURL returns the provider's authorization URL for the given state.
// State generation and validation stay with the caller.
func (t *ThirdParty) AuthURL(providerID, redirectURL, state string) (string, error) {
	p, ok := t.providers[providerID]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", providerID)
	}
	return t.oauthConfig(p, redirectURL).AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Verify exchanges the authorization code, fetches the provider's claims,
// and resolves them to a local user id. Identity within the store is
// "provider|subject"; a new account links to an existing one when the
// provider vouches for the same verified email.
func (t *ThirdParty) Verify(ctx context.Context, providerID, redirectURL, code string) (string, error) {
	p, ok := t.providers[providerID]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", providerID)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	token, err := t.oauthConfig(p, redirectURL).Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: exchange: %v", ErrProviderError, err)
	}

	claims, err := t.fetchClaims(ctx, p, token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrProviderError)
	}
	if p.RequireVerifiedEmail && !claims.EmailVerified {
		return "", ErrEmailNotVerified
	}

	return t.resolveUser(ctx, p, claims)
}

func (t *ThirdParty) fetchClaims(ctx context.Context, p Provider, token *oauth2.Token) (*Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrProviderError, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo read: %v", ErrProviderError, err)
	}

	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: userinfo decode: %v", ErrProviderError, err)
	}
	return &claims, nil
}

func (t *ThirdParty) resolveUser(ctx context.Context, p Provider, claims *Claims) (string, error) {
	identifier := p.ID + "|" + claims.Subject

	rec, err := t.store.FindByMethod(ctx, store.MethodThirdParty, identifier)
	if err == nil {
		return rec.UserID, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return "", err
	}

	method := store.LoginMethod{
		Kind:       store.MethodThirdParty,
		Identifier: identifier,
		Verified:   claims.EmailVerified,
	}

	// Link to an existing account that owns the same verified email before
	// minting a new user. Unverified provider emails never link: that would
	// let anyone claim an address at a sloppy provider and take over the
	// account here.
	if claims.Email != "" && claims.EmailVerified {
		for _, kind := range []store.MethodKind{store.MethodPassword, store.MethodPasswordless} {
			existing, ferr := t.store.FindByMethod(ctx, kind, claims.Email)
			if errors.Is(ferr, store.ErrUserNotFound) {
				continue
			}
			if ferr != nil {
				return "", ferr
			}
			if err := t.store.AddMethod(ctx, existing.UserID, method); err != nil {
				return "", err
			}
			return existing.UserID, nil
		}
	}

	rec, err = t.store.CreateUser(ctx, []store.LoginMethod{method})
	if errors.Is(err, store.ErrDuplicateIdentifier) {
		rec, err = t.store.FindByMethod(ctx, store.MethodThirdParty, identifier)
	}
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}
