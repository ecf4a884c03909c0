package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sessionkit/sessionkit/store"
)

// fakeProvider is an httptest OAuth provider: /token exchanges any code it
// was configured with, /userinfo serves the configured claims.
type fakeProvider struct {
	server    *httptest.Server
	validCode string
	claims    Claims
	token     string
}

func newFakeProvider(t *testing.T, claims Claims) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{validCode: "good-code", claims: claims, token: "provider-access-token"}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.Form.Get("code") != fp.validCode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fp.token,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fp.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fp.claims)
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) provider(id string, requireVerified bool) Provider {
	return Provider{
		ID:                   id,
		ClientID:             "client-id",
		ClientSecret:         "client-secret",
		AuthURL:              fp.server.URL + "/authorize",
		TokenURL:             fp.server.URL + "/token",
		UserInfoURL:          fp.server.URL + "/userinfo",
		Scopes:               []string{"email"},
		RequireVerifiedEmail: requireVerified,
	}
}

func TestThirdPartySignInCreatesUser(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(t, Claims{Subject: "g-123", Email: "ada@example.com", EmailVerified: true})

	st := store.NewMemory()
	tp, err := NewThirdParty(st, []Provider{fp.provider("google", true)})
	if err != nil {
		t.Fatalf("NewThirdParty: %v", err)
	}

	userID, err := tp.Verify(ctx, "google", "https://app.example.com/cb", "good-code")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	rec, err := st.FindByMethod(ctx, store.MethodThirdParty, "google|g-123")
	if err != nil {
		t.Fatalf("FindByMethod: %v", err)
	}
	if rec.UserID != userID {
		t.Fatalf("user id mismatch: %s vs %s", rec.UserID, userID)
	}

	// Second sign-in resolves the same user.
	again, err := tp.Verify(ctx, "google", "https://app.example.com/cb", "good-code")
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if again != userID {
		t.Fatalf("expected same user, got %s and %s", userID, again)
	}
}

func TestThirdPartyLinksByVerifiedEmail(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(t, Claims{Subject: "g-123", Email: "ada@example.com", EmailVerified: true})

	st := store.NewMemory()
	existing, err := st.CreateUser(ctx, []store.LoginMethod{{
		Kind:         store.MethodPassword,
		Identifier:   "ada@example.com",
		Verified:     true,
		PasswordHash: "$argon2id$stub",
	}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tp, err := NewThirdParty(st, []Provider{fp.provider("google", true)})
	if err != nil {
		t.Fatalf("NewThirdParty: %v", err)
	}

	userID, err := tp.Verify(ctx, "google", "https://app.example.com/cb", "good-code")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != existing.UserID {
		t.Fatalf("expected link to existing user %s, got %s", existing.UserID, userID)
	}

	rec, err := st.FindByID(ctx, existing.UserID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if _, ok := rec.Method(store.MethodThirdParty); !ok {
		t.Fatal("thirdparty method must be linked to the existing account")
	}
}

func TestThirdPartyUnverifiedEmailNeverLinks(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(t, Claims{Subject: "g-999", Email: "ada@example.com", EmailVerified: false})

	st := store.NewMemory()
	existing, err := st.CreateUser(ctx, []store.LoginMethod{{
		Kind:       store.MethodPassword,
		Identifier: "ada@example.com",
		Verified:   true,
	}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tp, err := NewThirdParty(st, []Provider{fp.provider("github", false)})
	if err != nil {
		t.Fatalf("NewThirdParty: %v", err)
	}

	userID, err := tp.Verify(ctx, "github", "https://app.example.com/cb", "good-code")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID == existing.UserID {
		t.Fatal("unverified provider email must not take over an existing account")
	}
}

func TestThirdPartyRequireVerifiedEmail(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(t, Claims{Subject: "g-123", Email: "ada@example.com", EmailVerified: false})

	tp, err := NewThirdParty(store.NewMemory(), []Provider{fp.provider("google", true)})
	if err != nil {
		t.Fatalf("NewThirdParty: %v", err)
	}

	if _, err := tp.Verify(ctx, "google", "https://app.example.com/cb", "good-code"); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}

func TestThirdPartyBadExchange(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(t, Claims{Subject: "g-123", Email: "ada@example.com", EmailVerified: true})

	tp, err := NewThirdParty(store.NewMemory(), []Provider{fp.provider("google", true)})
	if err != nil {
		t.Fatalf("NewThirdParty: %v", err)
	}

	_, err = tp.Verify(ctx, "google", "https://app.example.com/cb", "stolen-code")
	if !errors.Is(err, ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
	if !errors.Is(err, ErrInvalidProof) {
		t.Fatal("provider failures must wrap ErrInvalidProof")
	}

	if _, err := tp.Verify(ctx, "unknown", "https://app.example.com/cb", "good-code"); err == nil {
		t.Fatal("unknown provider must error")
	}
}

func TestThirdPartyAuthURL(t *testing.T) {
	fp := newFakeProvider(t, Claims{Subject: "g-123"})

	tp, err := NewThirdParty(store.NewMemory(), []Provider{fp.provider("google", true)})
	if err != nil {
		t.Fatalf("NewThirdParty: %v", err)
	}

	raw, err := tp.AuthURL("google", "https://app.example.com/cb", "state-xyz")
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if !strings.HasPrefix(raw, fp.server.URL+"/authorize") {
		t.Fatalf("auth url must target the provider, got %q", raw)
	}
	q := u.Query()
	if q.Get("state") != "state-xyz" || q.Get("client_id") != "client-id" {
		t.Fatalf("missing query params: %v", q)
	}
	if q.Get("redirect_uri") != "https://app.example.com/cb" {
		t.Fatalf("redirect_uri wrong: %q", q.Get("redirect_uri"))
	}
}
