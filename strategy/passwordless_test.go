package strategy

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/sessionkit/sessionkit/store"
)

// captureSender records deliveries so tests can read the code and link the
// user would have received.
type captureSender struct {
	mu         sync.Mutex
	deliveries []Delivery
	fail       error
}

func (s *captureSender) Send(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *captureSender) last(t *testing.T) Delivery {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deliveries) == 0 {
		t.Fatal("no delivery captured")
	}
	return s.deliveries[len(s.deliveries)-1]
}

func newPasswordless(t *testing.T, cfg PasswordlessConfig) (*Passwordless, store.Store, *captureSender) {
	t.Helper()
	st := store.NewMemory()
	sender := &captureSender{}
	p, err := NewPasswordless(st, NewMemoryCodes(), sender, cfg)
	if err != nil {
		t.Fatalf("NewPasswordless: %v", err)
	}
	return p, st, sender
}

func linkSecret(t *testing.T, rawURL string) (deviceID, secret string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse link %q: %v", rawURL, err)
	}
	return u.Query().Get("device"), u.Query().Get("secret")
}

func TestPasswordlessCodeSignInCreatesUser(t *testing.T) {
	ctx := context.Background()
	p, st, sender := newPasswordless(t, PasswordlessConfig{Flow: FlowCode})

	pending, err := p.Begin(ctx, Contact{Kind: ContactEmail, Value: "ada@example.com"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	code := sender.last(t).Code
	if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	userID, err := p.VerifyCode(ctx, pending.DeviceID, code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}

	rec, err := st.FindByID(ctx, userID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	method, ok := rec.Method(store.MethodPasswordless)
	if !ok || method.Identifier != "ada@example.com" {
		t.Fatalf("passwordless method not linked: %+v", rec)
	}
	if !method.Verified {
		t.Fatal("possession of the inbox must mark the method verified")
	}
}

func TestPasswordlessSecondSignInResolvesSameUser(t *testing.T) {
	ctx := context.Background()
	p, _, sender := newPasswordless(t, PasswordlessConfig{Flow: FlowCode})

	contact := Contact{Kind: ContactEmail, Value: "ada@example.com"}

	first, err := p.Begin(ctx, contact)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	firstUser, err := p.VerifyCode(ctx, first.DeviceID, sender.last(t).Code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}

	second, err := p.Begin(ctx, contact)
	if err != nil {
		t.Fatalf("Begin again: %v", err)
	}
	secondUser, err := p.VerifyCode(ctx, second.DeviceID, sender.last(t).Code)
	if err != nil {
		t.Fatalf("VerifyCode again: %v", err)
	}

	if firstUser != secondUser {
		t.Fatalf("same contact must resolve to one user: %s vs %s", firstUser, secondUser)
	}
}

func TestPasswordlessMagicLink(t *testing.T) {
	ctx := context.Background()
	p, _, sender := newPasswordless(t, PasswordlessConfig{
		Flow:     FlowLink,
		LinkBase: "https://example.com/auth/verify",
	})

	if _, err := p.Begin(ctx, Contact{Kind: ContactEmail, Value: "ada@example.com"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	d := sender.last(t)
	if d.Code != "" {
		t.Fatal("link-only flow must not deliver a code")
	}
	deviceID, secret := linkSecret(t, d.LinkURL)

	if _, err := p.VerifyLink(ctx, deviceID, secret); err != nil {
		t.Fatalf("VerifyLink: %v", err)
	}
	if _, err := p.VerifyLink(ctx, deviceID, secret); !errors.Is(err, ErrCodeConsumed) {
		t.Fatalf("replayed link must fail with ErrCodeConsumed, got %v", err)
	}
}

func TestPasswordlessCodeAndLinkEitherRedeems(t *testing.T) {
	ctx := context.Background()
	p, _, sender := newPasswordless(t, PasswordlessConfig{
		Flow:     FlowCodeAndLink,
		LinkBase: "https://example.com/auth/verify",
	})

	pending, err := p.Begin(ctx, Contact{Kind: ContactEmail, Value: "ada@example.com"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	d := sender.last(t)
	if d.Code == "" || d.LinkURL == "" {
		t.Fatalf("combined flow must deliver both, got %+v", d)
	}

	// Redeem by code; the link of the same challenge is then dead.
	if _, err := p.VerifyCode(ctx, pending.DeviceID, d.Code); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	deviceID, secret := linkSecret(t, d.LinkURL)
	if _, err := p.VerifyLink(ctx, deviceID, secret); !errors.Is(err, ErrCodeConsumed) {
		t.Fatalf("expected ErrCodeConsumed, got %v", err)
	}
}

func TestPasswordlessWrongGuessesExhaustBudget(t *testing.T) {
	ctx := context.Background()
	p, _, sender := newPasswordless(t, PasswordlessConfig{Flow: FlowCode, MaxGuesses: 3})

	pending, err := p.Begin(ctx, Contact{Kind: ContactEmail, Value: "ada@example.com"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := p.VerifyCode(ctx, pending.DeviceID, "000000"); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("guess %d: expected ErrCodeMismatch, got %v", i+1, err)
		}
	}
	// Third wrong guess kills the challenge.
	if _, err := p.VerifyCode(ctx, pending.DeviceID, "000000"); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired on budget exhaustion, got %v", err)
	}
	// Even the right code is dead now.
	if _, err := p.VerifyCode(ctx, pending.DeviceID, sender.last(t).Code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired after kill, got %v", err)
	}
}

func TestPasswordlessUnknownDevice(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPasswordless(t, PasswordlessConfig{Flow: FlowCode})

	if _, err := p.VerifyCode(ctx, "no-such-device", "123456"); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
}

func TestPasswordlessSendFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	codes := NewMemoryCodes()
	sender := &captureSender{fail: errors.New("smtp down")}

	p, err := NewPasswordless(st, codes, sender, PasswordlessConfig{Flow: FlowCode})
	if err != nil {
		t.Fatalf("NewPasswordless: %v", err)
	}

	if _, err := p.Begin(ctx, Contact{Kind: ContactEmail, Value: "ada@example.com"}); err == nil {
		t.Fatal("expected sender failure to surface")
	}
}

func TestPasswordlessFlowGating(t *testing.T) {
	ctx := context.Background()

	codeOnly, _, _ := newPasswordless(t, PasswordlessConfig{Flow: FlowCode})
	if _, err := codeOnly.VerifyLink(ctx, "d", "s"); err == nil {
		t.Fatal("link redemption must be rejected in code-only flow")
	}

	linkOnly, _, _ := newPasswordless(t, PasswordlessConfig{Flow: FlowLink, LinkBase: "https://example.com/v"})
	if _, err := linkOnly.VerifyCode(ctx, "d", "123456"); err == nil {
		t.Fatal("code entry must be rejected in link-only flow")
	}
}

func TestPasswordlessRejectsVerificationChallenge(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	codes := NewMemoryCodes()
	sender := &captureSender{}

	p, err := NewPasswordless(st, codes, sender, PasswordlessConfig{
		Flow:     FlowLink,
		LinkBase: "https://example.com/auth/verify",
	})
	if err != nil {
		t.Fatalf("NewPasswordless: %v", err)
	}
	v, err := NewVerification(st, codes, sender, VerificationConfig{
		LinkBase: "https://example.com/auth/verify-email",
	})
	if err != nil {
		t.Fatalf("NewVerification: %v", err)
	}

	rec, err := st.CreateUser(ctx, []store.LoginMethod{{
		Kind:       store.MethodPassword,
		Identifier: "ada@example.com",
	}})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := v.Send(ctx, rec.UserID, "ada@example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// A verification link redeemed at the sign-in path must not mint a
	// session or an account.
	deviceID, secret := linkSecret(t, sender.last(t).LinkURL)
	if _, err := p.VerifyLink(ctx, deviceID, secret); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
	if _, err := st.FindByMethod(ctx, store.MethodPasswordless, "ada@example.com"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("sign-in path must not create a passwordless method: %v", err)
	}

	// The challenge is still intact for its real purpose.
	if _, err := v.Verify(ctx, deviceID, secret); err != nil {
		t.Fatalf("Verify after misdirected redeem: %v", err)
	}
}
