package strategy

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sessionkit/sessionkit/internal"
	"github.com/sessionkit/sessionkit/store"
)

// FlowType selects what a passwordless challenge delivers.
type FlowType string

const (
	FlowCode        FlowType = "USER_INPUT_CODE"
	FlowLink        FlowType = "MAGIC_LINK"
	FlowCodeAndLink FlowType = "USER_INPUT_CODE_AND_MAGIC_LINK"
)

const purposeSignIn = "signin"

// Delivery is what the [Sender] forwards to the user. Code and LinkURL are
// populated according to the flow type; the empty one is not part of the
// flow.
type Delivery struct {
	Contact Contact
	Code    string
	LinkURL string
}

// Sender delivers one-time codes and magic links. Implementations own the
// transport (SMTP, SMS gateway, console in dev).
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// PasswordlessConfig tunes challenge issuance.
type PasswordlessConfig struct {
	Flow         FlowType
	CodeDigits   int
	ChallengeTTL time.Duration
	MaxGuesses   int
	// LinkBase is the magic-link URL prefix; the device id and secret are
	// appended as query parameters.
	LinkBase string
}

func (c *PasswordlessConfig) setDefaults() {
	if c.Flow == "" {
		c.Flow = FlowCodeAndLink
	}
	if c.CodeDigits == 0 {
		c.CodeDigits = 6
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 15 * time.Minute
	}
	if c.MaxGuesses == 0 {
		c.MaxGuesses = 5
	}
}

// PendingChallenge is Begin's receipt; DeviceID is the client's handle for
// the pending flow.
type PendingChallenge struct {
	DeviceID  string
	Flow      FlowType
	ExpiresAt time.Time
}

// Passwordless implements one-time-code and magic-link sign-in. A challenge
// is bound to a contact; redeeming it resolves or creates the user with a
// verified passwordless method, since possession of the inbox is the proof.
type Passwordless struct {
	store  store.Store
	codes  CodeStore
	sender Sender
	config PasswordlessConfig
	now    func() time.Time
}

// NewPasswordless binds the strategy to its stores and sender.
func NewPasswordless(st store.Store, codes CodeStore, sender Sender, cfg PasswordlessConfig) (*Passwordless, error) {
	if st == nil || codes == nil || sender == nil {
		return nil, errors.New("passwordless strategy requires a store, a code store, and a sender")
	}
	cfg.setDefaults()
	if cfg.Flow != FlowCode && cfg.Flow != FlowLink && cfg.Flow != FlowCodeAndLink {
		return nil, fmt.Errorf("unknown flow type %q", cfg.Flow)
	}
	return &Passwordless{store: st, codes: codes, sender: sender, config: cfg, now: time.Now}, nil
}

// Begin creates a challenge for the contact and hands the code and/or link
// to the sender. Re-invoking for the same contact creates an independent
// challenge with its own device id; old ones simply expire.
func (p *Passwordless) Begin(ctx context.Context, contact Contact) (*PendingChallenge, error) {
	if contact.Value == "" {
		return nil, errors.New("empty contact")
	}
	if contact.Kind != ContactEmail && contact.Kind != ContactPhone {
		return nil, fmt.Errorf("unknown contact kind %q", contact.Kind)
	}

	ch := &Challenge{
		DeviceID: uuid.NewString(),
		Purpose:  purposeSignIn,
		Contact:  contact,
	}
	delivery := Delivery{Contact: contact}

	if p.config.Flow == FlowCode || p.config.Flow == FlowCodeAndLink {
		code, err := internal.NewOTP(p.config.CodeDigits)
		if err != nil {
			return nil, err
		}
		ch.CodeHash = internal.HashString(code)
		delivery.Code = code
	}
	if p.config.Flow == FlowLink || p.config.Flow == FlowCodeAndLink {
		secret, err := internal.NewLinkSecret()
		if err != nil {
			return nil, err
		}
		ch.LinkHash = internal.HashString(secret)
		delivery.LinkURL = fmt.Sprintf("%s?device=%s&secret=%s", p.config.LinkBase, ch.DeviceID, secret)
	}

	if err := p.codes.Save(ctx, ch, p.config.ChallengeTTL); err != nil {
		return nil, err
	}
	if err := p.sender.Send(ctx, delivery); err != nil {
		_ = p.codes.Delete(ctx, ch.DeviceID)
		return nil, err
	}

	return &PendingChallenge{
		DeviceID:  ch.DeviceID,
		Flow:      p.config.Flow,
		ExpiresAt: p.now().Add(p.config.ChallengeTTL),
	}, nil
}

// VerifyCode redeems a user-typed code. Wrong guesses burn the attempt
// budget; exhausting it kills the challenge.
func (p *Passwordless) VerifyCode(ctx context.Context, deviceID, code string) (string, error) {
	if p.config.Flow == FlowLink {
		return "", errors.New("code entry disabled for this flow")
	}
	return p.redeem(ctx, deviceID, internal.HashString(code), func(ch *Challenge) [32]byte {
		return ch.CodeHash
	})
}

// VerifyLink redeems a magic-link secret.
func (p *Passwordless) VerifyLink(ctx context.Context, deviceID, secret string) (string, error) {
	if p.config.Flow == FlowCode {
		return "", errors.New("magic links disabled for this flow")
	}
	return p.redeem(ctx, deviceID, internal.HashString(secret), func(ch *Challenge) [32]byte {
		return ch.LinkHash
	})
}

func (p *Passwordless) redeem(ctx context.Context, deviceID string, provided [32]byte, expected func(*Challenge) [32]byte) (string, error) {
	ch, err := p.codes.Get(ctx, deviceID)
	if errors.Is(err, ErrChallengeNotFound) {
		return "", ErrCodeExpired
	}
	if err != nil {
		return "", err
	}
	if ch.Consumed {
		return "", ErrCodeConsumed
	}
	// Challenges issued for other purposes (email verification) must not
	// redeem as a sign-in.
	if ch.Purpose != purposeSignIn {
		return "", ErrCodeMismatch
	}

	want := expected(ch)
	if subtle.ConstantTimeCompare(provided[:], want[:]) != 1 {
		attempts, aerr := p.codes.RecordAttempt(ctx, deviceID)
		if aerr != nil {
			return "", aerr
		}
		if attempts >= p.config.MaxGuesses {
			_ = p.codes.Delete(ctx, deviceID)
			return "", ErrCodeExpired
		}
		return "", ErrCodeMismatch
	}

	// Atomic: concurrent redeemers of the same challenge get exactly one
	// winner, the rest see ErrCodeConsumed.
	if err := p.codes.Consume(ctx, deviceID); err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return "", ErrCodeExpired
		}
		return "", err
	}

	return p.resolveUser(ctx, ch.Contact)
}

// resolveUser maps a proven contact to a user id, creating the account on
// first sign-in. The method is born verified.
func (p *Passwordless) resolveUser(ctx context.Context, contact Contact) (string, error) {
	rec, err := p.store.FindByMethod(ctx, store.MethodPasswordless, contact.Value)
	if err == nil {
		return rec.UserID, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return "", err
	}

	rec, err = p.store.CreateUser(ctx, []store.LoginMethod{{
		Kind:       store.MethodPasswordless,
		Identifier: contact.Value,
		Verified:   true,
	}})
	if errors.Is(err, store.ErrDuplicateIdentifier) {
		// Lost a signup race for the same contact; the winner's account is
		// the account.
		rec, err = p.store.FindByMethod(ctx, store.MethodPasswordless, contact.Value)
	}
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}
