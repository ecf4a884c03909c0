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

const purposeVerify = "verify"

// VerificationConfig tunes email-verification token issuance.
type VerificationConfig struct {
	TokenTTL time.Duration
	// LinkBase is the verification URL prefix; device id and secret are
	// appended as query parameters.
	LinkBase string
}

// Verification issues and redeems email-verification links. Tokens ride the
// same challenge store as passwordless codes but under their own purpose,
// so a sign-in code can never verify an address.
type Verification struct {
	store  store.Store
	codes  CodeStore
	sender Sender
	config VerificationConfig
}

// NewVerification binds the flow to its stores and sender.
func NewVerification(st store.Store, codes CodeStore, sender Sender, cfg VerificationConfig) (*Verification, error) {
	if st == nil || codes == nil || sender == nil {
		return nil, errors.New("verification requires a store, a code store, and a sender")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Verification{store: st, codes: codes, sender: sender, config: cfg}, nil
}

// Send issues a verification link for one of the user's email methods.
// Already-verified addresses are a no-op so clients can re-trigger freely.
func (v *Verification) Send(ctx context.Context, userID, email string) error {
	rec, err := v.store.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	var target *store.LoginMethod
	for i := range rec.Methods {
		if rec.Methods[i].Identifier == email {
			target = &rec.Methods[i]
			break
		}
	}
	if target == nil {
		return store.ErrUserNotFound
	}
	if target.Verified {
		return nil
	}

	secret, err := internal.NewLinkSecret()
	if err != nil {
		return err
	}

	ch := &Challenge{
		DeviceID: uuid.NewString(),
		Purpose:  purposeVerify,
		Contact:  Contact{Kind: ContactEmail, Value: email},
		UserID:   userID,
		LinkHash: internal.HashString(secret),
	}
	if err := v.codes.Save(ctx, ch, v.config.TokenTTL); err != nil {
		return err
	}

	return v.sender.Send(ctx, Delivery{
		Contact: ch.Contact,
		LinkURL: fmt.Sprintf("%s?device=%s&secret=%s", v.config.LinkBase, ch.DeviceID, secret),
	})
}

// Verify redeems a verification link and flips the method's verified flag.
// Returns the user id whose address was verified.
func (v *Verification) Verify(ctx context.Context, deviceID, secret string) (string, error) {
	ch, err := v.codes.Get(ctx, deviceID)
	if errors.Is(err, ErrChallengeNotFound) {
		return "", ErrCodeExpired
	}
	if err != nil {
		return "", err
	}
	if ch.Purpose != purposeVerify {
		return "", ErrCodeMismatch
	}
	if ch.Consumed {
		return "", ErrCodeConsumed
	}

	provided := internal.HashString(secret)
	if subtle.ConstantTimeCompare(provided[:], ch.LinkHash[:]) != 1 {
		return "", ErrCodeMismatch
	}

	if err := v.codes.Consume(ctx, deviceID); err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return "", ErrCodeExpired
		}
		return "", err
	}

	rec, err := v.store.FindByID(ctx, ch.UserID)
	if err != nil {
		return "", err
	}
	for _, m := range rec.Methods {
		if m.Identifier == ch.Contact.Value {
			if err := v.store.MarkVerified(ctx, ch.UserID, m.Kind, m.Identifier); err != nil {
				return "", err
			}
			return ch.UserID, nil
		}
	}
	return "", store.ErrUserNotFound
}
