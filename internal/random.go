package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// Handle is the random binary form of a session handle. The wire form is
// base64url without padding.
type Handle [16]byte

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize
	linkSecretSize      = 32
)

func NewHandle() (Handle, error) {
	var h Handle
	_, err := rand.Read(h[:])
	return h, err
}

func (h Handle) String() string {
	return base64.RawURLEncoding.EncodeToString(h[:])
}

func ParseHandle(handle string) (Handle, error) {
	var h Handle

	raw, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, errors.New("invalid handle size")
	}

	copy(h[:], raw)
	return h, nil
}

// NewRefreshSecret returns the per-generation secret embedded in a refresh
// token. Only its hash is ever persisted.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs handle || secret into a single opaque
// base64url string. The layout is fixed so decoding never needs a
// delimiter scan.
func EncodeRefreshToken(handle string, secret [refreshSecretSize]byte) (string, error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(h)], h[:])
	copy(raw[len(h):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var h Handle
	copy(h[:], raw[:len(h)])
	copy(secret[:], raw[len(h):])

	return h.String(), secret, nil
}

// NewLinkSecret returns a secret suitable for magic-link and
// email-verification tokens.
func NewLinkSecret() (string, error) {
	var secret [linkSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

func HashString(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// NewOTP returns a numeric one-time code with the given number of digits.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
