package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpired is returned when the token's expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for tokens that do not parse as a JWS
	// envelope at all.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureMismatch is returned when the signature does not verify
	// under the named key version.
	ErrSignatureMismatch = errors.New("token signature mismatch")
)

// Config holds codec tuning parameters.
type Config struct {
	Issuer string
	// Leeway tolerates small clock skew on expiry checks. Bounded to
	// keep the expiry invariant meaningful.
	Leeway time.Duration
	// Clock overrides the time source; nil means time.Now. Issuance and
	// verification both consult it.
	Clock func() time.Time
}

// Codec issues and verifies signed access tokens against a [Keyring].
type Codec struct {
	config  Config
	keyring *Keyring
}

// NewCodec validates cfg and binds the codec to its keyring.
func NewCodec(cfg Config, keyring *Keyring) (*Codec, error) {
	if keyring == nil {
		return nil, errors.New("codec requires a keyring")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Codec{config: cfg, keyring: keyring}, nil
}

// Issue signs payload into a compact token expiring at expiresAt. An empty
// keyVersion selects the newest currently-valid key; a named version must be
// valid at issuance time or [ErrUnknownKeyVersion] is returned.
func (c *Codec) Issue(payload map[string]any, expiresAt time.Time, keyVersion string) (string, error) {
	now := c.config.Clock()
	if !expiresAt.After(now) {
		return "", errors.New("expiry must be in the future")
	}

	var (
		key Key
		err error
	)
	if keyVersion == "" {
		key, err = c.keyring.signingKey(now)
	} else {
		key, err = c.keyring.verifyKey(keyVersion, now)
	}
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"data": payload,
		"exp":  jwt.NewNumericDate(expiresAt),
		"iat":  jwt.NewNumericDate(now),
	}
	if c.config.Issuer != "" {
		claims["iss"] = c.config.Issuer
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = key.Version

	return tok.SignedString(key.Secret)
}

// Verify checks the signature, key-version validity, and expiry of a token
// and returns its payload.
func (c *Codec) Verify(tokenStr string) (map[string]any, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.config.Clock),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKeyVersion
		}
		key, err := c.keyring.verifyKey(kid, c.config.Clock())
		if err != nil {
			return nil, err
		}
		return key.Secret, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}

	payload, _ := claims["data"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// mapParseError translates golang-jwt failures into the codec taxonomy.
// Order matters: jwt joins multiple sentinels into one error chain.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKeyVersion):
		return ErrUnknownKeyVersion
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
