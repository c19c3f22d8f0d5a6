package jwt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTTL is the lifetime of an access token.
	DefaultAccessTTL = 15 * time.Minute
	// RefreshSecretBytes is the entropy of a refresh secret (256 bits).
	RefreshSecretBytes = 32
	minSecretLength    = 16
)

var (
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired also matches ErrInvalidToken.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrWeakSecret   = errors.New("jwt secret is too short")
)

// Claims is the access token payload.
type Claims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

// Principal is the verified identity carried by an access token.
type Principal struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Options configures an Issuer.
type Options struct {
	Secret    string
	Issuer    string
	Audience  string
	AccessTTL time.Duration
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Issuer signs and verifies access tokens.
type Issuer struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
	parser    *jwtlib.Parser
}

// NewIssuer validates opts and returns an Issuer.
func NewIssuer(opts Options) (*Issuer, error) {
	if len(opts.Secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, errors.New("jwt issuer and audience are required")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	iss := &Issuer{
		secret:    []byte(opts.Secret),
		issuer:    opts.Issuer,
		audience:  opts.Audience,
		accessTTL: opts.AccessTTL,
		now:       opts.Now,
	}
	iss.parser = jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(opts.Issuer),
		jwtlib.WithAudience(opts.Audience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithTimeFunc(opts.Now),
	)
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccessToken creates a signed access token for the given user.
func (i *Issuer) IssueAccessToken(userID, role string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := i.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			Audience:  jwtlib.ClaimStrings{i.audience},
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(i.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// VerifyAccessToken checks signature, expiry, issuer and audience.
func (i *Issuer) VerifyAccessToken(tokenStr string) (Principal, error) {
	if tokenStr == "" {
		return Principal{}, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := i.parser.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: claims.Subject, Role: claims.Role}, nil
}

// GenerateRefreshSecret returns an opaque 256-bit random string.
func GenerateRefreshSecret() (string, error) {
	buf := make([]byte, RefreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
