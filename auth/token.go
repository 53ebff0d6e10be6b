package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid identity token")

// Claims are the identity token claims mapped onto a User.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenProvider signs users in from HMAC-signed identity tokens.
type TokenProvider struct {
	*Manual
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenProvider creates a signed-out provider verifying tokens with secret.
// An empty issuer accepts any issuer.
func NewTokenProvider(secret []byte, issuer string) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	return &TokenProvider{
		Manual: NewManual(),
		secret: secret,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// SignInWithToken verifies token and signs its subject in.
func (p *TokenProvider) SignInWithToken(token string) (*User, error) {
	user, err := p.Verify(token)
	if err != nil {
		return nil, err
	}
	p.SignIn(*user)
	return user, nil
}

// Verify parses token and returns the user it identifies.
func (p *TokenProvider) Verify(token string) (*User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &User{ID: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

// Issue signs a token for user valid for ttl.
func (p *TokenProvider) Issue(user User, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		Name:  user.Name,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
