// Package auth turns bearer tokens into workflow actors.
//
// Tokens are HS256 JWTs. Besides the registered claims they carry the
// subject ids the user may act for and the capabilities they hold; policy is
// computed by whoever issues the token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Subjects     []uuid.UUID       `json:"subjects,omitempty"`
	Capabilities []core.Capability `json:"caps,omitempty"`
}

// Actor is the core.Actor of an authenticated request.
type Actor struct {
	UserID       string
	Subjects     []uuid.UUID
	Capabilities []core.Capability
}

var _ core.Actor = (*Actor)(nil)

func (a *Actor) ID() string { return a.UserID }

func (a *Actor) HasCapability(c core.Capability) bool {
	return slices.Contains(a.Capabilities, c)
}

func (a *Actor) SubjectIDs() []uuid.UUID { return a.Subjects }

// Issuer signs and verifies tokens with a shared secret.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer returns an Issuer. issuer, when set, is written to and required
// in the iss claim.
func NewIssuer(secret []byte, issuer string) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, now: time.Now}
}

// Issue signs a token for userID valid for ttl.
func (i *Issuer) Issue(userID string, subjects []uuid.UUID, caps []core.Capability, ttl time.Duration) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Subjects:     subjects,
		Capabilities: caps,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and issuer of raw and returns its actor.
func (i *Issuer) Verify(raw string) (*Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Actor{
		UserID:       claims.Subject,
		Subjects:     claims.Subjects,
		Capabilities: claims.Capabilities,
	}, nil
}

type actorKey struct{}

// WithActor attaches actor to ctx.
func WithActor(ctx context.Context, actor core.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext returns the actor attached by WithActor.
func FromContext(ctx context.Context) (core.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(core.Actor)
	return actor, ok
}
