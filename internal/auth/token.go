// Package auth verifies bearer tokens issued by the identity service and
// attaches the resulting actor to the request context.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atelier-b2b/atelier/internal/shared"
)

var signingMethod = jwt.SigningMethodHS256

// Claims are the access-token claims the API relies on.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier constructs a verifier.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses the token and returns the actor it names.
func (v *Verifier) Verify(token string) (shared.Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("%w: %v", shared.ErrUnauthenticated, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("%w: invalid subject", shared.ErrUnauthenticated)
	}
	role := shared.Role(claims.Role)
	if !role.Valid() {
		return shared.Actor{}, fmt.Errorf("%w: unknown role %q", shared.ErrUnauthenticated, claims.Role)
	}
	return shared.Actor{ID: id, Role: role}, nil
}

// Issue signs a token for actor. Production tokens come from the identity
// service; this is used by the seed tool and tests.
func (v *Verifier) Issue(actor shared.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.ID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString(v.secret)
}
