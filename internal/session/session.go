// Package session mints and verifies the stateless signed credential that
// every protected operation consumes. Verification needs no store lookup:
// role and tenant linkage travel inside the claims.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"hireline.io/internal/account"
)

const (
	defaultIssuer = "hireline"
	defaultTTL    = 7 * 24 * time.Hour
)

// ErrInvalidCredential indicates the credential failed verification.
var ErrInvalidCredential = errors.New("session: invalid credential")

// Claims is the signed claims bundle embedded in the bearer credential.
type Claims struct {
	Email           string       `json:"email"`
	Role            account.Role `json:"role"`
	ParentAccountID *string      `json:"parent_account_id,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the subject account id.
func (c *Claims) AccountID() string { return c.Subject }

// TenantID derives the data scope from the embedded role and parent
// linkage, without re-reading the account.
func (c *Claims) TenantID() (string, error) {
	return account.ResolveTenant(c.Role, c.Subject, c.ParentAccountID)
}

// IsSuperTenant mirrors the account predicate on verified claims.
func (c *Claims) IsSuperTenant() bool {
	return c.Role == account.RoleAdmin && (c.ParentAccountID == nil || *c.ParentAccountID == "")
}

// Issuer signs and verifies session credentials using HS256.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Issuer behavior.
type Option func(*Issuer)

// WithTTL overrides the credential lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(iss string) Option {
	return func(i *Issuer) {
		if iss = strings.TrimSpace(iss); iss != "" {
			i.issuer = iss
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// New constructs an Issuer around the shared signing secret.
func New(secret string, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session: signing secret is required")
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a credential for the account.
func (i *Issuer) Issue(acct *account.Account) (string, time.Time, error) {
	if acct == nil || acct.ID == "" {
		return "", time.Time{}, errors.New("session: account is required")
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := Claims{
		Email:           acct.Email,
		Role:            acct.Role,
		ParentAccountID: acct.ParentAccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign credential: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature and temporal validity and returns the claims.
func (i *Issuer) Verify(credential string) (*Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	parsed, err := jwt.ParseWithClaims(credential, &Claims{},
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidCredential
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
