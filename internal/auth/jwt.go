package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "marketplace-ledger"

var (
	ErrExpiredToken = fmt.Errorf("%w: token expired", ledger.ErrUnauthenticated)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ledger.ErrUnauthenticated)
)

// Claims carries the caller's role next to the standard claims; the user id
// is the subject.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 bearer tokens.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (v *Verifier) Issue(c ledger.Caller) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(c.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	})
	s, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (v *Verifier) Verify(token string) (ledger.Caller, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ledger.Caller{}, ErrExpiredToken
		}
		return ledger.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid || claims.Subject == "" {
		return ledger.Caller{}, ErrInvalidToken
	}
	return ledger.Caller{UserID: claims.Subject, Role: ledger.Role(claims.Role)}, nil
}
