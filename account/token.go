package account

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Tokens issues HS256 bearer tokens for signed-in users.
type Tokens struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration

	now func() time.Time
}

// Issue signs a token whose subject is userID.
func (t *Tokens) Issue(userID string) (string, time.Time, error) {
	if len(t.Secret) == 0 {
		return "", time.Time{}, errors.New("account: token secret not configured")
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	issued := now()
	expires := issued.Add(ttl)
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": issued.Unix(),
		"nbf": issued.Unix(),
		"exp": expires.Unix(),
	}
	if t.Issuer != "" {
		claims["iss"] = t.Issuer
	}
	if t.Audience != "" {
		claims["aud"] = t.Audience
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}
