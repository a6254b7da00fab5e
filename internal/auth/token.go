package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/aksihijau/service-core/pkg/utilities"
)

// Identity is what a token asserts about its bearer.
type Identity struct {
	UserID   int64
	Username string
	Email    string
	IsAdmin  bool
	EcoLevel int
}

// Claims are embedded at issuance and not re-checked against the database,
// so they can lag behind the users row until the token expires. user_id is a
// string claim because snowflake ids do not fit a JavaScript number.
type Claims struct {
	UserID   int64  `json:"user_id,string"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	EcoLevel int    `json:"eco_level"`
	jwt.RegisteredClaims
}

// Identity returns the identity part of the claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Username: c.Username, Email: c.Email, IsAdmin: c.IsAdmin, EcoLevel: c.EcoLevel}
}

var ErrInvalidToken = errors.New("invalid token")

// TokenManager signs and verifies HS256 bearer tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewTokenManager(secret, issuer string, ttl time.Duration, clock clockwork.Clock) *TokenManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl, clock: clock}
}

// TTL reports how long issued tokens stay valid.
func (tm *TokenManager) TTL() time.Duration { return tm.ttl }

// Issue signs a token for id and returns it with its expiry.
func (tm *TokenManager) Issue(id Identity) (string, time.Time, error) {
	now := tm.clock.Now()
	exp := now.Add(tm.ttl)
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		Email:    id.Email,
		IsAdmin:  id.IsAdmin,
		EcoLevel: id.EcoLevel,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			ID:        utilities.NewUUID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies signature, algorithm, issuer and expiry. Any failure is
// reported as ErrInvalidToken wrapping the jwt error.
func (tm *TokenManager) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.clock.Now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !tok.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
