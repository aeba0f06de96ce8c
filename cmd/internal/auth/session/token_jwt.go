package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"spendsync/cmd/identity"
)

type jwtClaims struct {
	Version int    `json:"v"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	issuer    string
	clockSkew time.Duration
	secret    []byte
	parser    *jwt.Parser
}

// NewJWTManager builds an HS256 TokenManager. Registered claims map as
// sub=uid and jti=sid.
func NewJWTManager(cfg Config) (TokenManager, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, ErrConfig
	}
	return &jwtManager{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.JWTSecret),
		// Claims are validated by Claims.check after the signature.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

func (m *jwtManager) Issue(c Claims) (string, error) {
	claims := jwtClaims{
		Version: ClaimsVersion,
		Role:    string(c.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   c.UserID,
			ID:        c.SessionID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			NotBefore: jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *jwtManager) Verify(token string, now time.Time) (Claims, error) {
	var jc jwtClaims
	_, err := m.parser.ParseWithClaims(token, &jc, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, ErrBadSignature
	}
	if jc.IssuedAt == nil || jc.ExpiresAt == nil {
		return Claims{}, ErrBadSignature
	}

	c := Claims{
		Version:   jc.Version,
		UserID:    jc.Subject,
		Role:      identity.Role(jc.Role),
		SessionID: jc.ID,
		IssuedAt:  jc.IssuedAt.Time.UTC(),
		ExpiresAt: jc.ExpiresAt.Time.UTC(),
		Issuer:    jc.Issuer,
	}
	if err := c.check(m.issuer, now, m.clockSkew); err != nil {
		return Claims{}, err
	}
	return c, nil
}
