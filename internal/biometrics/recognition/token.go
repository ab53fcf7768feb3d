package recognition

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const scopeAnalyze = "biometrics:analyze"

// ServiceClaims authenticate this service to the recognition backend.
type ServiceClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// ServiceTokens mints short-lived HS256 service tokens.
type ServiceTokens struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewServiceTokens returns nil when no signing key is configured; the client
// then sends unauthenticated requests.
func NewServiceTokens(signingKey, issuer, audience string, ttl time.Duration) *ServiceTokens {
	if signingKey == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ServiceTokens{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}
}

// Sign issues a token valid for the configured TTL from now.
func (s *ServiceTokens) Sign(now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{
		Scope: scopeAnalyze,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses a token minted by Sign. Used by test doubles of the backend.
func (s *ServiceTokens) Validate(tokenString string) (*ServiceClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*ServiceClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid service token")
	}
	if claims.Scope != scopeAnalyze {
		return nil, errors.New("service token missing analyze scope")
	}
	return claims, nil
}
