package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for any token that fails parsing or validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret is returned when signing or validating without a secret.
	ErrMissingSecret = errors.New("jwt secret is not configured")
)

// Claims represents JWT claims issued by the marketplace session layer.
// The subject is the user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller derived from a validated token.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateToken creates a new HS256 token for the given identity.
func GenerateToken(cfg *JWTConfig, id Identity) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", ErrMissingSecret
	}
	if id.UserID == "" {
		return "", errors.New("user id is required")
	}

	now := time.Now()
	claims := Claims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateToken parses and validates a token and returns the caller identity.
func ValidateToken(cfg *JWTConfig, tokenString string) (Identity, error) {
	if len(cfg.Secret) == 0 {
		return Identity{}, ErrMissingSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	// Validate issuer and audience if configured
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return Identity{}, fmt.Errorf("%w: issuer", ErrInvalidToken)
	}
	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return Identity{}, fmt.Errorf("%w: audience", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{UserID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}
