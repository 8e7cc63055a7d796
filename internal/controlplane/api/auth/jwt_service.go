package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for JWT operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidTokenType    = errors.New("invalid token type")
	ErrSessionMismatch     = errors.New("token is for a different session")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// JWTConfig holds configuration for JWT token generation.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "flock"
	Issuer string

	// MaxTokenDuration caps token lifetime regardless of session expiry.
	// Default: 24 hours.
	MaxTokenDuration time.Duration
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	config JWTConfig
}

// NewJWTService creates a new JWT service with the given configuration.
func NewJWTService(config JWTConfig) (*JWTService, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}

	if config.Issuer == "" {
		config.Issuer = "flock"
	}
	if config.MaxTokenDuration == 0 {
		config.MaxTokenDuration = 24 * time.Hour
	}

	return &JWTService{config: config}, nil
}

// GenerateAttachmentToken mints a token letting userID attach to sessionID.
// The token expires with the session, capped at MaxTokenDuration.
func (s *JWTService) GenerateAttachmentToken(sessionID, userID, displayName string, sessionExpiry time.Time) (string, time.Time, error) {
	return s.generateToken(sessionID, userID, displayName, TokenTypeAttachment, sessionExpiry)
}

// GenerateCreatorToken mints a session management token for the creator.
func (s *JWTService) GenerateCreatorToken(sessionID, creatorID string, sessionExpiry time.Time) (string, time.Time, error) {
	return s.generateToken(sessionID, creatorID, "", TokenTypeCreator, sessionExpiry)
}

func (s *JWTService) generateToken(sessionID, userID, displayName string, tokenType TokenType, sessionExpiry time.Time) (string, time.Time, error) {
	now := time.Now()

	expiresAt := sessionExpiry
	if limit := now.Add(s.config.MaxTokenDuration); expiresAt.IsZero() || expiresAt.After(limit) {
		expiresAt = limit
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:      userID,
		SessionID:   sessionID,
		DisplayName: displayName,
		TokenType:   tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, ErrTokenSigningFailed
	}

	return signedToken, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims.
// Returns an error if the token is invalid or expired.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ValidateAttachmentToken validates a token and ensures it is an attachment
// token bound to the given session.
func (s *JWTService) ValidateAttachmentToken(tokenString, sessionID string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsAttachmentToken() {
		return nil, ErrInvalidTokenType
	}
	if claims.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	return claims, nil
}

// ValidateCreatorToken validates a token and ensures it is a creator token
// bound to the given session.
func (s *JWTService) ValidateCreatorToken(tokenString, sessionID string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsCreatorToken() {
		return nil, ErrInvalidTokenType
	}
	if claims.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	return claims, nil
}
