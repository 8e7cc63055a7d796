// Package auth provides JWT token minting and validation for the flock API.
//
// Two token types exist: attachment tokens authorize a participant to open
// a WebSocket attachment to one specific session, and creator tokens
// authorize session management (ending the session). Both are bound to a
// session ID, so a token can never be replayed against another session.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType indicates what a token authorizes.
type TokenType string

const (
	// TokenTypeAttachment authorizes opening a WebSocket attachment.
	TokenTypeAttachment TokenType = "attachment"
	// TokenTypeCreator authorizes session management operations.
	TokenTypeCreator TokenType = "creator"
)

// Claims represents JWT claims for flock session tokens.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the participant identity minted at join time.
	UserID string `json:"uid"`

	// SessionID binds the token to one session.
	SessionID string `json:"session_id"`

	// DisplayName is carried for logging; authoritative identity data
	// comes from the participant row.
	DisplayName string `json:"display_name,omitempty"`

	// TokenType indicates whether this is an attachment or creator token.
	TokenType TokenType `json:"token_type"`
}

// IsAttachmentToken returns true if this is an attachment token.
func (c *Claims) IsAttachmentToken() bool {
	return c.TokenType == TokenTypeAttachment
}

// IsCreatorToken returns true if this is a creator token.
func (c *Claims) IsCreatorToken() bool {
	return c.TokenType == TokenTypeCreator
}
