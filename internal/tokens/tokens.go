// Package tokens issues and verifies the two credential kinds the
// authorization core hands out: random invitation tokens for verifiers and
// signed, time-boxed access grants for message recipients.
//
// Access grants are JWTs signed with the token secret from configuration.
// That secret is distinct from the master encryption key and the two are
// never interchangeable.
package tokens

import (
	"errors"
	"time"

	"github.com/floodyc/AfterLiving/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// invitationTokenBytes gives 128 bits of entropy, hex-encoded to 32 chars.
const invitationTokenBytes = 16

// AccessClaims binds one recipient to one message for the lifetime of the
// token. Purpose must equal common.AccessGrantPurpose.
type AccessClaims struct {
	jwt.RegisteredClaims
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
	Purpose     string `json:"purpose"`
}

// NewInvitationToken returns an unguessable token for a verifier invitation.
func NewInvitationToken() (string, error) {
	return common.MakeRandHexString(invitationTokenBytes)
}

// GenerateAccessToken mints a recipient access grant valid for ttl.
func GenerateAccessToken(messageID, recipientID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		MessageID:   messageID,
		RecipientID: recipientID,
		Purpose:     common.AccessGrantPurpose,
	})

	return token.SignedString(secret)
}

// ParseAccessToken verifies signature, expiry and purpose, and returns the
// claims. Expired tokens fail with common.ErrTokenExpired; anything else
// wrong with the token fails with common.ErrInvalidToken.
func ParseAccessToken(tokenString string, secret []byte) (*AccessClaims, error) {
	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.Purpose != common.AccessGrantPurpose {
		return nil, common.ErrInvalidToken
	}
	if claims.MessageID == "" || claims.RecipientID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
