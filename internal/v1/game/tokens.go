package game

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints and verifies reconnect tokens. Tokens are HS256
// JWTs issued at join time and delivered inside room_created /
// room_joined, so the client already holds one when its channel drops.
// The 60 second reconnect window is enforced separately by the room
// from the recorded disconnect time, not by token expiry.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer from the shared signing secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

type reconnectClaims struct {
	RoomID string `json:"room_id"`
	jwt.RegisteredClaims
}

// Issue signs a reconnect token binding a player to a room. Token
// lifetime is generous; the room's disconnect window is the real gate.
func (t *TokenIssuer) Issue(roomID RoomIDType, playerID PlayerIDType) (string, error) {
	now := time.Now()
	claims := reconnectClaims{
		RoomID: string(roomID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(playerID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign reconnect token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and that the token was issued for this
// player in this room.
func (t *TokenIssuer) Verify(tokenString string, roomID RoomIDType, playerID PlayerIDType) error {
	var claims reconnectClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid reconnect token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid reconnect token")
	}
	if claims.RoomID != string(roomID) || claims.Subject != string(playerID) {
		return fmt.Errorf("reconnect token does not match player or room")
	}
	return nil
}
