// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// privateKey and publicKey sign and verify access tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TokenExpireSec is how many seconds until token expiration (0 => never).
	TokenExpireSec int
)

// ErrInvalidToken is returned for missing, malformed, expired, or
// wrongly-signed access tokens.
var ErrInvalidToken = errors.New("invalid access token")

func parseTokenExpireTime() error {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		TokenExpireSec = 0
		return nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return fmt.Errorf("parse TOKEN_EXPIRE_TIME: %w", err)
	}
	TokenExpireSec = int(d.Seconds())
	return nil
}

// Init generates a fresh ed25519 key pair at runtime. Tokens do not survive
// a restart, which is acceptable for a single-process service.
func Init() error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return parseTokenExpireTime()
}

// InitFromPath reads an ed25519 key pair from files so tokens stay valid
// across restarts.
func InitFromPath(privatePath, publicPath string) error {
	priv, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	privateKey = ed25519.PrivateKey(priv)
	publicKey = ed25519.PublicKey(pub)
	return parseTokenExpireTime()
}

// IssueToken creates a signed access token with "sub" = playerID.
func IssueToken(playerID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub": playerID.String(),
		"iat": time.Now().Unix(),
	}
	if TokenExpireSec > 0 {
		claims["exp"] = time.Now().Add(time.Duration(TokenExpireSec) * time.Second).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// VerifyToken validates an access token and returns the playerId it
// identifies. This is the "verify access token -> playerId" call the
// realtime layer consumes; every failure mode collapses to ErrInvalidToken.
func VerifyToken(tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, ErrInvalidToken
	}
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil || !t.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	playerID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return playerID, nil
}
