package debug

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthConfig configures how connections to the live-debug WebSocket
// endpoint authenticate. A bcrypt hash of the operator shared secret is
// exchanged once for a short-lived JWT, which every subsequent WebSocket
// upgrade must present.
type AuthConfig struct {
	// SharedSecretHash is the bcrypt hash of the shared secret operators
	// authenticate with.
	SharedSecretHash []byte
	// SigningKey signs the JWTs issued after a successful login.
	SigningKey []byte
	// TokenTTL controls how long an issued token remains valid.
	TokenTTL time.Duration
}

// HashSecret bcrypt-hashes a plaintext shared secret for use as
// AuthConfig.SharedSecretHash.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// TokenIssuer issues and verifies the JWTs gating the live-debug WebSocket.
type TokenIssuer struct {
	cfg AuthConfig
}

// NewTokenIssuer builds a TokenIssuer from cfg. cfg.TokenTTL defaults to 15
// minutes if unset.
func NewTokenIssuer(cfg AuthConfig) *TokenIssuer {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &TokenIssuer{cfg: cfg}
}

// Login verifies secret against the configured hash and, on success,
// returns a signed token valid for TokenTTL.
func (t *TokenIssuer) Login(secret string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(t.cfg.SharedSecretHash, []byte(secret)); err != nil {
		return "", fmt.Errorf("debug: invalid shared secret: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(t.cfg.TokenTTL).Unix(),
		"sub": "debug-operator",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("debug: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning an error if it is
// missing, malformed, expired, or signed with the wrong key.
func (t *TokenIssuer) Verify(tokenString string) error {
	_, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return t.cfg.SigningKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("debug: invalid token: %w", err)
	}
	return nil
}

// authenticateUpgrade extracts a bearer token from r and verifies it.
func (t *TokenIssuer) authenticateUpgrade(r *http.Request) error {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return fmt.Errorf("debug: missing bearer token")
	}
	return t.Verify(parts[1])
}
