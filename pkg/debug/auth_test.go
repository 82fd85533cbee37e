package debug

import (
	"net/http/httptest"
	"testing"
)

func TestTokenIssuerLoginAndVerify(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	issuer := NewTokenIssuer(AuthConfig{SharedSecretHash: hash, SigningKey: []byte("signing-key")})

	token, err := issuer.Login("s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := issuer.Verify(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestTokenIssuerLoginRejectsWrongSecret(t *testing.T) {
	hash, _ := HashSecret("s3cret")
	issuer := NewTokenIssuer(AuthConfig{SharedSecretHash: hash, SigningKey: []byte("signing-key")})

	if _, err := issuer.Login("wrong"); err == nil {
		t.Fatal("expected login to fail with wrong secret")
	}
}

func TestAuthenticateUpgradeRequiresBearerToken(t *testing.T) {
	hash, _ := HashSecret("s3cret")
	issuer := NewTokenIssuer(AuthConfig{SharedSecretHash: hash, SigningKey: []byte("signing-key")})
	token, _ := issuer.Login("s3cret")

	req := httptest.NewRequest("GET", "/ws", nil)
	if err := issuer.authenticateUpgrade(req); err == nil {
		t.Fatal("expected missing header to fail")
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if err := issuer.authenticateUpgrade(req); err != nil {
		t.Fatalf("expected valid bearer token to authenticate, got %v", err)
	}
}
