package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newHSStore(t *testing.T, revoker TokenRevoker, clock *testClock) *JWTSessionStore {
	t.Helper()
	opts := JWTOptions{Leeway: time.Second}
	if clock != nil {
		opts.Now = clock.Now
	}
	s, err := NewJWTHS256SessionStore(testSecret, 7*24*time.Hour, revoker, opts)
	if err != nil {
		t.Fatalf("new hs256 store: %v", err)
	}
	return s
}

func TestJWTHS256SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newHSStore(t, NewMemoryTokenRevoker(), nil)

	token, issued, err := s.NewSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if token == "" || issued.TokenID == "" {
		t.Fatalf("expected token and jti, got %q %+v", token, issued)
	}
	if got := issued.ExpiresAt.Sub(issued.IssuedAt); got != 7*24*time.Hour {
		t.Fatalf("token lifetime = %s, want 168h", got)
	}

	claims, err := s.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AccountID != "acct-1" || claims.TokenID != issued.TokenID {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJWTHS256RejectsShortSecret(t *testing.T) {
	if _, err := NewJWTHS256SessionStore("short", time.Hour, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestJWTSessionStoreDistinguishesExpiredFromInvalid(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newHSStore(t, nil, clock)

	token, _, err := s.NewSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	clock.t = clock.t.Add(8 * 24 * time.Hour)
	if _, err := s.Verify(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	for _, bad := range []string{"", "not-a-jwt", token + "x"} {
		if _, err := s.Verify(ctx, bad); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("Verify(%q) = %v, want ErrTokenInvalid", bad, err)
		}
	}
}

func TestJWTSessionStoreRejectsForeignSecret(t *testing.T) {
	ctx := context.Background()
	a := newHSStore(t, nil, nil)
	b, err := NewJWTHS256SessionStore("ffffffffffffffffffffffffffffffff", time.Hour, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, _, err := b.NewSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := a.Verify(ctx, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected signature mismatch to be invalid, got %v", err)
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	ctx := context.Background()
	signing, err := NewJWTHS256SessionStore(testSecret, time.Hour, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("signing store: %v", err)
	}
	verify, err := NewJWTHS256SessionStore(testSecret, time.Hour, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-b"})
	if err != nil {
		t.Fatalf("verify store: %v", err)
	}
	token, _, err := signing.NewSession(ctx, "acct-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := verify.Verify(ctx, token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	ctx := context.Background()
	s := newHSStore(t, NewMemoryTokenRevoker(), nil)

	token, claims, err := s.NewSession(ctx, "acct-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	other, _, err := s.NewSession(ctx, "acct-revoke")
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	if err := s.DeleteSession(ctx, claims); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := s.Verify(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
	if _, err := s.Verify(ctx, other); err != nil {
		t.Fatalf("other session should survive logout of the first: %v", err)
	}
}

func TestJWTSessionStoreRevokesByAccountCutoff(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	revoker := NewMemoryTokenRevoker()
	s := newHSStore(t, revoker, clock)

	old, _, err := s.NewSession(ctx, "acct-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	clock.t = clock.t.Add(5*time.Second + 300*time.Millisecond)
	if err := s.RevokeAccountSessions(ctx, "acct-cutoff", clock.t); err != nil {
		t.Fatalf("revoke account: %v", err)
	}
	if _, err := s.Verify(ctx, old); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected pre-cutoff token to be revoked, got %v", err)
	}

	clock.t = clock.t.Add(100 * time.Millisecond)
	fresh, _, err := s.NewSession(ctx, "acct-cutoff")
	if err != nil {
		t.Fatalf("fresh session: %v", err)
	}
	if _, err := s.Verify(ctx, fresh); err != nil {
		t.Fatalf("token issued after the cutoff must verify: %v", err)
	}
}

func TestJWTRS256SessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	privatePath, publicPath := writeRSAKeyPairFiles(t, "active")
	s, err := NewJWTRS256SessionStoreFromPEM(privatePath, publicPath, "kid-active", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new rs256 store: %v", err)
	}
	token, _, err := s.NewSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	claims, err := s.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.AccountID != "acct-1" {
		t.Fatalf("unexpected subject %q", claims.AccountID)
	}
}

func TestJWTRS256SessionStoreVerifiesPreviousKeyDuringRotation(t *testing.T) {
	ctx := context.Background()
	oldPrivatePath, oldPublicPath := writeRSAKeyPairFiles(t, "old")
	newPrivatePath, newPublicPath := writeRSAKeyPairFiles(t, "new")

	oldStore, err := NewJWTRS256SessionStoreFromPEM(oldPrivatePath, oldPublicPath, "kid-old", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("old store: %v", err)
	}
	oldToken, _, err := oldStore.NewSession(ctx, "acct-2")
	if err != nil {
		t.Fatalf("old token: %v", err)
	}

	rotated, err := NewJWTRS256SessionStoreFromPEM(newPrivatePath, newPublicPath, "kid-new",
		map[string]string{"kid-old": oldPublicPath}, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("rotated store: %v", err)
	}
	if _, err := rotated.Verify(ctx, oldToken); err != nil {
		t.Fatalf("rotated store should accept previous key: %v", err)
	}

	strict, err := NewJWTRS256SessionStoreFromPEM(newPrivatePath, newPublicPath, "kid-new", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("strict store: %v", err)
	}
	if _, err := strict.Verify(ctx, oldToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected unknown kid to be invalid, got %v", err)
	}
}

func TestJWTSessionStoreRequiresKidHeaderForRS256(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "missing-kid")
	s, err := NewJWTRS256SessionStoreFromPEM(privatePath, publicPath, "jwt-active", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new rs256 store: %v", err)
	}
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privatePath)
	if err != nil {
		t.Fatalf("load private key: %v", err)
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "acct-missing-kid",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        "jti-missing-kid",
	})
	signed, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := s.Verify(context.Background(), signed); err == nil {
		t.Fatalf("expected missing kid token to fail")
	}
}

func TestJWTSessionStoreRequiresJTIClaim(t *testing.T) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "acct-missing-jti",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	s := newHSStore(t, nil, nil)
	if _, err := s.Verify(context.Background(), signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected missing jti token to fail, got %v", err)
	}
}

func TestJWTSessionStoreRejectsAlgNone(t *testing.T) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "acct-none",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        "jti-none",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	s := newHSStore(t, nil, nil)
	if _, err := s.Verify(context.Background(), signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected alg=none token to fail, got %v", err)
	}
}

func writeRSAKeyPairFiles(t *testing.T, prefix string) (string, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	dir := t.TempDir()
	privatePath := filepath.Join(dir, prefix+"-private.pem")
	publicPath := filepath.Join(dir, prefix+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}
