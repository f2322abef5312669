package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer   = "novachat"
	defaultJWTAudience = "novachat-web"
	minHMACSecretBytes = 32
)

var defaultJWTLeeway = 30 * time.Second

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
)

// JWTOptions configures claim validation.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	// Now overrides the clock used for issuing and validating; tests only.
	Now func() time.Time
}

// SessionClaims is the verified content of a bearer token.
type SessionClaims struct {
	AccountID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// JWTSessionStore issues and validates bearer tokens. HS256 with a shared
// secret by default, RS256 with kid-selected keys when PEM files are configured.
type JWTSessionStore struct {
	ttl     time.Duration
	revoker TokenRevoker

	method     jwt.SigningMethod
	signKey    any
	signKid    string
	verifyKeys map[string]any

	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTHS256SessionStore builds a store signing with a shared secret.
func NewJWTHS256SessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if len(secret) < minHMACSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minHMACSecretBytes)
	}
	key := []byte(secret)
	return newJWTSessionStore(jwt.SigningMethodHS256, key, "", map[string]any{"": key}, ttl, revoker, opts)
}

// NewJWTRS256SessionStoreFromPEM builds a RS256 store from PEM files.
// verifyKeyFiles maps kid -> public key path and may list retired keys still
// accepted during rotation.
func NewJWTRS256SessionStoreFromPEM(
	privateKeyPath string,
	publicKeyPath string,
	keyID string,
	verifyKeyFiles map[string]string,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSessionStore, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = "jwt-active"
	}
	activePub := &privateKey.PublicKey
	if strings.TrimSpace(publicKeyPath) != "" {
		activePub, err = loadRSAPublicKeyFromPEMFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
	}
	verifiers := map[string]any{keyID: activePub}
	for kid, path := range verifyKeyFiles {
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		verifiers[kid] = pub
	}
	return newJWTSessionStore(jwt.SigningMethodRS256, privateKey, keyID, verifiers, ttl, revoker, opts)
}

func newJWTSessionStore(method jwt.SigningMethod, signKey any, kid string, verifyKeys map[string]any, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		ttl:        ttl,
		revoker:    revoker,
		method:     method,
		signKey:    signKey,
		signKid:    kid,
		verifyKeys: verifyKeys,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		leeway:     opts.Leeway,
		now:        opts.Now,
	}, nil
}

// TTL is the lifetime of newly issued tokens.
func (s *JWTSessionStore) TTL() time.Duration { return s.ttl }

// NewSession signs a token whose subject is accountID.
func (s *JWTSessionStore) NewSession(_ context.Context, accountID string) (string, SessionClaims, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", SessionClaims{}, errors.New("session subject required")
	}
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(s.method, claims)
	if s.signKid != "" {
		token.Header["kid"] = s.signKid
	}
	signed, err := token.SignedString(s.signKey)
	if err != nil {
		return "", SessionClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, toSessionClaims(claims), nil
}

// Verify checks signature, issuer, audience, lifetime and revocation.
// Errors wrap ErrTokenExpired, ErrTokenRevoked or ErrTokenInvalid.
func (s *JWTSessionStore) Verify(ctx context.Context, token string) (SessionClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return SessionClaims{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return SessionClaims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return SessionClaims{}, ErrTokenRevoked
		}
		cutoff, err := s.revoker.AccountCutoff(ctx, claims.Subject)
		if err != nil {
			return SessionClaims{}, fmt.Errorf("check account cutoff: %w", err)
		}
		// iat has second precision; tokens minted in the cutoff's own second survive.
		if !cutoff.IsZero() && claims.IssuedAt.Time.Before(cutoff.Truncate(time.Second)) {
			return SessionClaims{}, ErrTokenRevoked
		}
	}
	return toSessionClaims(claims), nil
}

// DeleteSession revokes one token until its natural expiry.
func (s *JWTSessionStore) DeleteSession(ctx context.Context, claims SessionClaims) error {
	if s.revoker == nil || claims.TokenID == "" {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(s.now()) + s.leeway
	return s.revoker.Revoke(ctx, claims.TokenID, ttl)
}

// RevokeAccountSessions invalidates every token for accountID issued before since.
func (s *JWTSessionStore) RevokeAccountSessions(ctx context.Context, accountID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeAccount(ctx, accountID, since, s.ttl+s.leeway)
}

func (s *JWTSessionStore) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrTokenInvalid
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	}
	_, err := jwt.ParseWithClaims(token, &claims, s.keyFunc, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return claims, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return claims, fmt.Errorf("%w: missing required claims", ErrTokenInvalid)
	}
	return claims, nil
}

func (s *JWTSessionStore) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	key, ok := s.verifyKeys[strings.TrimSpace(kid)]
	if !ok {
		return nil, errors.New("unknown token key")
	}
	return key, nil
}

func toSessionClaims(c jwt.RegisteredClaims) SessionClaims {
	out := SessionClaims{AccountID: c.Subject, TokenID: c.ID}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return out
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pubAny, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}
