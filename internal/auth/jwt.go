// AngelaMos | 2026
// jwt.go

package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/rentals/backend/internal/config"
	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
)

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

var ErrWrongTokenKind = fmt.Errorf("wrong token kind: %w", core.ErrTokenInvalid)

// Claims is the decoded payload of a verified token.
type Claims struct {
	ID        string
	SubjectID string
	Kind      TokenKind
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type SignedToken struct {
	Value  string
	Claims Claims
}

// JWTManager signs and verifies ES256 tokens. Access and refresh tokens
// use distinct keys so a leaked refresh token never verifies as an access
// token, independent of the type claim.
type JWTManager struct {
	accessKey     jwk.Key
	refreshKey    jwk.Key
	accessPublic  jwk.Key
	refreshPublic jwk.Key
	publicJWKS    jwk.Set
	config        config.JWTConfig
	now           func() time.Time
}

func NewJWTManager(cfg config.JWTConfig) (*JWTManager, error) {
	accessKey, err := loadSigningKey(cfg.AccessPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("access key: %w", err)
	}

	refreshKey, err := loadSigningKey(cfg.RefreshPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("refresh key: %w", err)
	}

	return NewJWTManagerFromKeys(accessKey, refreshKey, cfg)
}

func NewJWTManagerFromKeys(
	accessKey, refreshKey jwk.Key,
	cfg config.JWTConfig,
) (*JWTManager, error) {
	if accessKey == nil || refreshKey == nil {
		return nil, errors.New("signing keys are required")
	}

	accessPublic, err := accessKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive access public key: %w", err)
	}

	if setErr := accessPublic.Set(jwk.KeyUsageKey, "sig"); setErr != nil {
		return nil, fmt.Errorf("set key usage: %w", setErr)
	}

	refreshPublic, err := refreshKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive refresh public key: %w", err)
	}

	publicJWKS := jwk.NewSet()
	if addErr := publicJWKS.AddKey(accessPublic); addErr != nil {
		return nil, fmt.Errorf("add key to set: %w", addErr)
	}

	return &JWTManager{
		accessKey:     accessKey,
		refreshKey:    refreshKey,
		accessPublic:  accessPublic,
		refreshPublic: refreshPublic,
		publicJWKS:    publicJWKS,
		config:        cfg,
		now:           time.Now,
	}, nil
}

func loadSigningKey(path string) (jwk.Key, error) {
	privateKeyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	privateKey, err := jwk.ParseKey(privateKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	if err := prepareSigningKey(privateKey); err != nil {
		return nil, err
	}

	return privateKey, nil
}

func prepareSigningKey(key jwk.Key) error {
	if setErr := key.Set(jwk.AlgorithmKey, jwa.ES256()); setErr != nil {
		return fmt.Errorf("set algorithm: %w", setErr)
	}

	var kid string
	if err := key.Get(jwk.KeyIDKey, &kid); err != nil || kid == "" {
		if setErr := key.Set(jwk.KeyIDKey, uuid.New().String()[:8]); setErr != nil {
			return fmt.Errorf("set key id: %w", setErr)
		}
	}

	return nil
}

// GenerateSigningKey creates a fresh P-256 key ready for signing.
func GenerateSigningKey() (jwk.Key, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	key, err := jwk.Import(privateKey)
	if err != nil {
		return nil, fmt.Errorf("import private key: %w", err)
	}

	if err := prepareSigningKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

func GenerateKeyPair(privateKeyPath, publicKeyPath string) error {
	jwkPrivate, err := GenerateSigningKey()
	if err != nil {
		return err
	}

	privatePEM, err := jwk.Pem(jwkPrivate)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}

	if writeErr := os.WriteFile(privateKeyPath, privatePEM, 0o600); writeErr != nil {
		return fmt.Errorf("write private key: %w", writeErr)
	}

	jwkPublic, err := jwkPrivate.PublicKey()
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}

	publicPEM, err := jwk.Pem(jwkPublic)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}

	//nolint:gosec // G306: public key is intentionally world-readable
	if writeErr := os.WriteFile(publicKeyPath, publicPEM, 0o644); writeErr != nil {
		return fmt.Errorf("write public key: %w", writeErr)
	}

	return nil
}

func (m *JWTManager) AccessTTL() time.Duration {
	return m.config.AccessTokenExpire
}

func (m *JWTManager) RefreshTTL() time.Duration {
	return m.config.RefreshTokenExpire
}

// Issue mints a token of the given kind. It only fails when the signing key
// is unusable, which is a configuration error.
func (m *JWTManager) Issue(
	subjectID string,
	kind TokenKind,
	role string,
	ttl time.Duration,
) (*SignedToken, error) {
	key, err := m.signingKey(kind)
	if err != nil {
		return nil, err
	}

	now := m.now().Truncate(time.Second)
	claims := Claims{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Kind:      kind,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	token, err := jwt.NewBuilder().
		JwtID(claims.ID).
		Issuer(m.config.Issuer).
		Audience([]string{m.config.Audience}).
		Subject(subjectID).
		IssuedAt(claims.IssuedAt).
		Expiration(claims.ExpiresAt).
		NotBefore(claims.IssuedAt).
		Claim("role", role).
		Claim("type", string(kind)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256(), key))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &SignedToken{Value: string(signed), Claims: claims}, nil
}

// Verify checks the signature under the key for expected, then the type
// claim, issuer, audience and expiry. An expired but otherwise valid token
// returns its claims alongside core.ErrTokenExpired; every other failure
// returns nil claims.
func (m *JWTManager) Verify(
	tokenString string,
	expected TokenKind,
) (*Claims, error) {
	key, err := m.verificationKey(expected)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.ES256(), key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	var tokenType string
	if err := token.Get("type", &tokenType); err != nil ||
		TokenKind(tokenType) != expected {
		return nil, fmt.Errorf("verify token: %w", ErrWrongTokenKind)
	}

	if issuer, ok := token.Issuer(); !ok || issuer != m.config.Issuer {
		return nil, fmt.Errorf(
			"verify token: unexpected issuer: %w",
			core.ErrTokenInvalid,
		)
	}

	if audience, ok := token.Audience(); !ok ||
		!slices.Contains(audience, m.config.Audience) {
		return nil, fmt.Errorf(
			"verify token: unexpected audience: %w",
			core.ErrTokenInvalid,
		)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf(
			"verify token: missing subject: %w",
			core.ErrTokenInvalid,
		)
	}

	var role string
	if err := token.Get("role", &role); err != nil {
		return nil, fmt.Errorf(
			"verify token: missing role claim: %w",
			core.ErrTokenInvalid,
		)
	}

	expiresAt, ok := token.Expiration()
	if !ok {
		return nil, fmt.Errorf(
			"verify token: missing expiration: %w",
			core.ErrTokenInvalid,
		)
	}

	issuedAt, _ := token.IssuedAt()
	jti, _ := token.JwtID()

	claims := &Claims{
		ID:        jti,
		SubjectID: subject,
		Kind:      expected,
		Role:      role,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}

	if !expiresAt.After(m.now()) {
		return claims, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
	}

	return claims, nil
}

func (m *JWTManager) signingKey(kind TokenKind) (jwk.Key, error) {
	switch kind {
	case KindAccess:
		return m.accessKey, nil
	case KindRefresh:
		return m.refreshKey, nil
	}
	return nil, fmt.Errorf("unknown token kind %q", kind)
}

func (m *JWTManager) verificationKey(kind TokenKind) (jwk.Key, error) {
	switch kind {
	case KindAccess:
		return m.accessPublic, nil
	case KindRefresh:
		return m.refreshPublic, nil
	}
	return nil, fmt.Errorf("unknown token kind %q", kind)
}

// VerifyAccessToken keeps the claims of an expired token so the caller can
// bind a transparent refresh to the same subject.
func (m *JWTManager) VerifyAccessToken(
	_ context.Context,
	tokenString string,
) (*middleware.AccessTokenClaims, error) {
	claims, err := m.Verify(tokenString, KindAccess)
	if claims == nil {
		return nil, err
	}

	return toMiddlewareClaims(claims), err
}

// RenewAccessToken mints a fresh access token for the same subject and role.
// The refresh token is left untouched.
func (m *JWTManager) RenewAccessToken(
	_ context.Context,
	claims *middleware.AccessTokenClaims,
) (string, time.Time, error) {
	signed, err := m.Issue(
		claims.UserID,
		KindAccess,
		claims.Role,
		m.config.AccessTokenExpire,
	)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed.Value, signed.Claims.ExpiresAt, nil
}

func toMiddlewareClaims(c *Claims) *middleware.AccessTokenClaims {
	return &middleware.AccessTokenClaims{
		TokenID:   c.ID,
		UserID:    c.SubjectID,
		Role:      c.Role,
		IssuedAt:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
	}
}

func (m *JWTManager) GetJWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")

		if err := json.NewEncoder(w).Encode(m.publicJWKS); err != nil {
			http.Error(
				w,
				"Internal Server Error",
				http.StatusInternalServerError,
			)
			return
		}
	}
}

func (m *JWTManager) GetKeyID() string {
	var kid string
	//nolint:errcheck // key ID always set during key preparation
	_ = m.accessKey.Get(jwk.KeyIDKey, &kid)
	return kid
}
