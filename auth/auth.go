// Package auth implements password hashing and bearer-token issuance
// for the mesh's auth service. PBKDF2-HMAC-SHA256 is an
// ecosystem-standard choice (golang.org/x/crypto/pbkdf2) — no repo in
// the example pack implements password hashing directly, but
// golang.org/x/crypto already sits in the broader corpus's dependency
// graph, so this is additive rather than foreign.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen = 16
	keyLen  = 32
)

// TokenClaims is the bearer token payload shape.
type TokenClaims struct {
	Sub string `json:"sub"`
	IAT int64  `json:"iat"`
	Exp int64  `json:"exp"`
	JTI string `json:"jti"`
}

// Service implements password hashing/verification and HMAC-signed
// bearer token issue/validate.
type Service struct {
	st         store.Store
	signingKey []byte
	iterations int
	tokenTTL   time.Duration
}

// NewService constructs an auth Service. iterations defaults to 100000
// if zero or below the configured floor. tokenTTL is used as given: a
// zero TTL yields tokens valid only within their issuing second, and a
// negative TTL yields tokens that are already expired.
func NewService(st store.Store, signingKey []byte, iterations int, tokenTTL time.Duration) *Service {
	if iterations < 1000 {
		iterations = 100_000
	}
	return &Service{st: st, signingKey: signingKey, iterations: iterations, tokenTTL: tokenTTL}
}

// HashPassword derives a PBKDF2-HMAC-SHA256 hash with a fresh random
// salt, returning base64url(salt ∥ key).
func (s *Service) HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", meshcore.NewMeshError("hash_password", "internal", err)
	}
	key := pbkdf2.Key([]byte(password), salt, s.iterations, keyLen, sha256.New)
	combined := append(salt, key...)
	return base64.URLEncoding.EncodeToString(combined), nil
}

// VerifyPassword performs a constant-time comparison of password
// against the stored hash. Malformed encodings or wrong lengths return
// false rather than an error.
func (s *Service) VerifyPassword(password, storedHash string) bool {
	raw, err := base64.URLEncoding.DecodeString(storedHash)
	if err != nil || len(raw) != saltLen+keyLen {
		return false
	}
	salt := raw[:saltLen]
	wantKey := raw[saltLen:]
	gotKey := pbkdf2.Key([]byte(password), salt, s.iterations, keyLen, sha256.New)
	return subtle.ConstantTimeCompare(wantKey, gotKey) == 1
}

// GenerateToken issues a signed bearer token for user.
func (s *Service) GenerateToken(user string) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Sub: user,
		IAT: now.Unix(),
		Exp: now.Add(s.tokenTTL).Unix(),
		JTI: uuid.NewString(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", meshcore.NewMeshError("generate_token", "internal", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	sig := s.sign(payloadB64)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)
	return payloadB64 + "." + sigB64, nil
}

// ValidateToken verifies the signature and expiry of tok, returning the
// subject on success.
func (s *Service) ValidateToken(tok string) (string, bool) {
	parts := strings.SplitN(tok, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	payloadB64, sigB64 := parts[0], parts[1]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", false
	}
	expected := s.sign(payloadB64)
	if !hmac.Equal(sig, expected) {
		return "", false
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", false
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", false
	}
	if time.Now().Unix() > claims.Exp {
		return "", false
	}
	return claims.Sub, true
}

func (s *Service) sign(payloadB64 string) []byte {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}
