package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfabric/agentmesh/store"
)

func newTestService(ttl time.Duration) *Service {
	return NewService(store.NewMemStore(), []byte("test-signing-key"), 1000, ttl)
}

func TestHashAndVerifyPassword(t *testing.T) {
	s := newTestService(time.Hour)
	hash, err := s.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, s.VerifyPassword("correct horse battery staple", hash))
	assert.False(t, s.VerifyPassword("wrong password", hash))
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	s := newTestService(time.Hour)
	assert.False(t, s.VerifyPassword("anything", "not-valid-base64!!!"))
	assert.False(t, s.VerifyPassword("anything", "c2hvcnQ="))
}

func TestGenerateAndValidateToken(t *testing.T) {
	s := newTestService(time.Hour)
	tok, err := s.GenerateToken("alice")
	require.NoError(t, err)
	sub, ok := s.ValidateToken(tok)
	require.True(t, ok)
	assert.Equal(t, "alice", sub)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	s := newTestService(-time.Second)
	tok, err := s.GenerateToken("alice")
	require.NoError(t, err)
	_, ok := s.ValidateToken(tok)
	assert.False(t, ok, "expected expired token to fail validation")
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	s := newTestService(time.Hour)
	tok, err := s.GenerateToken("alice")
	require.NoError(t, err)

	parts := splitToken(tok)
	// Flip a character in the signature.
	tamperedSig := flipChar(parts[1])
	_, ok := s.ValidateToken(parts[0] + "." + tamperedSig)
	assert.False(t, ok, "expected tampered signature to fail validation")

	// Swap in a forged payload claiming to be admin, keeping the original signature.
	forged, err := NewService(nil, []byte("different-key"), 1000, time.Hour).GenerateToken("admin")
	require.NoError(t, err)
	forgedParts := splitToken(forged)
	_, ok = s.ValidateToken(forgedParts[0] + "." + parts[1])
	assert.False(t, ok, "expected forged payload with original signature to fail validation")
}

func splitToken(tok string) [2]string {
	for i := range tok {
		if tok[i] == '.' {
			return [2]string{tok[:i], tok[i+1:]}
		}
	}
	return [2]string{tok, ""}
}

func flipChar(s string) string {
	if len(s) == 0 {
		return s
	}
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
