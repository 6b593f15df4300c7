package token

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 測試產生的 token 可被解析, 有無 Bearer 前綴皆可
func TestGenerateAndParse(t *testing.T) {
	SetSecret("unit-test-secret")

	tok, err := GenerateJWT("alice", "member", "chat_service")
	require.NoError(t, err)

	for _, s := range []string{tok, "Bearer " + tok} {
		claims, err := ParseJWT(s)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.MemberID)
		assert.Equal(t, "member", claims.Role)
		assert.Equal(t, "chat_service", claims.Issuer)
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	SetSecret("unit-test-secret")

	_, err := ParseJWT("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// 不同 secret 簽的 token
	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{MemberID: "alice"}).SignedString([]byte("someone-else"))
	require.NoError(t, err)
	_, err = ParseJWT(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// 沒有 member id
	empty, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString(JWTSecret)
	require.NoError(t, err)
	_, err = ParseJWT(empty)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSetSecretEmptyKeepsCurrent(t *testing.T) {
	SetSecret("kept")
	SetSecret("")
	assert.Equal(t, []byte("kept"), JWTSecret)
}
