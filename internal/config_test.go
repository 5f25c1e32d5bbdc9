package internal

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-side-secret"))
	require.NoError(t, err)
	return token
}

func TestLoadConfig(t *testing.T) {
	t.Run("should read the user from the token subject", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("CHAT_SERVER_ADDR", "ws://localhost:8000/ws")
		t.Setenv("CHAT_API_URL", "http://localhost:8000")
		t.Setenv("AUTH_TOKEN", signed(t, jwt.MapClaims{"sub": "alice"}))
		t.Setenv("TYPING_TTL", "4s")

		config, err := LoadConfig()

		req.NoError(err)
		req.Equal("alice", config.UserID)
		req.Equal(4*time.Second, config.TypingTTL)
		req.Equal(2*time.Second, config.TypingRefresh)
		req.Equal(2, config.TranslationWorkers)
		req.Nil(config.LimitMessages)
	})

	t.Run("should prefer an explicit user id", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("CHAT_SERVER_ADDR", "ws://localhost:8000/ws")
		t.Setenv("CHAT_API_URL", "http://localhost:8000")
		t.Setenv("AUTH_TOKEN", "opaque")
		t.Setenv("USER_ID", "bob")

		config, err := LoadConfig()

		req.NoError(err)
		req.Equal("bob", config.UserID)
	})

	t.Run("should reject a typing refresh above the ttl", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("CHAT_SERVER_ADDR", "ws://localhost:8000/ws")
		t.Setenv("CHAT_API_URL", "http://localhost:8000")
		t.Setenv("AUTH_TOKEN", "opaque")
		t.Setenv("USER_ID", "bob")
		t.Setenv("TYPING_REFRESH", "5s")

		_, err := LoadConfig()

		req.Error(err)
	})

	t.Run("should fail without a user", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("CHAT_SERVER_ADDR", "ws://localhost:8000/ws")
		t.Setenv("CHAT_API_URL", "http://localhost:8000")
		t.Setenv("AUTH_TOKEN", "opaque")

		_, err := LoadConfig()

		req.ErrorContains(err, "USER_ID")
	})
}

func TestUserIDFromToken_Missing_Subject(t *testing.T) {
	_, err := UserIDFromToken(signed(t, jwt.MapClaims{"name": "alice"}))
	require.Error(t, err)
}
