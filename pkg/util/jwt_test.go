package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	token, err := GenerateJWT("gui", "secret", time.Hour)
	require.NoError(t, err)

	sub, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "gui", sub)

	_, err = ParseJWT(token, "other")
	assert.Error(t, err)
}

func TestJWT_Expired(t *testing.T) {
	token, err := GenerateJWT("gui", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(token, "secret")
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
}
