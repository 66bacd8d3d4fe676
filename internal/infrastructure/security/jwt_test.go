package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	t.Parallel()

	token, err := GenerateAdminToken("ops", "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "s3cret")
	require.NoError(t, err)
	assert.True(t, IsAdmin(claims))
	assert.Equal(t, "ops", claims["sub"])

	_, err = ValidateJWT(token, "other")
	assert.Error(t, err)
}

func TestExpiredAdminTokenIsRejected(t *testing.T) {
	t.Parallel()

	token, err := GenerateAdminToken("ops", "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(token, "s3cret")
	assert.Error(t, err)
}

func TestMissingSecret(t *testing.T) {
	t.Parallel()

	_, err := GenerateAdminToken("ops", "", time.Hour)
	assert.Error(t, err)
	_, err = ValidateJWT("abc", "")
	assert.Error(t, err)
}

func TestAdminSecrets(t *testing.T) {
	t.Parallel()

	secret, err := GenerateAdminSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 2*AdminSecretBytes)
	assert.NoError(t, CheckAdminSecret(secret))

	other, err := GenerateAdminSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)

	assert.Error(t, CheckAdminSecret("short"))
	assert.Error(t, CheckAdminSecret(""))
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()

	assert.Len(t, NewTokenID(), 26)
	id := NewStreamClientID()
	assert.True(t, strings.HasPrefix(id, "stream-"))
	assert.NotEqual(t, id, NewStreamClientID())
}
