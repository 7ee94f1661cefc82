package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	envelope, err := Encrypt("master-key-for-tests", "sk-upstream-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-upstream-secret", envelope)
	assert.Equal(t, "sk-upstream-secret", Decrypt("master-key-for-tests", envelope))
}

func TestDecrypt_WrongKeyFallsBackToInput(t *testing.T) {
	envelope, err := Encrypt("key-one", "sk-upstream-secret")
	require.NoError(t, err)
	assert.Equal(t, envelope, Decrypt("key-two", envelope))
}

func TestDecrypt_NonEnvelopeLiteralFallsBackUnchanged(t *testing.T) {
	assert.Equal(t, "plain-literal-key", Decrypt("master-key", "plain-literal-key"))
}

func TestDeriveKey_PadsShortMasterKey(t *testing.T) {
	envelope, err := Encrypt("short", "secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", Decrypt("short", envelope))
}
