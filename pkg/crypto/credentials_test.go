package crypto

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 32 bytes, base64 encoded, as openssl rand -base64 32 would produce.
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func TestNewCredentialEncryptor_KeyForms(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"base64 32-byte key", testKey},
		{"plain passphrase", "my-simple-passphrase"},
		{"base64 of wrong length falls back to hashing", base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewCredentialEncryptor(tt.key)
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}

	_, err := NewCredentialEncryptor("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	// The shapes that actually land in integrations.credentials.
	jiraCreds, _ := json.Marshal(map[string]string{
		"email":     "svc-health-pulse@example.com",
		"api_token": "ATATT3xFfGF0" + strings.Repeat("x", 80),
	})
	plaintexts := []string{
		string(jiraCreds),
		"token-with-unicode-密钥-🔑",
		"key!@#$%^&*()_+-=[]{}|;':\",./<>?",
		"spans\nmultiple\r\nlines",
	}

	for _, plaintext := range plaintexts {
		encrypted, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)

		// ciphertext is transportable base64
		_, err = base64.StdEncoding.DecodeString(encrypted)
		require.NoError(t, err)

		decrypted, err := enc.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptDecrypt_EmptyPassthrough(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	encrypted, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, encrypted)

	decrypted, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, decrypted)
}

func TestEncrypt_NoncesNeverRepeat(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		encrypted, err := enc.Encrypt("same-plaintext")
		require.NoError(t, err)
		require.False(t, seen[encrypted], "nonce reuse: duplicate ciphertext")
		seen[encrypted] = true
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	enc1, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)
	enc2, err := NewCredentialEncryptor("a-different-passphrase")
	require.NoError(t, err)

	encrypted, err := enc1.Encrypt("secret-api-token")
	require.NoError(t, err)

	_, err = enc2.Decrypt(encrypted)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_RejectsMalformedInput(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "not-valid-base64!!!"},
		{"shorter than nonce and tag", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"corrupted ciphertext", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 50)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Decrypt(tt.input)
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestPassphraseDerivationIsDeterministic(t *testing.T) {
	enc1, err := NewCredentialEncryptor("shared-passphrase")
	require.NoError(t, err)
	enc2, err := NewCredentialEncryptor("shared-passphrase")
	require.NoError(t, err)

	encrypted, err := enc1.Encrypt("credential")
	require.NoError(t, err)

	decrypted, err := enc2.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "credential", decrypted)
}
