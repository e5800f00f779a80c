package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *Box {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}

func TestBox_EncryptDecryptRoundTrip(t *testing.T) {
	box := testBox(t)

	plaintext := []byte("per-customer jwt secret material")

	blob, err := box.Encrypt(plaintext)
	require.NoError(t, err)

	parts := strings.Split(blob, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 24) // 12-byte nonce
	assert.Len(t, parts[1], 32) // 16-byte tag

	decrypted, err := box.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestBox_EncryptIsRandomized(t *testing.T) {
	box := testBox(t)

	blob1, err := box.Encrypt([]byte("same input"))
	require.NoError(t, err)
	blob2, err := box.Encrypt([]byte("same input"))
	require.NoError(t, err)

	assert.NotEqual(t, blob1, blob2)
}

func TestBox_DecryptTamperedFields(t *testing.T) {
	box := testBox(t)

	blob, err := box.Encrypt([]byte("secret"))
	require.NoError(t, err)
	parts := strings.Split(blob, ":")

	flip := func(s string) string {
		b := []byte(s)
		if b[0] == 'a' {
			b[0] = 'b'
		} else {
			b[0] = 'a'
		}
		return string(b)
	}

	cases := map[string]string{
		"tampered nonce":      strings.Join([]string{flip(parts[0]), parts[1], parts[2]}, ":"),
		"tampered tag":        strings.Join([]string{parts[0], flip(parts[1]), parts[2]}, ":"),
		"tampered ciphertext": strings.Join([]string{parts[0], parts[1], flip(parts[2])}, ":"),
		"missing field":       parts[0] + ":" + parts[1],
		"not hex":             "zz:zz:zz",
		"empty":               "",
	}

	for name, tampered := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := box.Decrypt(tampered)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestBox_DecryptWithWrongKey(t *testing.T) {
	box := testBox(t)

	otherKey := make([]byte, 32)
	for i := range otherKey {
		otherKey[i] = byte(255 - i)
	}
	otherBox, err := NewBox(otherKey)
	require.NoError(t, err)

	blob, err := box.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = otherBox.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewBox_RejectsBadKeyLength(t *testing.T) {
	_, err := NewBox(make([]byte, 16))
	assert.Error(t, err)
}

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("Abcd1234!", 4)
	require.NoError(t, err)

	assert.True(t, VerifyPassword("Abcd1234!", hash))
	assert.False(t, VerifyPassword("Abcd1234?", hash))
	assert.NotContains(t, hash, "Abcd1234!")
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", token)

	other, err := GenerateToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashSHA256(t *testing.T) {
	// Well-known digest of the empty input
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashSHA256(nil))
	assert.Len(t, HashSHA256([]byte("content")), 64)
}
