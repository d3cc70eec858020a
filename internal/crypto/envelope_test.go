package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, kid string) Key {
	t.Helper()
	var k Key
	for i := range k.Bytes {
		k.Bytes[i] = byte(i)
	}
	k.KID = kid
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t, "std")
	aad := CanonicalAAD("chat", "k1", "2026-07-30T00:00:00Z", false)

	env, err := Encrypt(key, []byte("my password is hunter2"), aad)
	require.NoError(t, err)
	require.Equal(t, Scheme, env.Scheme)
	require.Equal(t, Algorithm, env.Alg)
	require.Equal(t, "std", env.KID)

	plaintext, err := Decrypt(key, env)
	require.NoError(t, err)
	require.Equal(t, "my password is hunter2", string(plaintext))
}

func TestDecryptTamperDetection(t *testing.T) {
	key := testKey(t, "std")
	aad := CanonicalAAD("chat", "k1", "2026-07-30T00:00:00Z", false)

	env, err := Encrypt(key, []byte("secret"), aad)
	require.NoError(t, err)

	t.Run("tampered aad", func(t *testing.T) {
		tampered := *env
		tampered.AAD = CanonicalAADBase64(t, "chat", "k2", "2026-07-30T00:00:00Z")
		_, err := Decrypt(key, &tampered)
		require.ErrorIs(t, err, ErrAuthFailure)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := *env
		tampered.CT = flipLastByte(t, tampered.CT)
		_, err := Decrypt(key, &tampered)
		require.ErrorIs(t, err, ErrAuthFailure)
	})

	t.Run("tampered nonce", func(t *testing.T) {
		tampered := *env
		tampered.Nonce = flipLastByte(t, tampered.Nonce)
		_, err := Decrypt(key, &tampered)
		require.ErrorIs(t, err, ErrAuthFailure)
	})

	t.Run("key mismatch", func(t *testing.T) {
		other := testKey(t, "other")
		_, err := Decrypt(other, env)
		require.ErrorIs(t, err, ErrAuthFailure)
	})
}

func CanonicalAADBase64(t *testing.T, kind, key, ts string) string {
	t.Helper()
	return marshalB64(t, CanonicalAAD(kind, key, ts, false))
}

func marshalB64(t *testing.T, b []byte) string {
	t.Helper()
	env, err := Encrypt(testKey(t, "x"), []byte("noop"), b)
	require.NoError(t, err)
	return env.AAD
}

func flipLastByte(t *testing.T, s string) string {
	t.Helper()
	b, err := base64.URLEncoding.DecodeString(s)
	require.NoError(t, err)
	require.NotEmpty(t, b)
	b[len(b)-1] ^= 0xFF
	return base64.URLEncoding.EncodeToString(b)
}

func TestEnvelopeMarshalUnmarshal(t *testing.T) {
	key := testKey(t, "std")
	env, err := Encrypt(key, []byte("value"), CanonicalAAD("chat", "k1", "t", false))
	require.NoError(t, err)

	data, err := Marshal(env)
	require.NoError(t, err)

	parsed, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, env.CT, parsed.CT)

	plaintext, err := Decrypt(key, parsed)
	require.NoError(t, err)
	require.Equal(t, "value", string(plaintext))
}

func TestUnmarshalRejectsSchemeMismatch(t *testing.T) {
	_, err := Unmarshal([]byte(`{"scheme":"other.v1"}`))
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}
