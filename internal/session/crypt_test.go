package session

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncryptDecryptRoundTripRSA covers decrypt(encrypt(x, sessionId,
// pub), sessionId, priv) == x for x shorter than the RSA modulus, under
// RSA session encryption.
func TestEncryptDecryptRoundTripRSA(t *testing.T) {
	priv, err := generateSessionKeyPair()
	require.NoError(t, err)
	pub := publicKeyOf(priv)

	sessionID, err := randomBytes(sessionIDLength)
	require.NoError(t, err)

	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("hello, session"),
		make([]byte, 190), // close to the OAEP/SHA-256/2048-bit ceiling
	}

	for _, cleartext := range cases {
		ciphertext, err := EncryptCleartext(EncryptRSA, cleartext, sessionID, &pub)
		require.NoError(t, err)

		got, err := DecryptCleartext(EncryptRSA, ciphertext, sessionID, priv)
		require.NoError(t, err)
		assert.Equal(t, cleartext, got)
	}
}

// TestEncryptDecryptRoundTripNone covers the same invariant for
// EncryptNone, where the envelope is the XOR mask alone.
func TestEncryptDecryptRoundTripNone(t *testing.T) {
	sessionID, err := randomBytes(sessionIDLength)
	require.NoError(t, err)

	cleartext := []byte("plain session payload")
	ciphertext, err := EncryptCleartext(EncryptNone, cleartext, sessionID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, cleartext, ciphertext)

	got, err := DecryptCleartext(EncryptNone, ciphertext, sessionID, nil)
	require.NoError(t, err)
	assert.Equal(t, cleartext, got)
}

// TestPasswordVerification covers the case where the server holds
// SHA256("secret"), the client sends password=hex:736563726574 (the hex
// encoding of "secret") XORed with a known session id, and verification
// succeeds.
func TestPasswordVerification(t *testing.T) {
	storedHash := HashPassword("secret")
	sum := sha256.Sum256([]byte("secret"))
	assert.Equal(t, hex.EncodeToString(sum[:]), storedHash)

	sessionID := []byte("0123456789abcdef") // 16-byte stand-in session id

	payload, err := hex.DecodeString("736563726574") // "secret"
	require.NoError(t, err)

	masked := xorWithSessionID(payload, sessionID)
	recovered := xorWithSessionID(masked, sessionID)
	assert.Equal(t, "secret", string(recovered))

	assert.True(t, VerifyPassword(string(recovered), storedHash))
	assert.False(t, VerifyPassword("wrong-password", storedHash))
}

// TestPayloadEncodingRoundTrip exercises the base64:/hex:/raw-hex envelope
// forms used for AUTHORIZE and key-delivery payloads.
func TestPayloadEncodingRoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xFE, 0xFF, 'h', 'i'}

	b64, err := DecodePayload(EncodePayload(data))
	require.NoError(t, err)
	assert.Equal(t, data, b64)

	hx, err := DecodePayload("hex:" + hex.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, data, hx)

	raw, err := DecodePayload(hex.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

// TestPublicKeyDecimalRoundTrip covers the greeting's n=/e= decimal
// encoding used for RSA public keys.
func TestPublicKeyDecimalRoundTrip(t *testing.T) {
	priv, err := generateSessionKeyPair()
	require.NoError(t, err)
	pub := publicKeyOf(priv)

	n, e := FormatPublicKeyDecimal(pub)
	parsed, err := ParsePublicKeyDecimal(n, e)
	require.NoError(t, err)
	assert.Equal(t, pub.N, parsed.N)
	assert.Equal(t, pub.E, parsed.E)
}

func TestParseEncryptType(t *testing.T) {
	et, err := ParseEncryptType("RSA")
	require.NoError(t, err)
	assert.Equal(t, EncryptRSA, et)

	et, err = ParseEncryptType("none")
	require.NoError(t, err)
	assert.Equal(t, EncryptNone, et)

	_, err = ParseEncryptType("AES")
	assert.Error(t, err)
}
