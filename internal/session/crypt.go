package session

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/coldroot-labs/barc/internal/barcerr"
)

// EncryptType selects the session's payload encryption.
type EncryptType int

const (
	EncryptNone EncryptType = iota
	EncryptRSA
)

func (t EncryptType) String() string {
	switch t {
	case EncryptRSA:
		return "RSA"
	default:
		return "NONE"
	}
}

// ParseEncryptType maps a wire token back to an EncryptType.
func ParseEncryptType(s string) (EncryptType, error) {
	switch strings.ToUpper(s) {
	case "NONE", "":
		return EncryptNone, nil
	case "RSA":
		return EncryptRSA, nil
	default:
		return EncryptNone, barcerr.New(barcerr.CodeUnknownValue, "unknown encrypt type %q", s)
	}
}

// rsaKeyBits is the transient per-session RSA key size. Session keys are
// generated fresh per connection and never persisted.
const rsaKeyBits = 2048

// generateSessionKeyPair creates a fresh RSA key pair for one session.
func generateSessionKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, barcerr.Wrap(barcerr.CodeInitCrypt, err, "generating session RSA key")
	}
	return key, nil
}

// PublicKey is the (n, e) pair as carried on the wire, decimal-encoded.
type PublicKey struct {
	N *big.Int
	E int
}

func publicKeyOf(priv *rsa.PrivateKey) PublicKey {
	return PublicKey{N: priv.PublicKey.N, E: priv.PublicKey.E}
}

// xorWithSessionID cycles sessionID over data, used both as the final
// encryption step and, applied a second time, as decryption (XOR is its
// own inverse).
func xorWithSessionID(data, sessionID []byte) []byte {
	if len(sessionID) == 0 {
		return data
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ sessionID[i%len(sessionID)]
	}
	return out
}

// EncodePayload produces the "base64:<b64>" wire form of ciphertext, the
// encoding AUTHORIZE and key-delivery commands use.
func EncodePayload(ciphertext []byte) string {
	return "base64:" + base64.StdEncoding.EncodeToString(ciphertext)
}

// DecodePayload accepts any of the three wire forms allows:
// "base64:<b64>", "hex:<hex>", or raw hex with no prefix.
func DecodePayload(s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "base64:"))
		if err != nil {
			return nil, barcerr.Wrap(barcerr.CodeInvalidEncoding, err, "decoding base64 payload")
		}
		return b, nil
	case strings.HasPrefix(s, "hex:"):
		b, err := hex.DecodeString(strings.TrimPrefix(s, "hex:"))
		if err != nil {
			return nil, barcerr.Wrap(barcerr.CodeInvalidEncoding, err, "decoding hex payload")
		}
		return b, nil
	default:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, barcerr.Wrap(barcerr.CodeInvalidEncoding, err, "decoding raw hex payload")
		}
		return b, nil
	}
}

// EncryptCleartext implements the sender side of payload encryption:
// the cleartext is first XORed with the session id (cycled), then — for
// RSA sessions — encrypted under the peer's public key. For EncryptNone
// the XOR step alone is the wire payload, matching the original's
// behaviour of always applying the session-id mask even without
// asymmetric crypto.
func EncryptCleartext(encType EncryptType, cleartext, sessionID []byte, peerPub *PublicKey) ([]byte, error) {
	masked := xorWithSessionID(cleartext, sessionID)
	if encType == EncryptNone {
		return masked, nil
	}
	if peerPub == nil {
		return nil, barcerr.New(barcerr.CodeInvalidKey, "no RSA public key available for encryption")
	}
	pub := &rsa.PublicKey{N: peerPub.N, E: peerPub.E}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, masked, nil)
	if err != nil {
		return nil, barcerr.Wrap(barcerr.CodeInitCrypt, err, "RSA-OAEP encrypt")
	}
	return ciphertext, nil
}

// DecryptCleartext implements the receiver side of payload encryption:
// RSA decrypt (if applicable) followed by undoing the session-id XOR
// mask.
func DecryptCleartext(encType EncryptType, ciphertext, sessionID []byte, priv *rsa.PrivateKey) ([]byte, error) {
	masked := ciphertext
	if encType == EncryptRSA {
		if priv == nil {
			return nil, barcerr.New(barcerr.CodeInvalidKey, "no RSA private key available for decryption")
		}
		plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
		if err != nil {
			return nil, barcerr.Wrap(barcerr.CodeInvalidKey, err, "RSA-OAEP decrypt")
		}
		masked = plain
	}
	return xorWithSessionID(masked, sessionID), nil
}

// HashPassword returns the SHA-256 hex digest of a plaintext password, the
// form the AUTHORIZE verifier compares against the configured hash.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks a candidate plaintext password against a stored
// SHA-256 hex digest in constant time.
func VerifyPassword(password, storedHashHex string) bool {
	got := HashPassword(password)
	if len(got) != len(storedHashHex) {
		return false
	}
	var diff byte
	for i := 0; i < len(got); i++ {
		diff |= got[i] ^ storedHashHex[i]
	}
	return diff == 0
}

// FormatPublicKeyDecimal renders n/e as the decimal strings the greeting
// line carries ("n=<decimal> e=<decimal>").
func FormatPublicKeyDecimal(pub PublicKey) (n, e string) {
	return pub.N.String(), fmt.Sprintf("%d", pub.E)
}

// ParsePublicKeyDecimal parses the greeting's decimal n/e back into a key.
func ParsePublicKeyDecimal(n, e string) (*PublicKey, error) {
	nn, ok := new(big.Int).SetString(n, 10)
	if !ok {
		return nil, barcerr.New(barcerr.CodeInvalidKey, "invalid RSA modulus %q", n)
	}
	var ee int
	if _, err := fmt.Sscanf(e, "%d", &ee); err != nil {
		return nil, barcerr.Wrap(barcerr.CodeInvalidKey, err, "invalid RSA exponent %q", e)
	}
	return &PublicKey{N: nn, E: ee}, nil
}
