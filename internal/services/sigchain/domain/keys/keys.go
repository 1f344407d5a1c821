// Package keys wraps the signing, sealing and symmetric primitives used by
// the chains: ed25519 signatures, NaCl box for key wrapping and NaCl
// secretbox for log and invite encryption. Ciphertexts are nonce||box.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
)

const (
	// SeedSize is the ed25519 seed length.
	SeedSize = ed25519.SeedSize
	// BoxKeySize is the curve25519 key length.
	BoxKeySize = 32
	// SymmetricKeySize is the secretbox key length.
	SymmetricKeySize = 32
	// NonceSize is the box and secretbox nonce length.
	NonceSize = 24
	// RequestNonceSize is the length of random read-request nonces.
	RequestNonceSize = 32
)

// SignKeyPair is an ed25519 signing identity.
type SignKeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateSignKeyPair creates a random signing key pair.
func GenerateSignKeyPair() (SignKeyPair, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return SignKeyPair{}, fmt.Errorf("generate seed: %w", err)
	}
	return SignKeyPairFromSeed(seed)
}

// SignKeyPairFromSeed derives the key pair for a 32-byte seed.
func SignKeyPairFromSeed(seed []byte) (SignKeyPair, error) {
	if len(seed) != SeedSize {
		return SignKeyPair{}, apperrors.Errorf(apperrors.CodeInvalidKey, "seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return SignKeyPair{PublicKey: priv.Public().(ed25519.PublicKey), PrivateKey: priv}, nil
}

// Seed returns the 32-byte seed of the key pair.
func (k SignKeyPair) Seed() []byte { return k.PrivateKey.Seed() }

// Sign signs message.
func (k SignKeyPair) Sign(message []byte) []byte { return ed25519.Sign(k.PrivateKey, message) }

// VerifySignature checks an ed25519 signature. Malformed keys or signatures
// map to CRYPTO_INVALID_KEY / CRYPTO_INVALID_SIGNATURE.
func VerifySignature(publicKey, message, signature []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return apperrors.New(apperrors.CodeInvalidKey, "invalid public key")
	}
	if len(signature) != ed25519.SignatureSize {
		return apperrors.New(apperrors.CodeInvalidSignature, "invalid signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return apperrors.New(apperrors.CodeInvalidSignature, "signature verification failed")
	}
	return nil
}

// BoxKeyPair is a curve25519 encryption identity.
type BoxKeyPair struct {
	PublicKey *[BoxKeySize]byte
	SecretKey *[BoxKeySize]byte
}

// GenerateBoxKeyPair creates a random encryption key pair.
func GenerateBoxKeyPair() (BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return BoxKeyPair{}, fmt.Errorf("generate box key: %w", err)
	}
	return BoxKeyPair{PublicKey: pub, SecretKey: priv}, nil
}

// BoxKeyPairFromSecret rebuilds a key pair from its secret key.
func BoxKeyPairFromSecret(secret []byte) (BoxKeyPair, error) {
	sk, err := boxKey(secret)
	if err != nil {
		return BoxKeyPair{}, err
	}
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return BoxKeyPair{}, apperrors.Wrap(apperrors.CodeInvalidKey, "derive box public key", err)
	}
	var pk [BoxKeySize]byte
	copy(pk[:], pub)
	return BoxKeyPair{PublicKey: &pk, SecretKey: sk}, nil
}

// PublicKeyBytes returns a copy of the public key.
func (k BoxKeyPair) PublicKeyBytes() []byte {
	if k.PublicKey == nil {
		return nil
	}
	return append([]byte(nil), k.PublicKey[:]...)
}

// Seal encrypts plaintext from the sender's secret key to recipient.
func Seal(plaintext, recipientPublicKey []byte, senderSecretKey *[BoxKeySize]byte) ([]byte, error) {
	recipient, err := boxKey(recipientPublicKey)
	if err != nil {
		return nil, err
	}
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return box.Seal(nonce[:], plaintext, nonce, recipient, senderSecretKey), nil
}

// Open decrypts a Seal ciphertext sent by senderPublicKey.
func Open(nonceAndCiphertext, senderPublicKey []byte, recipientSecretKey *[BoxKeySize]byte) ([]byte, error) {
	if len(nonceAndCiphertext) < NonceSize+box.Overhead {
		return nil, apperrors.New(apperrors.CodeDecryptionFailed, "ciphertext too short")
	}
	sender, err := boxKey(senderPublicKey)
	if err != nil {
		return nil, err
	}
	var nonce [NonceSize]byte
	copy(nonce[:], nonceAndCiphertext[:NonceSize])
	plaintext, ok := box.Open(nil, nonceAndCiphertext[NonceSize:], &nonce, sender, recipientSecretKey)
	if !ok {
		return nil, apperrors.New(apperrors.CodeDecryptionFailed, "box open failed")
	}
	return plaintext, nil
}

// NewSymmetricKey returns a random secretbox key.
func NewSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate symmetric key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a 32-byte symmetric key.
func Encrypt(plaintext, symmetricKey []byte) ([]byte, error) {
	key, err := secretKey(symmetricKey)
	if err != nil {
		return nil, err
	}
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, nonce, key), nil
}

// Decrypt opens an Encrypt ciphertext.
func Decrypt(nonceAndCiphertext, symmetricKey []byte) ([]byte, error) {
	if len(nonceAndCiphertext) < NonceSize+secretbox.Overhead {
		return nil, apperrors.New(apperrors.CodeDecryptionFailed, "ciphertext too short")
	}
	key, err := secretKey(symmetricKey)
	if err != nil {
		return nil, err
	}
	var nonce [NonceSize]byte
	copy(nonce[:], nonceAndCiphertext[:NonceSize])
	plaintext, ok := secretbox.Open(nil, nonceAndCiphertext[NonceSize:], &nonce, key)
	if !ok {
		return nil, apperrors.New(apperrors.CodeDecryptionFailed, "secretbox open failed")
	}
	return plaintext, nil
}

// Ephemeral is a one-off encryption under a freshly generated key.
type Ephemeral struct {
	SymmetricKey       []byte
	NonceAndCiphertext []byte
}

// EphemeralEncrypt encrypts plaintext under a new random key.
func EphemeralEncrypt(plaintext []byte) (Ephemeral, error) {
	key, err := NewSymmetricKey()
	if err != nil {
		return Ephemeral{}, err
	}
	ciphertext, err := Encrypt(plaintext, key)
	if err != nil {
		return Ephemeral{}, err
	}
	return Ephemeral{SymmetricKey: key, NonceAndCiphertext: ciphertext}, nil
}

// Hash is SHA256.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// RandomNonce returns RequestNonceSize random bytes for read requests.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, RequestNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

func newNonce() (*[NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return &nonce, nil
}

func boxKey(key []byte) (*[BoxKeySize]byte, error) {
	if len(key) != BoxKeySize {
		return nil, apperrors.Errorf(apperrors.CodeInvalidKey, "box key must be %d bytes, got %d", BoxKeySize, len(key))
	}
	var out [BoxKeySize]byte
	copy(out[:], key)
	return &out, nil
}

func secretKey(key []byte) (*[SymmetricKeySize]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, apperrors.Errorf(apperrors.CodeInvalidKey, "symmetric key must be %d bytes, got %d", SymmetricKeySize, len(key))
	}
	var out [SymmetricKeySize]byte
	copy(out[:], key)
	return &out, nil
}
