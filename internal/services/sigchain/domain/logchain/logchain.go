// Package logchain holds the envelope encryption of per-member audit log
// chains: the log key is sealed to each recipient's box key, and entries
// are secretbox ciphertexts under that key.
package logchain

import (
	"bytes"
	"encoding/json"
	"sort"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
)

// PlanWrap diffs the expected recipient set (admins plus the owner) against
// the recipients the current key was wrapped to.
//
// It returns nil when the sets match. When nobody was removed the current
// key, or a new one if none exists yet, is wrapped to the added recipients
// only. When anyone was removed a fresh key is wrapped to every expected
// recipient; entries written before the rotation stay readable with the old
// key.
func PlanWrap(expected, current [][]byte, chainKey []byte, owner keys.BoxKeyPair) (protocol.LogOperation, error) {
	expected = uniqueKeys(expected)
	current = uniqueKeys(current)
	added := difference(expected, current)
	removed := difference(current, expected)
	if len(added) == 0 && len(removed) == 0 {
		return nil, nil
	}

	if len(removed) == 0 {
		key := chainKey
		if len(key) == 0 {
			var err error
			if key, err = keys.NewSymmetricKey(); err != nil {
				return nil, err
			}
		}
		wrapped, err := WrapKey(key, added, owner)
		if err != nil {
			return nil, err
		}
		return protocol.AddWrappedKeys(wrapped), nil
	}

	key, err := keys.NewSymmetricKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := WrapKey(key, expected, owner)
	if err != nil {
		return nil, err
	}
	return protocol.RotateKey(wrapped), nil
}

// WrapKey seals key to each recipient. Recipients that are not valid box
// keys are skipped.
func WrapKey(key []byte, recipients [][]byte, owner keys.BoxKeyPair) ([]protocol.WrappedKey, error) {
	body, err := json.Marshal(protocol.LogEncryptionKey{Key: key})
	if err != nil {
		return nil, err
	}
	wrapped := make([]protocol.WrappedKey, 0, len(recipients))
	for _, recipient := range recipients {
		if len(recipient) != keys.BoxKeySize {
			continue
		}
		ciphertext, err := keys.Seal(body, recipient, owner.SecretKey)
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, protocol.WrappedKey{
			RecipientPublicKey: append([]byte(nil), recipient...),
			Ciphertext:         ciphertext,
		})
	}
	return wrapped, nil
}

// UnwrapKey opens a wrapped key sealed by the log chain owner's box key.
func UnwrapKey(wrapped protocol.WrappedKey, ownerBoxPublicKey []byte, recipient keys.BoxKeyPair) ([]byte, error) {
	plaintext, err := keys.Open(wrapped.Ciphertext, ownerBoxPublicKey, recipient.SecretKey)
	if err != nil {
		return nil, err
	}
	var body protocol.LogEncryptionKey
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptionFailed, "decode wrapped log key", err)
	}
	if len(body.Key) != keys.SymmetricKeySize {
		return nil, apperrors.New(apperrors.CodeDecryptionFailed, "wrapped log key has the wrong size")
	}
	return body.Key, nil
}

// KeyFor returns the wrapped key addressed to recipient, if any.
func KeyFor(wrapped []protocol.WrappedKey, recipient []byte) (protocol.WrappedKey, bool) {
	for _, w := range wrapped {
		if bytes.Equal(w.RecipientPublicKey, recipient) {
			return w, true
		}
	}
	return protocol.WrappedKey{}, false
}

// EncryptLog seals an encoded audit log under the chain key.
func EncryptLog(logJSON, key []byte) (protocol.EncryptLog, error) {
	if len(key) == 0 {
		return protocol.EncryptLog{}, apperrors.New(apperrors.CodeLogChainSymmetricKeyUnavailable, "log chain has no encryption key")
	}
	ciphertext, err := keys.Encrypt(logJSON, key)
	if err != nil {
		return protocol.EncryptLog{}, err
	}
	return protocol.EncryptLog{Ciphertext: ciphertext}, nil
}

// DecryptLog opens an encrypted entry and returns the log with its JSON.
func DecryptLog(entry protocol.EncryptLog, key []byte) (protocol.Log, []byte, error) {
	if len(key) == 0 {
		return protocol.Log{}, nil, apperrors.New(apperrors.CodeLogChainSymmetricKeyUnavailable, "log chain has no encryption key")
	}
	plaintext, err := keys.Decrypt(entry.Ciphertext, key)
	if err != nil {
		return protocol.Log{}, nil, err
	}
	var log protocol.Log
	if err := json.Unmarshal(plaintext, &log); err != nil {
		return protocol.Log{}, nil, apperrors.Wrap(apperrors.CodeMessageMalformed, "decode audit log", err)
	}
	return log, plaintext, nil
}

func uniqueKeys(in [][]byte) [][]byte {
	out := make([][]byte, 0, len(in))
	for _, k := range in {
		if !contains(out, k) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

func difference(a, b [][]byte) [][]byte {
	var out [][]byte
	for _, k := range a {
		if !contains(b, k) {
			out = append(out, k)
		}
	}
	return out
}

func contains(set [][]byte, k []byte) bool {
	for _, s := range set {
		if bytes.Equal(s, k) {
			return true
		}
	}
	return false
}
