// Package invite builds and opens indirect invitation links.
//
// A link carries only a random symmetric key. The team stores the sealed
// IndirectInvitationSecret under SHA256(key), so holding the link is what
// lets a joiner fetch and open the nonce key pair used to sign acceptance.
package invite

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
)

// LinkPrefix starts every invite link.
const LinkPrefix = "krypton://join_team/"

// Link is a freshly minted indirect invitation.
type Link struct {
	// Invitation is the operation body an admin appends to the main chain.
	Invitation protocol.IndirectInvitation
	// URL is shared out of band with the joiners.
	URL string
	// Nonce is the disposable key pair whose seed is sealed in the secret.
	Nonce keys.SignKeyPair
}

// Create seals a new invitation secret checkpointed at lastBlockHash.
func Create(teamPublicKey, lastBlockHash []byte, restriction protocol.Restriction) (Link, error) {
	nonce, err := keys.GenerateSignKeyPair()
	if err != nil {
		return Link{}, err
	}
	secret := protocol.IndirectInvitationSecret{
		InitialTeamPublicKey: teamPublicKey,
		LastBlockHash:        lastBlockHash,
		NonceKeypairSeed:     nonce.Seed(),
		Restriction:          restriction,
	}
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return Link{}, apperrors.Wrap(apperrors.CodeMessageMalformed, "encode invitation secret", err)
	}
	sealed, err := keys.EphemeralEncrypt(plaintext)
	if err != nil {
		return Link{}, err
	}
	return Link{
		Invitation: protocol.IndirectInvitation{
			NoncePublicKey:         nonce.PublicKey,
			Restriction:            restriction,
			InviteSymmetricKeyHash: KeyHash(sealed.SymmetricKey),
			InviteCiphertext:       sealed.NonceAndCiphertext,
		},
		URL:   LinkPrefix + base64.URLEncoding.EncodeToString(sealed.SymmetricKey),
		Nonce: nonce,
	}, nil
}

// ParseLink extracts the symmetric key from an invite link.
func ParseLink(link string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(link), LinkPrefix)
	if !ok || encoded == "" {
		return nil, apperrors.New(apperrors.CodeInviteLinkMalformed, "invite link must start with "+LinkPrefix)
	}
	key, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInviteLinkMalformed, "invite link key is not base64", err)
	}
	if len(key) != keys.SymmetricKeySize {
		return nil, apperrors.New(apperrors.CodeInviteLinkMalformed, "invite link key has the wrong size")
	}
	return key, nil
}

// KeyHash is the lookup key for an invitation ciphertext.
func KeyHash(symmetricKey []byte) []byte { return keys.Hash(symmetricKey) }

// OpenSecret decrypts the invitation ciphertext fetched for a link key.
func OpenSecret(ciphertext, symmetricKey []byte) (protocol.IndirectInvitationSecret, error) {
	plaintext, err := keys.Decrypt(ciphertext, symmetricKey)
	if err != nil {
		return protocol.IndirectInvitationSecret{}, err
	}
	var secret protocol.IndirectInvitationSecret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return protocol.IndirectInvitationSecret{}, apperrors.Wrap(apperrors.CodeMessageMalformed, "decode invitation secret", err)
	}
	return secret, nil
}

// NonceKeyPair restores the signing key pair sealed in a secret.
func NonceKeyPair(secret protocol.IndirectInvitationSecret) (keys.SignKeyPair, error) {
	return keys.SignKeyPairFromSeed(secret.NonceKeypairSeed)
}
