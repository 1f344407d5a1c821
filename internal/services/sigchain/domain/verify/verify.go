// Package verify checks a signed envelope before any semantic processing.
// It performs no I/O.
package verify

import (
	"encoding/json"

	"golang.org/x/mod/semver"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
)

// SignatureAndVersion verifies the envelope signature, decodes the signed
// message and rejects payloads from a newer major protocol version.
func SignatureAndVersion(signed protocol.SignedMessage) (protocol.Message, error) {
	if err := keys.VerifySignature(signed.PublicKey, []byte(signed.Message), signed.Signature); err != nil {
		return protocol.Message{}, err
	}
	var msg protocol.Message
	if err := json.Unmarshal([]byte(signed.Message), &msg); err != nil {
		return protocol.Message{}, apperrors.Wrap(apperrors.CodeMessageMalformed, "decode signed message", err)
	}
	if err := CompatibleVersion(msg.Header.ProtocolVersion); err != nil {
		return protocol.Message{}, err
	}
	return msg, nil
}

// CompatibleVersion accepts any version whose major is not newer than the
// supported major; minor and patch are forward compatible.
func CompatibleVersion(version string) error {
	v := "v" + version
	if !semver.IsValid(v) {
		return apperrors.Errorf(apperrors.CodeMessageMalformed, "invalid protocol version %q", version)
	}
	if semver.Compare(semver.Major(v), semver.Major("v"+protocol.CurrentVersion)) > 0 {
		return apperrors.Errorf(apperrors.CodeVersionIncompatible, "protocol version %s is newer than supported %s", version, protocol.CurrentVersion)
	}
	return nil
}

// Sign encodes msg and signs it with kp.
func Sign(kp keys.SignKeyPair, msg protocol.Message) (protocol.SignedMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return protocol.SignedMessage{}, apperrors.Wrap(apperrors.CodeMessageMalformed, "encode message", err)
	}
	return protocol.SignedMessage{
		PublicKey: append([]byte(nil), kp.PublicKey...),
		Message:   string(data),
		Signature: kp.Sign(data),
	}, nil
}
