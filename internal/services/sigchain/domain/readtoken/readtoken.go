// Package readtoken issues and verifies delegated read capabilities.
//
// A read token is an EdDSA JWT signed by a member's signing key that lets a
// disposable reader key read the team chains on that member's behalf until
// it expires. Tokens never authorize writes.
package readtoken

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
)

// DefaultValidity is how long an issued token stays valid.
const DefaultValidity = 6 * time.Hour

// Claims are the validated token contents.
type Claims struct {
	Issuer          []byte
	Reader          []byte
	IssuedAt        time.Time
	ExpiresAt       time.Time
	ProtocolVersion string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Version string `json:"ver"`
}

// Issue signs a token letting reader read as issuer for validity.
func Issue(issuer keys.SignKeyPair, reader []byte, now time.Time, validity time.Duration) (string, error) {
	if len(reader) != ed25519.PublicKeySize {
		return "", apperrors.New(apperrors.CodeInvalidKey, "reader public key must be an ed25519 key")
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	now = now.UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    encode(issuer.PublicKey),
			Subject:   encode(reader),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Version: protocol.CurrentVersion,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(issuer.PrivateKey)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeReadTokenInvalid, "sign read token", err)
	}
	return signed, nil
}

// Verify checks a token presented in a read request signed by reader and
// returns its claims. The issuer key, not the reader key, is what gets
// authorized against team membership.
func Verify(token string, reader []byte, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeReadTokenInvalid, "read token is required")
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		issuer, err := decode(parsed.Issuer)
		if err != nil || len(issuer) != ed25519.PublicKeySize {
			return nil, apperrors.New(apperrors.CodeReadTokenInvalid, "read token issuer is not an ed25519 key")
		}
		return ed25519.PublicKey(issuer), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if err := verify.CompatibleVersion(parsed.Version); err != nil {
		return Claims{}, err
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeReadTokenInvalid, "read token exp is required")
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now.UTC()) {
		return Claims{}, apperrors.New(apperrors.CodeReadTokenExpired, "read token is expired")
	}

	subject, err := decode(parsed.Subject)
	if err != nil || !bytes.Equal(subject, reader) {
		return Claims{}, apperrors.New(apperrors.CodeReadTokenMismatch, "read token was issued to a different reader")
	}
	issuer, _ := decode(parsed.Issuer)

	claims := Claims{
		Issuer:          issuer,
		Reader:          subject,
		ExpiresAt:       exp,
		ProtocolVersion: parsed.Version,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func mapJWTError(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeReadTokenInvalid, "read token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeReadTokenInvalid, "read token alg is invalid")
	}
	return apperrors.Wrap(apperrors.CodeReadTokenInvalid, "read token is invalid", err)
}

func encode(key []byte) string { return base64.StdEncoding.EncodeToString(key) }

func decode(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	return base64.StdEncoding.DecodeString(value)
}
