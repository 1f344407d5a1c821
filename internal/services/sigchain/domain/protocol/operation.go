package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operation is one main-chain mutation. The variants are Invite,
// CloseInvitations, AcceptInvite, Remove, Leave, SetPolicy, SetTeamInfo,
// PinHostKey, UnpinHostKey, Promote, Demote, AddLoggingEndpoint and
// RemoveLoggingEndpoint.
type Operation interface {
	tagged
	isOperation()
}

// Invite issues a direct or indirect invitation.
type Invite struct {
	Invitation Invitation
}

// CloseInvitations deletes every pending invitation of the team.
type CloseInvitations struct{}

// AcceptInvite joins the team with the declared identity.
type AcceptInvite Identity

// Remove deletes another member's membership.
type Remove []byte

// Leave deletes the signer's own membership.
type Leave struct{}

// SetPolicy replaces the team policy.
type SetPolicy Policy

// SetTeamInfo replaces the team display information.
type SetTeamInfo TeamInfo

// PinHostKey trusts an SSH host key for a host.
type PinHostKey SSHHostKey

// UnpinHostKey removes a pinned SSH host key.
type UnpinHostKey SSHHostKey

// Promote grants admin to an active member.
type Promote []byte

// Demote revokes admin from an active member.
type Demote []byte

// AddLoggingEndpoint enables an audit logging endpoint.
type AddLoggingEndpoint struct {
	Endpoint LoggingEndpoint
}

// RemoveLoggingEndpoint disables an audit logging endpoint.
type RemoveLoggingEndpoint struct {
	Endpoint LoggingEndpoint
}

func (Invite) isOperation()                {}
func (CloseInvitations) isOperation()      {}
func (AcceptInvite) isOperation()          {}
func (Remove) isOperation()                {}
func (Leave) isOperation()                 {}
func (SetPolicy) isOperation()             {}
func (SetTeamInfo) isOperation()           {}
func (PinHostKey) isOperation()            {}
func (UnpinHostKey) isOperation()          {}
func (Promote) isOperation()               {}
func (Demote) isOperation()                {}
func (AddLoggingEndpoint) isOperation()    {}
func (RemoveLoggingEndpoint) isOperation() {}

func (Invite) variantTag() string                { return "invite" }
func (CloseInvitations) variantTag() string      { return "close_invitations" }
func (AcceptInvite) variantTag() string          { return "accept_invite" }
func (Remove) variantTag() string                { return "remove" }
func (Leave) variantTag() string                 { return "leave" }
func (SetPolicy) variantTag() string             { return "set_policy" }
func (SetTeamInfo) variantTag() string           { return "set_team_info" }
func (PinHostKey) variantTag() string            { return "pin_host_key" }
func (UnpinHostKey) variantTag() string          { return "unpin_host_key" }
func (Promote) variantTag() string               { return "promote" }
func (Demote) variantTag() string                { return "demote" }
func (AddLoggingEndpoint) variantTag() string    { return "add_logging_endpoint" }
func (RemoveLoggingEndpoint) variantTag() string { return "remove_logging_endpoint" }

// OperationKind returns the wire name of an operation.
func OperationKind(op Operation) string {
	if op == nil {
		return ""
	}
	return op.variantTag()
}

var operations = map[string]variantDecoder[Operation]{
	"invite":                  decodeVariant[Operation, Invite],
	"close_invitations":       decodeVariant[Operation, CloseInvitations],
	"accept_invite":           decodeVariant[Operation, AcceptInvite],
	"remove":                  decodeVariant[Operation, Remove],
	"leave":                   decodeVariant[Operation, Leave],
	"set_policy":              decodeVariant[Operation, SetPolicy],
	"set_team_info":           decodeVariant[Operation, SetTeamInfo],
	"pin_host_key":            decodeVariant[Operation, PinHostKey],
	"unpin_host_key":          decodeVariant[Operation, UnpinHostKey],
	"promote":                 decodeVariant[Operation, Promote],
	"demote":                  decodeVariant[Operation, Demote],
	"add_logging_endpoint":    decodeVariant[Operation, AddLoggingEndpoint],
	"remove_logging_endpoint": decodeVariant[Operation, RemoveLoggingEndpoint],
}

// MarshalJSON encodes the invitation as a tagged variant.
func (i Invite) MarshalJSON() ([]byte, error) { return marshalTagged(i.Invitation) }

// UnmarshalJSON decodes {"direct": ...} or {"indirect": ...}.
func (i *Invite) UnmarshalJSON(data []byte) error {
	inv, err := unmarshalTagged("invitation", data, invitations)
	if err != nil {
		return err
	}
	i.Invitation = inv
	return nil
}

// MarshalJSON encodes the endpoint as a tagged unit.
func (a AddLoggingEndpoint) MarshalJSON() ([]byte, error) { return a.Endpoint.MarshalJSON() }

// UnmarshalJSON decodes the endpoint.
func (a *AddLoggingEndpoint) UnmarshalJSON(data []byte) error { return a.Endpoint.UnmarshalJSON(data) }

// MarshalJSON encodes the endpoint as a tagged unit.
func (r RemoveLoggingEndpoint) MarshalJSON() ([]byte, error) { return r.Endpoint.MarshalJSON() }

// UnmarshalJSON decodes the endpoint.
func (r *RemoveLoggingEndpoint) UnmarshalJSON(data []byte) error {
	return r.Endpoint.UnmarshalJSON(data)
}

// Policy is the team policy.
type Policy struct {
	TemporaryApprovalSeconds *int64 `json:"temporary_approval_seconds,omitempty"`
}

// SSHHostKey is a host and its pinned public key.
type SSHHostKey struct {
	Host      string `json:"host"`
	PublicKey []byte `json:"public_key"`
}

// LoggingEndpoint names an audit logging destination.
type LoggingEndpoint string

// LoggingCommandEncrypted stores audit logs encrypted on member log chains.
const LoggingCommandEncrypted LoggingEndpoint = "command_encrypted"

// MarshalJSON encodes {"command_encrypted": {}}.
func (e LoggingEndpoint) MarshalJSON() ([]byte, error) {
	if e == "" {
		e = LoggingCommandEncrypted
	}
	if e != LoggingCommandEncrypted {
		return nil, fmt.Errorf("marshal logging endpoint: unknown endpoint %q", string(e))
	}
	return json.Marshal(map[string]unit{string(e): {}})
}

// UnmarshalJSON decodes the tagged unit.
func (e *LoggingEndpoint) UnmarshalJSON(data []byte) error {
	tag, _, err := splitTagged("logging endpoint", data)
	if err != nil {
		return err
	}
	if LoggingEndpoint(tag) != LoggingCommandEncrypted {
		return fmt.Errorf("decode logging endpoint: unknown endpoint %q", tag)
	}
	*e = LoggingCommandEncrypted
	return nil
}

// Invitation is DirectInvitation or IndirectInvitation.
type Invitation interface {
	tagged
	isInvitation()
}

// DirectInvitation is addressed to exactly one public key and email.
type DirectInvitation struct {
	PublicKey []byte `json:"public_key"`
	Email     string `json:"email"`
}

// IndirectInvitation is a link capability redeemable by the nonce keypair.
type IndirectInvitation struct {
	NoncePublicKey         []byte
	Restriction            Restriction
	InviteSymmetricKeyHash []byte
	InviteCiphertext       []byte
}

func (DirectInvitation) isInvitation()   {}
func (IndirectInvitation) isInvitation() {}

func (DirectInvitation) variantTag() string   { return "direct" }
func (IndirectInvitation) variantTag() string { return "indirect" }

var invitations = map[string]variantDecoder[Invitation]{
	"direct":   decodeVariant[Invitation, DirectInvitation],
	"indirect": decodeVariant[Invitation, IndirectInvitation],
}

type indirectInvitationJSON struct {
	NoncePublicKey         []byte          `json:"nonce_public_key"`
	Restriction            json.RawMessage `json:"restriction"`
	InviteSymmetricKeyHash []byte          `json:"invite_symmetric_key_hash"`
	InviteCiphertext       []byte          `json:"invite_ciphertext"`
}

// MarshalJSON encodes the restriction as a tagged variant.
func (i IndirectInvitation) MarshalJSON() ([]byte, error) {
	restriction, err := MarshalRestriction(i.Restriction)
	if err != nil {
		return nil, err
	}
	return json.Marshal(indirectInvitationJSON{
		NoncePublicKey:         i.NoncePublicKey,
		Restriction:            restriction,
		InviteSymmetricKeyHash: i.InviteSymmetricKeyHash,
		InviteCiphertext:       i.InviteCiphertext,
	})
}

// UnmarshalJSON decodes the tagged restriction.
func (i *IndirectInvitation) UnmarshalJSON(data []byte) error {
	var raw indirectInvitationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restriction, err := UnmarshalRestriction(raw.Restriction)
	if err != nil {
		return err
	}
	*i = IndirectInvitation{
		NoncePublicKey:         raw.NoncePublicKey,
		Restriction:            restriction,
		InviteSymmetricKeyHash: raw.InviteSymmetricKeyHash,
		InviteCiphertext:       raw.InviteCiphertext,
	}
	return nil
}

// Restriction gates which emails may redeem an indirect invitation.
type Restriction interface {
	tagged
	// Allows reports whether email satisfies the restriction.
	Allows(email string) bool
}

// DomainRestriction admits emails ending in "@<domain>".
type DomainRestriction string

// EmailsRestriction admits exactly the listed emails.
type EmailsRestriction []string

func (DomainRestriction) variantTag() string { return "domain" }
func (EmailsRestriction) variantTag() string { return "emails" }

// Allows reports whether email is in the domain.
func (d DomainRestriction) Allows(email string) bool {
	return d != "" && strings.HasSuffix(email, "@"+string(d))
}

// Allows reports whether email is listed.
func (e EmailsRestriction) Allows(email string) bool {
	for _, allowed := range e {
		if allowed == email {
			return true
		}
	}
	return false
}

var restrictions = map[string]variantDecoder[Restriction]{
	"domain": decodeVariant[Restriction, DomainRestriction],
	"emails": decodeVariant[Restriction, EmailsRestriction],
}

// MarshalRestriction encodes a restriction as {"domain": d} or {"emails": [...]}.
func MarshalRestriction(r Restriction) ([]byte, error) {
	if emails, ok := r.(EmailsRestriction); ok && emails == nil {
		r = EmailsRestriction{}
	}
	return marshalTagged(r)
}

// UnmarshalRestriction decodes a tagged restriction.
func UnmarshalRestriction(data []byte) (Restriction, error) {
	return unmarshalTagged("restriction", data, restrictions)
}
