package protocol

import (
	"encoding/json"
	"fmt"
)

// WrappedKey is a log-chain symmetric key sealed to one recipient's
// encryption public key by the log-chain owner.
type WrappedKey struct {
	RecipientPublicKey []byte `json:"recipient_public_key"`
	Ciphertext         []byte `json:"ciphertext"`
}

// LogEncryptionKey is the plaintext sealed inside a WrappedKey.
type LogEncryptionKey struct {
	Key []byte `json:"log_encryption_key"`
}

// GenesisLogBlock opens a member's log chain for a team.
type GenesisLogBlock struct {
	TeamPointer TeamPointer  `json:"team_pointer"`
	WrappedKeys []WrappedKey `json:"wrapped_keys"`
}

func (GenesisLogBlock) variantTag() string { return string(ActionCreate) }
func (GenesisLogBlock) Chain() Chain       { return ChainLog }
func (GenesisLogBlock) Action() Action     { return ActionCreate }

// MarshalJSON always emits wrapped_keys as an array.
func (g GenesisLogBlock) MarshalJSON() ([]byte, error) {
	type plain GenesisLogBlock
	if g.WrappedKeys == nil {
		g.WrappedKeys = []WrappedKey{}
	}
	return json.Marshal(plain(g))
}

// ReadLogBlocksRequest asks for log blocks matching Filter.
type ReadLogBlocksRequest struct {
	Nonce  []byte    `json:"nonce"`
	Filter LogFilter `json:"filter"`
	Token  string    `json:"token,omitempty"`
}

func (ReadLogBlocksRequest) variantTag() string { return string(ActionRead) }
func (ReadLogBlocksRequest) Chain() Chain       { return ChainLog }
func (ReadLogBlocksRequest) Action() Action     { return ActionRead }

// LogFilter selects one member chain or the whole team by logical timestamp.
// Exactly one field is set.
type LogFilter struct {
	Member *LogChainPointer
	Team   *TeamLogFilter
}

// TeamLogFilter reads every team log block newer than LastLogicalTimestamp.
type TeamLogFilter struct {
	TeamPublicKey        []byte `json:"team_public_key"`
	LastLogicalTimestamp int64  `json:"last_logical_timestamp"`
}

// MarshalJSON encodes {"member": ...} or {"team": ...}.
func (f LogFilter) MarshalJSON() ([]byte, error) {
	switch {
	case f.Member != nil && f.Team == nil:
		return json.Marshal(map[string]*LogChainPointer{"member": f.Member})
	case f.Team != nil && f.Member == nil:
		return json.Marshal(map[string]*TeamLogFilter{"team": f.Team})
	default:
		return nil, fmt.Errorf("marshal log filter: exactly one of member or team is required")
	}
}

// UnmarshalJSON decodes either filter form.
func (f *LogFilter) UnmarshalJSON(data []byte) error {
	tag, raw, err := splitTagged("log filter", data)
	if err != nil {
		return err
	}
	switch tag {
	case "member":
		var pointer LogChainPointer
		if err := json.Unmarshal(raw, &pointer); err != nil {
			return fmt.Errorf("decode log filter.member: %w", err)
		}
		*f = LogFilter{Member: &pointer}
	case "team":
		var team TeamLogFilter
		if err := json.Unmarshal(raw, &team); err != nil {
			return fmt.Errorf("decode log filter.team: %w", err)
		}
		*f = LogFilter{Team: &team}
	default:
		return fmt.Errorf("decode log filter: unknown variant %q", tag)
	}
	return nil
}

// LogChainPointer addresses a member log chain from its genesis, or after a
// known block. Exactly one field is set.
type LogChainPointer struct {
	Genesis       *LogChainGenesisPointer
	LastBlockHash []byte
}

// LogChainGenesisPointer names a member chain by team and member keys.
type LogChainGenesisPointer struct {
	TeamPublicKey   []byte `json:"team_public_key"`
	MemberPublicKey []byte `json:"member_public_key"`
}

// MarshalJSON encodes {"genesis_block": ...} or {"last_block_hash": b64}.
func (p LogChainPointer) MarshalJSON() ([]byte, error) {
	switch {
	case p.Genesis != nil && p.LastBlockHash == nil:
		return json.Marshal(map[string]*LogChainGenesisPointer{"genesis_block": p.Genesis})
	case p.LastBlockHash != nil && p.Genesis == nil:
		return json.Marshal(map[string][]byte{"last_block_hash": p.LastBlockHash})
	default:
		return nil, fmt.Errorf("marshal log chain pointer: exactly one of genesis_block or last_block_hash is required")
	}
}

// UnmarshalJSON decodes either pointer form.
func (p *LogChainPointer) UnmarshalJSON(data []byte) error {
	tag, raw, err := splitTagged("log chain pointer", data)
	if err != nil {
		return err
	}
	switch tag {
	case "genesis_block":
		var genesis LogChainGenesisPointer
		if err := json.Unmarshal(raw, &genesis); err != nil {
			return fmt.Errorf("decode log chain pointer.genesis_block: %w", err)
		}
		*p = LogChainPointer{Genesis: &genesis}
	case "last_block_hash":
		var hash []byte
		if err := json.Unmarshal(raw, &hash); err != nil {
			return fmt.Errorf("decode log chain pointer.last_block_hash: %w", err)
		}
		*p = LogChainPointer{LastBlockHash: hash}
	default:
		return fmt.Errorf("decode log chain pointer: unknown variant %q", tag)
	}
	return nil
}

// LogBlock appends a log operation after LastBlockHash on the signer's chain.
type LogBlock struct {
	LastBlockHash []byte
	Operation     LogOperation
}

func (LogBlock) variantTag() string { return string(ActionAppend) }
func (LogBlock) Chain() Chain       { return ChainLog }
func (LogBlock) Action() Action     { return ActionAppend }

type logBlockJSON struct {
	LastBlockHash []byte          `json:"last_block_hash"`
	Operation     json.RawMessage `json:"operation"`
}

// MarshalJSON encodes the operation as a tagged variant.
func (b LogBlock) MarshalJSON() ([]byte, error) {
	op, err := marshalTagged(b.Operation)
	if err != nil {
		return nil, fmt.Errorf("marshal log block operation: %w", err)
	}
	return json.Marshal(logBlockJSON{LastBlockHash: b.LastBlockHash, Operation: op})
}

// UnmarshalJSON decodes the tagged operation.
func (b *LogBlock) UnmarshalJSON(data []byte) error {
	var raw logBlockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op, err := unmarshalTagged("log operation", raw.Operation, logOperations)
	if err != nil {
		return err
	}
	b.LastBlockHash = raw.LastBlockHash
	b.Operation = op
	return nil
}

// LogOperation is AddWrappedKeys, RotateKey or EncryptLog.
type LogOperation interface {
	tagged
	isLogOperation()
}

// AddWrappedKeys wraps the current chain key to additional recipients.
type AddWrappedKeys []WrappedKey

// RotateKey replaces the chain key; the keys cover the full recipient set.
type RotateKey []WrappedKey

// EncryptLog carries one secretbox-encrypted audit Log.
type EncryptLog struct {
	Ciphertext []byte `json:"ciphertext"`
}

func (AddWrappedKeys) isLogOperation() {}
func (RotateKey) isLogOperation()      {}
func (EncryptLog) isLogOperation()     {}

func (AddWrappedKeys) variantTag() string { return "add_wrapped_keys" }
func (RotateKey) variantTag() string      { return "rotate_key" }
func (EncryptLog) variantTag() string     { return "encrypt_log" }

// LogOperationKind returns the wire name of a log operation.
func LogOperationKind(op LogOperation) string {
	if op == nil {
		return ""
	}
	return op.variantTag()
}

var logOperations = map[string]variantDecoder[LogOperation]{
	"add_wrapped_keys": decodeVariant[LogOperation, AddWrappedKeys],
	"rotate_key":       decodeVariant[LogOperation, RotateKey],
	"encrypt_log":      decodeVariant[LogOperation, EncryptLog],
}
