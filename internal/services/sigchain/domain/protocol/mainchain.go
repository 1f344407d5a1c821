package protocol

import (
	"encoding/json"
	"fmt"
)

// Identity is a member's published key material.
type Identity struct {
	PublicKey           []byte `json:"public_key"`
	EncryptionPublicKey []byte `json:"encryption_public_key"`
	SSHPublicKey        []byte `json:"ssh_public_key"`
	PGPPublicKey        []byte `json:"pgp_public_key"`
	Email               string `json:"email"`
}

// TeamInfo is the team's display information.
type TeamInfo struct {
	Name string `json:"name"`
}

// GenesisBlock creates a team. The creator's public key is the team id.
type GenesisBlock struct {
	TeamInfo        TeamInfo `json:"team_info"`
	CreatorIdentity Identity `json:"creator_identity"`
}

func (GenesisBlock) variantTag() string { return string(ActionCreate) }
func (GenesisBlock) Chain() Chain       { return ChainMain }
func (GenesisBlock) Action() Action     { return ActionCreate }

// TeamPointer addresses a team either by its public key (read from genesis)
// or by a block hash (read after that block). Exactly one field is set.
type TeamPointer struct {
	PublicKey     []byte
	LastBlockHash []byte
}

// TeamByPublicKey points at a team's genesis.
func TeamByPublicKey(pk []byte) TeamPointer { return TeamPointer{PublicKey: pk} }

// TeamByLastBlockHash points after a known block.
func TeamByLastBlockHash(hash []byte) TeamPointer { return TeamPointer{LastBlockHash: hash} }

// MarshalJSON encodes {"public_key": b64} or {"last_block_hash": b64}.
func (p TeamPointer) MarshalJSON() ([]byte, error) {
	switch {
	case p.PublicKey != nil && p.LastBlockHash == nil:
		return json.Marshal(map[string][]byte{"public_key": p.PublicKey})
	case p.LastBlockHash != nil && p.PublicKey == nil:
		return json.Marshal(map[string][]byte{"last_block_hash": p.LastBlockHash})
	default:
		return nil, fmt.Errorf("marshal team pointer: exactly one of public_key or last_block_hash is required")
	}
}

// UnmarshalJSON decodes either pointer form.
func (p *TeamPointer) UnmarshalJSON(data []byte) error {
	tag, raw, err := splitTagged("team pointer", data)
	if err != nil {
		return err
	}
	var value []byte
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode team pointer.%s: %w", tag, err)
	}
	switch tag {
	case "public_key":
		*p = TeamPointer{PublicKey: value}
	case "last_block_hash":
		*p = TeamPointer{LastBlockHash: value}
	default:
		return fmt.Errorf("decode team pointer: unknown variant %q", tag)
	}
	return nil
}

// ReadBlocksRequest asks for the main chain from a pointer. Token, when set,
// is a read token whose subject is the request signer.
type ReadBlocksRequest struct {
	TeamPointer TeamPointer `json:"team_pointer"`
	Nonce       []byte      `json:"nonce"`
	Token       string      `json:"token,omitempty"`
}

func (ReadBlocksRequest) variantTag() string { return string(ActionRead) }
func (ReadBlocksRequest) Chain() Chain       { return ChainMain }
func (ReadBlocksRequest) Action() Action     { return ActionRead }

// Block appends an operation after LastBlockHash.
type Block struct {
	LastBlockHash []byte
	Operation     Operation
}

func (Block) variantTag() string { return string(ActionAppend) }
func (Block) Chain() Chain       { return ChainMain }
func (Block) Action() Action     { return ActionAppend }

type blockJSON struct {
	LastBlockHash []byte          `json:"last_block_hash"`
	Operation     json.RawMessage `json:"operation"`
}

// MarshalJSON encodes the operation as a tagged variant.
func (b Block) MarshalJSON() ([]byte, error) {
	op, err := marshalTagged(b.Operation)
	if err != nil {
		return nil, fmt.Errorf("marshal block operation: %w", err)
	}
	return json.Marshal(blockJSON{LastBlockHash: b.LastBlockHash, Operation: op})
}

// UnmarshalJSON decodes the tagged operation.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op, err := unmarshalTagged("operation", raw.Operation, operations)
	if err != nil {
		return err
	}
	b.LastBlockHash = raw.LastBlockHash
	b.Operation = op
	return nil
}
