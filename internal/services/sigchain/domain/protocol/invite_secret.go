package protocol

import "encoding/json"

// IndirectInvitationSecret is the plaintext sealed behind an invite link.
type IndirectInvitationSecret struct {
	InitialTeamPublicKey []byte
	LastBlockHash        []byte
	NonceKeypairSeed     []byte
	Restriction          Restriction
}

type indirectInvitationSecretJSON struct {
	InitialTeamPublicKey []byte          `json:"initial_team_public_key"`
	LastBlockHash        []byte          `json:"last_block_hash"`
	NonceKeypairSeed     []byte          `json:"nonce_keypair_seed"`
	Restriction          json.RawMessage `json:"restriction"`
}

// MarshalJSON encodes the restriction as a tagged variant.
func (s IndirectInvitationSecret) MarshalJSON() ([]byte, error) {
	restriction, err := MarshalRestriction(s.Restriction)
	if err != nil {
		return nil, err
	}
	return json.Marshal(indirectInvitationSecretJSON{
		InitialTeamPublicKey: s.InitialTeamPublicKey,
		LastBlockHash:        s.LastBlockHash,
		NonceKeypairSeed:     s.NonceKeypairSeed,
		Restriction:          restriction,
	})
}

// UnmarshalJSON decodes the tagged restriction.
func (s *IndirectInvitationSecret) UnmarshalJSON(data []byte) error {
	var raw indirectInvitationSecretJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restriction, err := UnmarshalRestriction(raw.Restriction)
	if err != nil {
		return err
	}
	*s = IndirectInvitationSecret{
		InitialTeamPublicKey: raw.InitialTeamPublicKey,
		LastBlockHash:        raw.LastBlockHash,
		NonceKeypairSeed:     raw.NonceKeypairSeed,
		Restriction:          restriction,
	}
	return nil
}
