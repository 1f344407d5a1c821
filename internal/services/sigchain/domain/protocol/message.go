package protocol

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// CurrentVersion is the protocol version stamped on new messages.
// Only MAJOR.MINOR.PATCH is used; pre-release and build tags are not.
const CurrentVersion = "1.0.0"

// SignedMessage is the envelope every chain entry and request travels in.
// Message holds the exact JSON bytes that were signed.
type SignedMessage struct {
	PublicKey []byte `json:"public_key"`
	Message   string `json:"message"`
	Signature []byte `json:"signature"`
}

// PayloadHash is SHA256(SHA256(public_key) || SHA256(message)); it is the
// block hash for chain entries.
func (s SignedMessage) PayloadHash() []byte {
	pk := sha256.Sum256(s.PublicKey)
	msg := sha256.Sum256([]byte(s.Message))
	inner := make([]byte, 0, len(pk)+len(msg))
	inner = append(inner, pk[:]...)
	inner = append(inner, msg[:]...)
	sum := sha256.Sum256(inner)
	return sum[:]
}

// Header carries the signing time and protocol version of a message.
type Header struct {
	UTCTime         int64  `json:"utc_time"`
	ProtocolVersion string `json:"protocol_version"`
}

// NewHeader stamps the current protocol version at now.
func NewHeader(now time.Time) Header {
	return Header{UTCTime: now.UTC().Unix(), ProtocolVersion: CurrentVersion}
}

// Message is the signed payload: a header plus exactly one body.
type Message struct {
	Header Header
	Body   Body
}

// NewMessage wraps body with a fresh header.
func NewMessage(now time.Time, body Body) Message {
	return Message{Header: NewHeader(now), Body: body}
}

type messageJSON struct {
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// MarshalJSON encodes the body as {"main"|"log": {"create"|"read"|"append": ...}}.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Body == nil {
		return nil, fmt.Errorf("marshal message: body is required")
	}
	inner, err := marshalTagged(m.Body)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]json.RawMessage{m.Body.Chain().String(): inner})
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{Header: m.Header, Body: body})
}

// UnmarshalJSON decodes the two-level body tag.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	chain, inner, err := splitTagged("body", raw.Body)
	if err != nil {
		return err
	}
	var body Body
	switch Chain(chain) {
	case ChainMain:
		body, err = unmarshalTagged("main chain body", inner, mainBodies)
	case ChainLog:
		body, err = unmarshalTagged("log chain body", inner, logBodies)
	default:
		err = fmt.Errorf("decode body: unknown chain %q", chain)
	}
	if err != nil {
		return err
	}
	m.Header = raw.Header
	m.Body = body
	return nil
}

// Chain names the hash chain a body belongs to.
type Chain string

const (
	ChainMain Chain = "main"
	ChainLog  Chain = "log"
)

func (c Chain) String() string { return string(c) }

// Action is what a body asks the chain owner to do.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionAppend Action = "append"
)

// Body is one of GenesisBlock, ReadBlocksRequest, Block (main chain) or
// GenesisLogBlock, ReadLogBlocksRequest, LogBlock (log chain).
type Body interface {
	tagged
	Chain() Chain
	Action() Action
}

var mainBodies = map[string]variantDecoder[Body]{
	string(ActionCreate): decodeVariant[Body, GenesisBlock],
	string(ActionRead):   decodeVariant[Body, ReadBlocksRequest],
	string(ActionAppend): decodeVariant[Body, Block],
}

var logBodies = map[string]variantDecoder[Body]{
	string(ActionCreate): decodeVariant[Body, GenesisLogBlock],
	string(ActionRead):   decodeVariant[Body, ReadLogBlocksRequest],
	string(ActionAppend): decodeVariant[Body, LogBlock],
}

// ReadBlocksResponse is one page of a team's main chain in chain order.
type ReadBlocksResponse struct {
	Blocks []SignedMessage `json:"blocks"`
	More   bool            `json:"more"`
}

// ReadLogBlocksResponse is one page of log blocks. UpdateLogicalTimestamp is
// set for team-filtered reads and is the timestamp of the last block returned.
type ReadLogBlocksResponse struct {
	Blocks                 []SignedMessage `json:"blocks"`
	More                   bool            `json:"more"`
	UpdateLogicalTimestamp *int64          `json:"update_logical_timestamp,omitempty"`
}

// InviteCiphertextRequest looks up an indirect invitation by the hash of its link key.
type InviteCiphertextRequest struct {
	SymmetricKeyHash []byte `json:"symmetric_key_hash"`
}

// InviteCiphertextResponse carries the sealed IndirectInvitationSecret.
type InviteCiphertextResponse struct {
	Ciphertext []byte `json:"ciphertext"`
}

// SubmitResponse acknowledges an applied write.
type SubmitResponse struct {
	BlockHash []byte `json:"block_hash"`
}
