package protocol

import (
	"encoding/json"
	"fmt"
)

// Log is one audit entry recorded by a member's device.
type Log struct {
	Session     Session
	UnixSeconds uint64
	Body        LogBody
}

// Session identifies the device that produced a log.
type Session struct {
	DeviceName string `json:"device_name"`
	// Hash of the hash of the workstation key: distinguishes devices with
	// the same name without revealing a channel identifier.
	WorkstationPublicKeyDoubleHash []byte `json:"workstation_public_key_double_hash"`
}

type logJSON struct {
	Session     Session         `json:"session"`
	UnixSeconds uint64          `json:"unix_seconds"`
	Body        json.RawMessage `json:"body"`
}

// MarshalJSON encodes the body as a tagged variant.
func (l Log) MarshalJSON() ([]byte, error) {
	body, err := marshalTagged(l.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal log body: %w", err)
	}
	return json.Marshal(logJSON{Session: l.Session, UnixSeconds: l.UnixSeconds, Body: body})
}

// UnmarshalJSON decodes the tagged body.
func (l *Log) UnmarshalJSON(data []byte) error {
	var raw logJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := unmarshalTagged("log body", raw.Body, auditLogBodies)
	if err != nil {
		return err
	}
	*l = Log{Session: raw.Session, UnixSeconds: raw.UnixSeconds, Body: body}
	return nil
}

// LogBody is SSHSignature, GitCommitSignature or GitTagSignature.
type LogBody interface {
	tagged
	// Succeeded reports whether the request ended in a signature.
	Succeeded() bool
}

// LogKind returns the wire name of a log body: ssh, git_commit or git_tag.
func LogKind(body LogBody) string {
	if body == nil {
		return ""
	}
	return body.variantTag()
}

var auditLogBodies = map[string]variantDecoder[LogBody]{
	"ssh":        decodeVariant[LogBody, SSHSignature],
	"git_commit": decodeVariant[LogBody, GitCommitSignature],
	"git_tag":    decodeVariant[LogBody, GitTagSignature],
}

// HostAuthorization is the host key presented during an SSH signature.
type HostAuthorization struct {
	Host      string `json:"host"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature,omitempty"`
}

// SSHSignature records an SSH authentication request.
type SSHSignature struct {
	User              string
	HostAuthorization *HostAuthorization
	SessionData       []byte
	Result            SSHSignatureResult
}

func (SSHSignature) variantTag() string { return "ssh" }

// Succeeded reports whether the request was signed.
func (s SSHSignature) Succeeded() bool { return isSignature(s.Result) }

type sshSignatureJSON struct {
	User              string             `json:"user"`
	HostAuthorization *HostAuthorization `json:"host_authorization"`
	SessionData       []byte             `json:"session_data"`
	Result            json.RawMessage    `json:"result"`
}

// MarshalJSON encodes the result as a tagged variant.
func (s SSHSignature) MarshalJSON() ([]byte, error) {
	result, err := marshalTagged(s.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal ssh result: %w", err)
	}
	return json.Marshal(sshSignatureJSON{
		User:              s.User,
		HostAuthorization: s.HostAuthorization,
		SessionData:       s.SessionData,
		Result:            result,
	})
}

// UnmarshalJSON decodes the tagged result.
func (s *SSHSignature) UnmarshalJSON(data []byte) error {
	var raw sshSignatureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result, err := unmarshalTagged("ssh signature result", raw.Result, sshResults)
	if err != nil {
		return err
	}
	*s = SSHSignature{
		User:              raw.User,
		HostAuthorization: raw.HostAuthorization,
		SessionData:       raw.SessionData,
		Result:            result,
	}
	return nil
}

// GitCommitSignature records a git commit signing request.
type GitCommitSignature struct {
	Tree          string
	Parents       []string
	Author        string
	Committer     string
	Message       []byte
	MessageString *string
	Result        GitSignatureResult
}

func (GitCommitSignature) variantTag() string { return "git_commit" }

// Succeeded reports whether the commit was signed.
func (g GitCommitSignature) Succeeded() bool { return isSignature(g.Result) }

type gitCommitJSON struct {
	Tree          string          `json:"tree"`
	Parents       []string        `json:"parents"`
	Author        string          `json:"author"`
	Committer     string          `json:"committer"`
	Message       []byte          `json:"message"`
	MessageString *string         `json:"message_string"`
	Result        json.RawMessage `json:"result"`
}

// MarshalJSON encodes the result as a tagged variant.
func (g GitCommitSignature) MarshalJSON() ([]byte, error) {
	result, err := marshalTagged(g.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal git commit result: %w", err)
	}
	parents := g.Parents
	if parents == nil {
		parents = []string{}
	}
	return json.Marshal(gitCommitJSON{
		Tree:          g.Tree,
		Parents:       parents,
		Author:        g.Author,
		Committer:     g.Committer,
		Message:       g.Message,
		MessageString: g.MessageString,
		Result:        result,
	})
}

// UnmarshalJSON decodes the tagged result.
func (g *GitCommitSignature) UnmarshalJSON(data []byte) error {
	var raw gitCommitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result, err := unmarshalTagged("git signature result", raw.Result, gitResults)
	if err != nil {
		return err
	}
	*g = GitCommitSignature{
		Tree:          raw.Tree,
		Parents:       raw.Parents,
		Author:        raw.Author,
		Committer:     raw.Committer,
		Message:       raw.Message,
		MessageString: raw.MessageString,
		Result:        result,
	}
	return nil
}

// GitTagSignature records a git tag signing request.
type GitTagSignature struct {
	Object        string
	Type          string
	Tag           string
	Tagger        string
	Message       []byte
	MessageString *string
	Result        GitSignatureResult
}

func (GitTagSignature) variantTag() string { return "git_tag" }

// Succeeded reports whether the tag was signed.
func (g GitTagSignature) Succeeded() bool { return isSignature(g.Result) }

type gitTagJSON struct {
	Object        string          `json:"object"`
	Type          string          `json:"type"`
	Tag           string          `json:"tag"`
	Tagger        string          `json:"tagger"`
	Message       []byte          `json:"message"`
	MessageString *string         `json:"message_string"`
	Result        json.RawMessage `json:"result"`
}

// MarshalJSON encodes the result as a tagged variant.
func (g GitTagSignature) MarshalJSON() ([]byte, error) {
	result, err := marshalTagged(g.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal git tag result: %w", err)
	}
	return json.Marshal(gitTagJSON{
		Object:        g.Object,
		Type:          g.Type,
		Tag:           g.Tag,
		Tagger:        g.Tagger,
		Message:       g.Message,
		MessageString: g.MessageString,
		Result:        result,
	})
}

// UnmarshalJSON decodes the tagged result.
func (g *GitTagSignature) UnmarshalJSON(data []byte) error {
	var raw gitTagJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result, err := unmarshalTagged("git signature result", raw.Result, gitResults)
	if err != nil {
		return err
	}
	*g = GitTagSignature{
		Object:        raw.Object,
		Type:          raw.Type,
		Tag:           raw.Tag,
		Tagger:        raw.Tagger,
		Message:       raw.Message,
		MessageString: raw.MessageString,
		Result:        result,
	}
	return nil
}

// SSHSignatureResult is Signature, UserRejected, HostMismatch or ResultError.
type SSHSignatureResult interface {
	tagged
	isSSHResult()
}

// GitSignatureResult is Signature, UserRejected or ResultError.
type GitSignatureResult interface {
	tagged
	isGitResult()
}

// Signature is a successful signature.
type Signature []byte

// UserRejected means the user declined the request on their phone.
type UserRejected struct{}

// HostMismatch lists the pinned keys that did not match the presented host key.
type HostMismatch [][]byte

// ResultError is a failure message.
type ResultError string

func (Signature) variantTag() string    { return "signature" }
func (UserRejected) variantTag() string { return "user_rejected" }
func (HostMismatch) variantTag() string { return "host_mismatch" }
func (ResultError) variantTag() string  { return "error" }

func (Signature) isSSHResult()    {}
func (UserRejected) isSSHResult() {}
func (HostMismatch) isSSHResult() {}
func (ResultError) isSSHResult()  {}

func (Signature) isGitResult()    {}
func (UserRejected) isGitResult() {}
func (ResultError) isGitResult()  {}

func isSignature(result any) bool {
	_, ok := result.(Signature)
	return ok
}

var sshResults = map[string]variantDecoder[SSHSignatureResult]{
	"signature":     decodeVariant[SSHSignatureResult, Signature],
	"user_rejected": decodeVariant[SSHSignatureResult, UserRejected],
	"host_mismatch": decodeVariant[SSHSignatureResult, HostMismatch],
	"error":         decodeVariant[SSHSignatureResult, ResultError],
}

var gitResults = map[string]variantDecoder[GitSignatureResult]{
	"signature":     decodeVariant[GitSignatureResult, Signature],
	"user_rejected": decodeVariant[GitSignatureResult, UserRejected],
	"error":         decodeVariant[GitSignatureResult, ResultError],
}
