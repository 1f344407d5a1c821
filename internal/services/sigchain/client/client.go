// Package client keeps a member's local replica of one team and writes to the
// team through a Broadcaster.
//
// Every write is signed against the local head, applied to the replica by the
// same engine the server runs, and broadcast inside one local transaction: a
// rejected broadcast rolls the local apply back.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/sasha-s/go-deadlock"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
	"github.com/louisbranch/sigchain/internal/services/sigchain/engine"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// maxAppendAttempts bounds resync-and-retry when another writer moves the head.
const maxAppendAttempts = 3

// Broadcaster sends signed envelopes to the team server. The gRPC client and
// an in-process *engine.Engine both satisfy it.
type Broadcaster interface {
	Submit(ctx context.Context, signed protocol.SignedMessage) ([]byte, error)
	ReadBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadBlocksResponse, error)
	ReadLogBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadLogBlocksResponse, error)
	InviteCiphertext(ctx context.Context, keyHash []byte) ([]byte, error)
}

// Identity is the member's own key material.
type Identity struct {
	Sign keys.SignKeyPair
	Box  keys.BoxKeyPair
}

// Profile is the published part of a member identity besides its keys.
type Profile struct {
	Email        string
	SSHPublicKey []byte
	PGPPublicKey []byte
}

func (id Identity) protocolIdentity(profile Profile) protocol.Identity {
	return protocol.Identity{
		PublicKey:           id.Sign.PublicKey,
		EncryptionPublicKey: id.Box.PublicKeyBytes(),
		SSHPublicKey:        profile.SSHPublicKey,
		PGPPublicKey:        profile.PGPPublicKey,
		Email:               profile.Email,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the clock used for message headers.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is one member's view of one team.
type Client struct {
	store  storage.Store
	net    Broadcaster
	id     Identity
	team   []byte
	engine *engine.Engine
	now    func() time.Time

	// mu serializes writes and syncs against the replica.
	mu deadlock.Mutex
}

// New opens a client for a team the replica already follows, or one the
// member was directly invited to.
func New(store storage.Store, net Broadcaster, id Identity, teamPublicKey []byte, opts ...Option) (*Client, error) {
	if net == nil {
		return nil, errors.New("broadcaster is required")
	}
	if len(id.Sign.PublicKey) == 0 || id.Box.SecretKey == nil {
		return nil, apperrors.New(apperrors.CodeInvalidKey, "identity key pairs are required")
	}
	if len(teamPublicKey) == 0 {
		return nil, apperrors.New(apperrors.CodeMessageMalformed, "team public key is required")
	}
	c := &Client{
		store: store,
		net:   net,
		id:    id,
		team:  append([]byte(nil), teamPublicKey...),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	eng, err := engine.New(store, engine.WithClock(c.now))
	if err != nil {
		return nil, err
	}
	c.engine = eng
	return c, nil
}

// CreateTeam founds a team with the member as its first admin and returns a
// client bound to it.
func CreateTeam(ctx context.Context, store storage.Store, net Broadcaster, id Identity, name string, profile Profile, opts ...Option) (*Client, error) {
	c, err := New(store, net, id, id.Sign.PublicKey, opts...)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.commitSend(ctx, id.Sign, func(context.Context, storage.Store) (protocol.Body, error) {
		return protocol.GenesisBlock{
			TeamInfo:        protocol.TeamInfo{Name: name},
			CreatorIdentity: id.protocolIdentity(profile),
		}, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// TeamPublicKey returns the key of the team the client follows.
func (c *Client) TeamPublicKey() []byte { return append([]byte(nil), c.team...) }

// PublicKey returns the member's signing public key.
func (c *Client) PublicKey() []byte { return append([]byte(nil), c.id.Sign.PublicKey...) }

type buildFunc func(ctx context.Context, tx storage.Store) (protocol.Body, error)

type afterFunc func(ctx context.Context, tx storage.Store) error

// commitSend signs the body build returns, applies it to the replica and
// broadcasts it in one local transaction. after runs once the local apply
// succeeded and shares its transaction. Callers hold mu.
func (c *Client) commitSend(ctx context.Context, signer keys.SignKeyPair, build buildFunc, after afterFunc) ([]byte, error) {
	var hash []byte
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		body, err := build(ctx, tx)
		if err != nil {
			return err
		}
		signed, err := verify.Sign(signer, protocol.NewMessage(c.now(), body))
		if err != nil {
			return err
		}
		if err := c.apply(ctx, tx, signed); err != nil {
			return err
		}
		if after != nil {
			if err := after(ctx, tx); err != nil {
				return err
			}
		}
		if _, err := c.net.Submit(ctx, signed); err != nil && !engine.IsBlockExists(err) {
			return err
		}
		hash = signed.PayloadHash()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hash, nil
}

// appendOp appends op after the local head, resyncing and retrying when the
// server reports that the head moved. Callers hold mu.
func (c *Client) appendOp(ctx context.Context, signer keys.SignKeyPair, op protocol.Operation) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		hash, err := c.commitSend(ctx, signer, func(ctx context.Context, tx storage.Store) (protocol.Body, error) {
			info, err := tx.GetTeam(ctx, c.team)
			if err != nil {
				return nil, err
			}
			return protocol.Block{LastBlockHash: info.LastBlockHash, Operation: op}, nil
		}, nil)
		if err == nil || !engine.IsRetryable(err) {
			return hash, err
		}
		lastErr = err
		if err := c.syncTeam(ctx, signer); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// signRead signs a read request with a fresh nonce set by the caller.
func (c *Client) signRead(signer keys.SignKeyPair, body protocol.Body) (protocol.SignedMessage, error) {
	return verify.Sign(signer, protocol.NewMessage(c.now(), body))
}
