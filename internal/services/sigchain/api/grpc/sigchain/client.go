package sigchain

import (
	"context"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	platformgrpc "github.com/louisbranch/sigchain/internal/platform/grpc"
	"github.com/louisbranch/sigchain/internal/platform/timeouts"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"google.golang.org/grpc"
)

// Client calls a remote sigchain service. Errors carrying domain details
// come back as *apperrors.Error so callers can branch on codes.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to a sigchain server and waits until it reports SERVING.
// The caller closes the returned connection.
func Dial(ctx context.Context, addr string) (*Client, *grpc.ClientConn, error) {
	conn, err := platformgrpc.Dial(ctx, addr, platformgrpc.DialConfig{
		Timeout:       timeouts.GRPCDial,
		HealthService: ServiceName,
	})
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

// Submit sends a write envelope and returns the accepted block hash.
func (c *Client) Submit(ctx context.Context, signed protocol.SignedMessage) ([]byte, error) {
	var out protocol.SubmitResponse
	if err := c.invoke(ctx, submitMethod, &signed, &out); err != nil {
		return nil, err
	}
	return out.BlockHash, nil
}

// ReadBlocks sends a signed main-chain read request.
func (c *Client) ReadBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadBlocksResponse, error) {
	var out protocol.ReadBlocksResponse
	err := c.invoke(ctx, readBlocksMethod, &signed, &out)
	return out, err
}

// ReadLogBlocks sends a signed log-chain read request.
func (c *Client) ReadLogBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadLogBlocksResponse, error) {
	var out protocol.ReadLogBlocksResponse
	err := c.invoke(ctx, readLogBlocksMethod, &signed, &out)
	return out, err
}

// InviteCiphertext fetches the sealed invitation secret for a link key hash.
func (c *Client) InviteCiphertext(ctx context.Context, keyHash []byte) ([]byte, error) {
	var out protocol.InviteCiphertextResponse
	if err := c.invoke(ctx, inviteCiphertextMethod, &protocol.InviteCiphertextRequest{SymmetricKeyHash: keyHash}, &out); err != nil {
		return nil, err
	}
	return out.Ciphertext, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeouts.GRPCRequest)
		defer cancel()
	}
	err := c.cc.Invoke(ctx, method, in, out, grpc.CallContentSubtype(CodecName))
	return apperrors.FromGRPC(err)
}
