package network

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/lib/cborutil"
	"github.com/aster-network/aster/types"
)

var log = logging.Logger("network")

// Client implements API over libp2p streams: one stream per request,
// CBOR framed, bounded by a per-request deadline.
type Client struct {
	host    host.Host
	routing PeerRouting
}

var _ API = (*Client)(nil)

func NewClient(h host.Host, r PeerRouting) *Client {
	return &Client{
		host:    h,
		routing: r,
	}
}

func (c *Client) GetClosestPeers(ctx context.Context, key cid.Cid) ([]peer.ID, error) {
	peers, err := c.routing.GetClosestPeers(ctx, key.KeyString())
	if err != nil {
		return nil, xerrors.Errorf("routing close group for %s: %w", key, err)
	}
	if len(peers) == 0 {
		return nil, xerrors.Errorf("no peers found for %s", key)
	}
	if len(peers) > build.CloseGroupSize {
		peers = peers[:build.CloseGroupSize]
	}
	return peers, nil
}

func (c *Client) GetStoreCost(ctx context.Context, p peer.ID, key cid.Cid) (*types.Quote, error) {
	var resp CostResponse
	if err := c.sendRequest(ctx, p, CostProtocolID, &CostRequest{Key: key}, &resp); err != nil {
		return nil, err
	}

	if resp.Status != StatusOK {
		return nil, statusError(resp.Status, resp.Message)
	}
	if resp.Price.Nil() || resp.Price.Sign() < 0 {
		return nil, xerrors.Errorf("peer %s returned invalid price", p)
	}
	if resp.Owner.Empty() {
		return nil, xerrors.Errorf("peer %s returned quote without payee", p)
	}

	return &types.Quote{
		Node:      p,
		Owner:     resp.Owner,
		Key:       key,
		Price:     resp.Price,
		Timestamp: resp.Timestamp,
	}, nil
}

func (c *Client) PutRecord(ctx context.Context, p peer.ID, rec *types.Record, proof *types.PaymentProof) error {
	var resp PutResponse
	if err := c.sendRequest(ctx, p, PutProtocolID, &PutRequest{Record: *rec, Proof: proof}, &resp); err != nil {
		return err
	}

	if resp.Status != StatusOK {
		return statusError(resp.Status, resp.Message)
	}
	return nil
}

func (c *Client) GetRecord(ctx context.Context, p peer.ID, key cid.Cid) (*types.Record, error) {
	var resp GetResponse
	if err := c.sendRequest(ctx, p, GetProtocolID, &GetRequest{Key: key}, &resp); err != nil {
		return nil, err
	}

	if resp.Status != StatusOK {
		return nil, statusError(resp.Status, resp.Message)
	}
	if resp.Record == nil {
		return nil, xerrors.Errorf("peer %s returned ok with no record", p)
	}
	return resp.Record, nil
}

func (c *Client) sendRequest(ctx context.Context, p peer.ID, proto protocol.ID, req interface{}, resp interface{}) error {
	s, err := c.host.NewStream(ctx, p, proto)
	if err != nil {
		return xerrors.Errorf("opening stream to %s: %w", p, err)
	}
	defer s.Close() //nolint:errcheck

	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(build.RequestTimeoutSecs * time.Second)
	}
	if err := s.SetDeadline(dl); err != nil {
		log.Debugf("setting stream deadline: %s", err)
	}

	if err := cborutil.WriteCborRPC(s, req); err != nil {
		return xerrors.Errorf("writing request to %s: %w", p, err)
	}
	if err := s.CloseWrite(); err != nil {
		return xerrors.Errorf("closing write side: %w", err)
	}

	if err := cborutil.ReadCborRPC(s, resp); err != nil {
		return xerrors.Errorf("reading response from %s: %w", p, err)
	}
	return nil
}

func statusError(st Status, msg string) error {
	switch st {
	case StatusNotFound:
		return ErrNotFound
	case StatusRejected:
		return &RejectedError{Reason: msg}
	case StatusPaymentInsufficient:
		return xerrors.Errorf("%w: %s", ErrPaymentInsufficient, msg)
	default:
		return xerrors.Errorf("peer returned status %d: %s", st, msg)
	}
}
