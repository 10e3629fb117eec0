package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/aster-network/aster/types"
)

// API is the transport surface the client consumes. Requests are
// unreliable and unordered across peers; callers own all retry and
// quorum logic.
type API interface {
	// GetClosestPeers resolves the peers responsible for key, best
	// candidates first.
	GetClosestPeers(ctx context.Context, key cid.Cid) ([]peer.ID, error)

	// GetStoreCost asks one peer for its price to store the record at
	// key.
	GetStoreCost(ctx context.Context, p peer.ID, key cid.Cid) (*types.Quote, error)

	// PutRecord hands one peer a record, with the payment proof
	// covering it where one is required. Storing a spend needs no
	// proof; the spend is the payment.
	PutRecord(ctx context.Context, p peer.ID, rec *types.Record, proof *types.PaymentProof) error

	// GetRecord fetches the record a peer holds at key, or ErrNotFound.
	GetRecord(ctx context.Context, p peer.ID, key cid.Cid) (*types.Record, error)
}

// PeerRouting resolves the peers closest to a key. Backed by the
// host's Kademlia DHT in a full deployment; routing internals stay
// outside this module.
type PeerRouting interface {
	GetClosestPeers(ctx context.Context, key string) ([]peer.ID, error)
}

var (
	// ErrNotFound means the queried peer does not hold the record.
	ErrNotFound = errors.New("record not found on peer")

	// ErrPaymentInsufficient means the peer wants a larger payment for
	// the record. Recoverable by negotiating and paying again.
	ErrPaymentInsufficient = errors.New("peer considers payment insufficient")
)

// RejectedError is a peer's terminal refusal to store a record: the
// record or its proof is invalid as presented, and retrying the same
// bytes cannot succeed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("peer rejected record: %s", e.Reason)
}
