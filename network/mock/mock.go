package mock

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/types"
)

// Network fakes the transport API for tests: a fixed set of nodes with
// scripted quotes and failures, each holding its own record store.
type Network struct {
	lk    sync.Mutex
	nodes map[peer.ID]*Node
	order []peer.ID
}

// Node is one fake peer. Script fields are read on every call, so a
// test can flip behavior mid-flight.
type Node struct {
	ID    peer.ID
	Owner types.OwnerKey
	Price types.BigInt

	// CostErr is returned from GetStoreCost when set.
	CostErr error

	// CostHang makes GetStoreCost block until the context expires.
	CostHang bool

	// GetErr is returned from GetRecord when set.
	GetErr error

	// PutErr is returned from PutRecord when set.
	PutErr error

	// ChunkPutErr is returned from PutRecord for chunk records only,
	// leaving spend broadcasts alone.
	ChunkPutErr error

	// InsufficientPuts fails the next n chunk puts with
	// ErrPaymentInsufficient before accepting.
	InsufficientPuts int

	// Tamper rewrites records served from this node.
	Tamper func(rec *types.Record) *types.Record

	records  map[cid.Cid]*types.Record
	putCount map[cid.Cid]int
}

var _ network.API = (*Network)(nil)

func New() *Network {
	return &Network{
		nodes: make(map[peer.ID]*Node),
	}
}

// AddNode registers a fake peer quoting price and paid via owner.
func (n *Network) AddNode(id string, owner types.OwnerKey, price types.BigInt) *Node {
	n.lk.Lock()
	defer n.lk.Unlock()

	nd := &Node{
		ID:       peer.ID(id),
		Owner:    owner,
		Price:    price,
		records:  make(map[cid.Cid]*types.Record),
		putCount: make(map[cid.Cid]int),
	}
	n.nodes[nd.ID] = nd
	n.order = append(n.order, nd.ID)
	return nd
}

func (n *Network) GetClosestPeers(ctx context.Context, key cid.Cid) ([]peer.ID, error) {
	n.lk.Lock()
	defer n.lk.Unlock()

	out := make([]peer.ID, 0, len(n.order))
	out = append(out, n.order...)
	if len(out) > build.CloseGroupSize {
		out = out[:build.CloseGroupSize]
	}
	return out, nil
}

func (n *Network) GetStoreCost(ctx context.Context, p peer.ID, key cid.Cid) (*types.Quote, error) {
	n.lk.Lock()
	nd, ok := n.nodes[p]
	if !ok {
		n.lk.Unlock()
		return nil, network.ErrNotFound
	}
	hang, costErr := nd.CostHang, nd.CostErr
	owner, price := nd.Owner, nd.Price
	n.lk.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if costErr != nil {
		return nil, costErr
	}

	return &types.Quote{
		Node:      p,
		Owner:     owner,
		Key:       key,
		Price:     price,
		Timestamp: build.Clock.Now(),
	}, nil
}

func (n *Network) PutRecord(ctx context.Context, p peer.ID, rec *types.Record, proof *types.PaymentProof) error {
	n.lk.Lock()
	defer n.lk.Unlock()

	nd, ok := n.nodes[p]
	if !ok {
		return network.ErrNotFound
	}
	if nd.PutErr != nil {
		return nd.PutErr
	}
	if rec.Type == types.RecordChunk {
		if nd.ChunkPutErr != nil {
			return nd.ChunkPutErr
		}
		if nd.InsufficientPuts > 0 {
			nd.InsufficientPuts--
			return network.ErrPaymentInsufficient
		}
	}

	nd.putCount[rec.Key]++

	// conflicting spends never displace the first one seen; the
	// original is the evidence
	if _, ok := nd.records[rec.Key]; ok && rec.Type == types.RecordSpend {
		return nil
	}

	cp := *rec
	nd.records[rec.Key] = &cp
	return nil
}

func (n *Network) GetRecord(ctx context.Context, p peer.ID, key cid.Cid) (*types.Record, error) {
	n.lk.Lock()
	defer n.lk.Unlock()

	nd, ok := n.nodes[p]
	if !ok {
		return nil, network.ErrNotFound
	}
	if nd.GetErr != nil {
		return nil, nd.GetErr
	}

	rec, ok := nd.records[key]
	if !ok {
		return nil, network.ErrNotFound
	}

	cp := *rec
	if nd.Tamper != nil {
		return nd.Tamper(&cp), nil
	}
	return &cp, nil
}

// Seed places a record directly on one node's store.
func (n *Network) Seed(p peer.ID, rec *types.Record) {
	n.lk.Lock()
	defer n.lk.Unlock()

	if nd, ok := n.nodes[p]; ok {
		cp := *rec
		nd.records[rec.Key] = &cp
	}
}

// SeedAll places a record on every node.
func (n *Network) SeedAll(rec *types.Record) {
	n.lk.Lock()
	defer n.lk.Unlock()

	for _, nd := range n.nodes {
		cp := *rec
		nd.records[rec.Key] = &cp
	}
}

// Holders lists the nodes currently storing key.
func (n *Network) Holders(key cid.Cid) []peer.ID {
	n.lk.Lock()
	defer n.lk.Unlock()

	var out []peer.ID
	for _, id := range n.order {
		if _, ok := n.nodes[id].records[key]; ok {
			out = append(out, id)
		}
	}
	return out
}

// PutCount reports how many puts of key one node has accepted or
// counted.
func (n *Network) PutCount(p peer.ID, key cid.Cid) int {
	n.lk.Lock()
	defer n.lk.Unlock()

	if nd, ok := n.nodes[p]; ok {
		return nd.putCount[key]
	}
	return 0
}

// StoredRecord returns the record one node holds at key, or nil.
func (n *Network) StoredRecord(p peer.ID, key cid.Cid) *types.Record {
	n.lk.Lock()
	defer n.lk.Unlock()

	if nd, ok := n.nodes[p]; ok {
		if rec, ok := nd.records[key]; ok {
			cp := *rec
			return &cp
		}
	}
	return nil
}

// Node returns the scripted node behind id for mid-test adjustments.
func (n *Network) Node(p peer.ID) *Node {
	n.lk.Lock()
	defer n.lk.Unlock()
	return n.nodes[p]
}
