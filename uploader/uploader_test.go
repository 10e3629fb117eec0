package uploader

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/api"
	"github.com/aster-network/aster/audit"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/network/mock"
	"github.com/aster-network/aster/payment"
	"github.com/aster-network/aster/spendpool"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

type eventLog struct {
	lk   sync.Mutex
	evts []api.ClientEvent
}

func (l *eventLog) emit(e api.ClientEvent) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.evts = append(l.evts, e)
}

func (l *eventLog) count(typ api.EventType) int {
	l.lk.Lock()
	defer l.lk.Unlock()
	n := 0
	for _, e := range l.evts {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type upEnv struct {
	net    *mock.Network
	w      *wallet.Wallet
	pool   *spendpool.Pool
	up     *Uploader
	events *eventLog

	owner   types.OwnerKey
	genesis cid.Cid
}

// newUpEnv wires the full store pipeline over a mock network: one
// storage node per price, a funded wallet, and an uploader.
func newUpEnv(t *testing.T, prices ...uint64) *upEnv {
	t.Helper()
	ctx := context.Background()

	// storage nodes get paid to their own keys, held apart from the
	// client's wallet
	nodeW, err := wallet.NewWallet(ctx, wallet.NewMemKeyStore(), dssync.MutexWrap(datastore.NewMapDatastore()))
	require.NoError(t, err)

	net := mock.New()
	for i, price := range prices {
		nodeOwner, err := nodeW.GenerateKey(types.SigTypeEd25519)
		require.NoError(t, err)
		net.AddNode(fmt.Sprintf("node%d", i+1), nodeOwner, types.NewInt(price))
	}

	w, err := wallet.NewWallet(ctx, wallet.NewMemKeyStore(), dssync.MutexWrap(datastore.NewMapDatastore()))
	require.NoError(t, err)
	owner, err := w.GenerateKey(types.SigTypeEd25519)
	require.NoError(t, err)

	genesis, err := types.ChunkKey([]byte("genesis tx"))
	require.NoError(t, err)
	require.NoError(t, w.ImportOutput(ctx, types.OutputRef{Tx: genesis, Index: 0}, owner, types.NewInt(1000)))

	v, err := audit.NewVerifier(net, []cid.Cid{genesis})
	require.NoError(t, err)

	pool, err := spendpool.New(ctx, net, v, w, dssync.MutexWrap(datastore.NewMapDatastore()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Close()
	})

	neg, err := payment.NewNegotiator(net, &payment.Config{
		MarginNum:        1,
		MarginDen:        1,
		TolerancePercent: 100,
		NegotiateTimeout: 5 * time.Second,
		RequestTimeout:   time.Second,
	})
	require.NoError(t, err)

	events := &eventLog{}
	up := New(net, neg, payment.NewBuilder(w), pool, w, events.emit)

	return &upEnv{
		net:     net,
		w:       w,
		pool:    pool,
		up:      up,
		events:  events,
		owner:   owner,
		genesis: genesis,
	}
}

func randomData(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.New(rand.NewSource(42)).Read(data)
	require.NoError(t, err)
	return data
}

func TestUploadSingleChunk(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)

	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(randomData(t, 100)))
	require.NoError(t, err)
	require.Len(t, rep.Chunks, 1)
	require.True(t, rep.Complete())

	c := rep.Chunks[0]
	require.Equal(t, api.ChunkConfirmed, c.State)
	require.Equal(t, 3, c.Copies)
	require.False(t, c.AlreadyStored)
	require.Len(t, e.net.Holders(c.Key), 3)

	// one batch spend, priced at the highest quote
	require.Len(t, rep.Txs, 1)
	require.True(t, rep.TotalPaid.Equals(types.NewInt(12)))
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(988)))

	// the proof is kept for future re-uploads
	proofs, err := e.w.PaymentProofs(ctx, c.Key)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.Equal(t, rep.Txs[0], proofs[0].Tx)

	require.NotZero(t, e.events.count(api.EventQueryingCost))
	require.NotZero(t, e.events.count(api.EventPaying))
	require.NotZero(t, e.events.count(api.EventUploading))
	require.NotZero(t, e.events.count(api.EventConfirmed))
}

func TestUploadMultiChunk(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)

	// three chunks: two full, one short
	data := randomData(t, 2*1024*1024+512)
	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rep.Chunks, 3)
	require.True(t, rep.Complete())
	require.Equal(t, 3, rep.Confirmed)

	// one spend settles the whole batch
	require.Len(t, rep.Txs, 1)
	require.True(t, rep.TotalPaid.Equals(types.NewInt(36)))

	for _, c := range rep.Chunks {
		require.Equal(t, 3, c.Copies)
		require.Len(t, e.net.Holders(c.Key), 3)
	}
	require.Equal(t, uint64(512), rep.Chunks[2].Size)
}

func TestUploadAlreadyStored(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 0, 0, 0)

	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(randomData(t, 100)))
	require.NoError(t, err)
	require.Len(t, rep.Chunks, 1)
	require.True(t, rep.Complete())

	c := rep.Chunks[0]
	require.True(t, c.AlreadyStored)
	require.Equal(t, api.ChunkConfirmed, c.State)

	// nothing paid, nothing uploaded
	require.Empty(t, rep.Txs)
	require.True(t, rep.TotalPaid.IsZero())
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(1000)))
	require.Empty(t, e.net.Holders(c.Key))
}

func TestUploadReusesProof(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)
	data := randomData(t, 100)

	rep1, err := e.up.Upload(ctx, e.owner, bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rep1.Txs, 1)

	// the second pass pays nothing: the stored proof rides along
	rep2, err := e.up.Upload(ctx, e.owner, bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, rep2.Complete())
	require.Empty(t, rep2.Txs)
	require.True(t, rep2.TotalPaid.IsZero())

	key := rep2.Chunks[0].Key
	require.Equal(t, 2, e.net.PutCount(peer.ID("node1"), key))
}

func TestPayForStorage(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)

	keys := []cid.Cid{
		types.NewChunk(randomData(t, 64)).Key(),
		types.NewChunk([]byte("second chunk")).Key(),
	}

	proofs, err := e.up.PayForStorage(ctx, e.owner, keys)
	require.NoError(t, err)
	require.Len(t, proofs, 2)
	for _, p := range proofs {
		require.Contains(t, keys, p.Chunk)
	}

	// one spend covered both addresses at the highest quote each
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(1000-24)))
	require.Equal(t, proofs[0].Tx, proofs[1].Tx)

	// paying again reuses the stored proofs instead of spending more
	again, err := e.up.PayForStorage(ctx, e.owner, keys)
	require.NoError(t, err)
	require.Len(t, again, 2)
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(976)))
}

func TestUploadRepaysInsufficient(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)

	// one node wants more than the batch payment covered, once
	e.net.Node(peer.ID("node1")).InsufficientPuts = 1

	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(randomData(t, 100)))
	require.NoError(t, err)
	require.True(t, rep.Complete())

	c := rep.Chunks[0]
	require.Equal(t, api.ChunkConfirmed, c.State)
	require.Equal(t, 3, c.Copies)

	// batch payment plus one top-up
	require.Len(t, rep.Txs, 2)
	require.True(t, rep.TotalPaid.Equals(types.NewInt(24)))
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(976)))
}

func TestUploadRejectedIsTerminal(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)

	for _, id := range []string{"node1", "node2", "node3"} {
		e.net.Node(peer.ID(id)).ChunkPutErr = &network.RejectedError{Reason: "proof does not cover chunk"}
	}

	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(randomData(t, 100)))
	require.NoError(t, err)
	require.False(t, rep.Complete())
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, api.ChunkFailed, rep.Chunks[0].State)
	require.Contains(t, rep.Chunks[0].Error, "rejected")
	require.NotZero(t, e.events.count(api.EventFailed))
}

func TestUploadPartialCopies(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)

	// one node refuses chunks outright; two copies is below target
	e.net.Node(peer.ID("node3")).ChunkPutErr = xerrors.New("disk full")

	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(randomData(t, 100)))
	require.NoError(t, err)
	require.False(t, rep.Complete())
	require.Equal(t, 1, rep.Partial)

	c := rep.Chunks[0]
	require.Equal(t, api.ChunkPartial, c.State)
	require.Equal(t, 2, c.Copies)
	require.Contains(t, c.Error, "not enough copies")
}

func TestUploadInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 2000, 2000, 2000)

	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(randomData(t, 100)))
	require.Error(t, err)
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, api.ChunkFailed, rep.Chunks[0].State)
}

func TestUploadEmptyStream(t *testing.T) {
	ctx := context.Background()
	e := newUpEnv(t, 10, 12, 11)

	rep, err := e.up.Upload(ctx, e.owner, bytes.NewReader(nil))
	require.NoError(t, err)
	require.Empty(t, rep.Chunks)
	require.True(t, rep.Complete())
	require.Empty(t, rep.Txs)
}
