package fetcher

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/aster-network/aster/audit"
	"github.com/aster-network/aster/network/mock"
	"github.com/aster-network/aster/payment"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

type fetchEnv struct {
	net     *mock.Network
	w       *wallet.Wallet
	builder *payment.Builder
	f       *Fetcher

	owner   types.OwnerKey
	other   types.OwnerKey
	genesis cid.Cid
}

func newFetchEnv(t *testing.T) *fetchEnv {
	t.Helper()
	ctx := context.Background()

	net := mock.New()
	net.AddNode("node1", types.UndefOwnerKey, types.NewInt(1))
	net.AddNode("node2", types.UndefOwnerKey, types.NewInt(1))
	net.AddNode("node3", types.UndefOwnerKey, types.NewInt(1))

	w, err := wallet.NewWallet(ctx, wallet.NewMemKeyStore(), dssync.MutexWrap(datastore.NewMapDatastore()))
	require.NoError(t, err)

	owner, err := w.GenerateKey(types.SigTypeEd25519)
	require.NoError(t, err)
	other, err := w.GenerateKey(types.SigTypeEd25519)
	require.NoError(t, err)

	genesis, err := types.ChunkKey([]byte("genesis tx"))
	require.NoError(t, err)
	require.NoError(t, w.ImportOutput(ctx, types.OutputRef{Tx: genesis, Index: 0}, owner, types.NewInt(100)))

	v, err := audit.NewVerifier(net, []cid.Cid{genesis})
	require.NoError(t, err)

	return &fetchEnv{
		net:     net,
		w:       w,
		builder: payment.NewBuilder(w),
		f:       New(net, v),
		owner:   owner,
		other:   other,
		genesis: genesis,
	}
}

func (e *fetchEnv) register(t *testing.T, name string, value []byte, counter uint64) *types.Record {
	t.Helper()

	re := &types.RegisterEntry{Owner: e.owner, Name: name, Value: value, Counter: counter}
	sb, err := re.SigningBytes()
	require.NoError(t, err)
	sig, err := e.w.Sign(context.Background(), e.owner, sb)
	require.NoError(t, err)
	re.Signature = *sig

	key, err := re.Key()
	require.NoError(t, err)
	data, err := re.Serialize()
	require.NoError(t, err)
	return &types.Record{Key: key, Type: types.RecordRegister, Value: data}
}

func TestFetchChunkFirstValid(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	ch := types.NewChunk([]byte("some stored content"))
	e.net.SeedAll(ch.Record())

	rec, err := e.f.Fetch(ctx, ch.Key(), types.QuorumOne)
	require.NoError(t, err)
	require.Equal(t, ch.Data(), rec.Value)

	got, err := e.f.FetchChunk(ctx, ch.Key())
	require.NoError(t, err)
	require.Equal(t, ch.Data(), got.Data())
}

func TestFetchOneSkipsTampered(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	ch := types.NewChunk([]byte("some stored content"))
	e.net.SeedAll(ch.Record())

	// the first peer queried serves corrupted bytes; its response must
	// not win just by being first
	e.net.Node(peer.ID("node1")).Tamper = func(rec *types.Record) *types.Record {
		rec.Value = []byte("corrupted")
		return rec
	}

	rec, err := e.f.Fetch(ctx, ch.Key(), types.QuorumOne)
	require.NoError(t, err)
	require.Equal(t, ch.Data(), rec.Value)
}

func TestFetchNotFound(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	key, err := types.ChunkKey([]byte("never uploaded"))
	require.NoError(t, err)

	_, err = e.f.Fetch(ctx, key, types.QuorumOne)
	require.ErrorIs(t, err, ErrRecordNotFound)

	_, err = e.f.Fetch(ctx, key, types.QuorumMajority)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestFetchAllUnanimous(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	rec := e.register(t, "profile", []byte("v1"), 1)
	e.net.SeedAll(rec)

	got, err := e.f.Fetch(ctx, rec.Key, types.QuorumAll)
	require.NoError(t, err)
	require.Equal(t, rec.Value, got.Value)

	got, err = e.f.Fetch(ctx, rec.Key, types.QuorumMajority)
	require.NoError(t, err)
	require.Equal(t, rec.Value, got.Value)
}

func TestFetchMajorityOverridesStraggler(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	recA := e.register(t, "profile", []byte("v1"), 1)
	recB := e.register(t, "profile", []byte("v2"), 2)
	require.Equal(t, recA.Key, recB.Key)

	e.net.Seed(peer.ID("node1"), recA)
	e.net.Seed(peer.ID("node2"), recA)
	e.net.Seed(peer.ID("node3"), recB)

	got, err := e.f.Fetch(ctx, recA.Key, types.QuorumMajority)
	require.NoError(t, err)
	require.Equal(t, recA.Value, got.Value)

	// unanimity is stricter: the straggler makes the group inconsistent
	_, err = e.f.Fetch(ctx, recA.Key, types.QuorumAll)
	require.ErrorIs(t, err, ErrInconsistentRecord)
}

func TestFetchMajorityNoQuorum(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	recA := e.register(t, "profile", []byte("v1"), 1)
	recB := e.register(t, "profile", []byte("v2"), 2)
	recC := e.register(t, "profile", []byte("v3"), 3)

	e.net.Seed(peer.ID("node1"), recA)
	e.net.Seed(peer.ID("node2"), recB)
	e.net.Seed(peer.ID("node3"), recC)

	_, err := e.f.Fetch(ctx, recA.Key, types.QuorumMajority)
	require.ErrorIs(t, err, ErrNoQuorum)
}

func TestFetchSpendAddress(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	ss, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)

	data, err := ss.Serialize()
	require.NoError(t, err)
	keys, err := ss.Spend.SpendKeys()
	require.NoError(t, err)
	for _, k := range keys {
		e.net.SeedAll(&types.Record{Key: k, Type: types.RecordSpend, Value: data})
	}

	rec, err := e.f.Fetch(ctx, keys[0], types.QuorumAll)
	require.NoError(t, err)

	got, err := types.DecodeSignedSpend(rec.Value)
	require.NoError(t, err)
	require.Equal(t, ss.Cid(), got.Cid())
}

func TestFetchRejectsForgedRegister(t *testing.T) {
	ctx := context.Background()
	e := newFetchEnv(t)

	rec := e.register(t, "profile", []byte("v1"), 1)

	// re-sign nothing: swap the payload under the old signature
	forged, err := types.DecodeRegisterEntry(rec.Value)
	require.NoError(t, err)
	forged.Value = []byte("swapped")
	data, err := forged.Serialize()
	require.NoError(t, err)
	e.net.SeedAll(&types.Record{Key: rec.Key, Type: types.RecordRegister, Value: data})

	_, err = e.f.Fetch(ctx, rec.Key, types.QuorumOne)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRecordNotFound)
}
