package audit

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/aster-network/aster/network/mock"
	"github.com/aster-network/aster/payment"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

type testEnv struct {
	net     *mock.Network
	w       *wallet.Wallet
	builder *payment.Builder
	v       *Verifier

	owner types.OwnerKey
	other types.OwnerKey

	// genesis is a trusted root transaction whose output 0 funds owner
	genesis cid.Cid
}

func newTestEnv(t *testing.T) *testEnv {
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

	v, err := NewVerifier(net, []cid.Cid{genesis})
	require.NoError(t, err)

	return &testEnv{
		net:     net,
		w:       w,
		builder: payment.NewBuilder(w),
		v:       v,
		owner:   owner,
		other:   other,
		genesis: genesis,
	}
}

// spendRecords renders a spend as the records a broadcast would place:
// one per consumed input's spend address, plus one at the tx id.
func spendRecords(t *testing.T, ss *types.SignedSpend) []*types.Record {
	t.Helper()

	data, err := ss.Serialize()
	require.NoError(t, err)
	keys, err := ss.Spend.SpendKeys()
	require.NoError(t, err)
	keys = append(keys, ss.Cid())

	recs := make([]*types.Record, 0, len(keys))
	for _, k := range keys {
		recs = append(recs, &types.Record{Key: k, Type: types.RecordSpend, Value: data})
	}
	return recs
}

func (e *testEnv) broadcast(t *testing.T, ss *types.SignedSpend) {
	t.Helper()
	for _, rec := range spendRecords(t, ss) {
		e.net.SeedAll(rec)
	}
}

func (e *testEnv) seedOn(t *testing.T, p peer.ID, ss *types.SignedSpend) {
	t.Helper()
	for _, rec := range spendRecords(t, ss) {
		e.net.Seed(p, rec)
	}
}

// conflictingSpend signs a second spend over the same inputs, paying
// everything to a different output set.
func (e *testEnv) conflictingSpend(t *testing.T, ss *types.SignedSpend, to types.OwnerKey) *types.SignedSpend {
	t.Helper()

	sp := types.Spend{
		Owner:     ss.Spend.Owner,
		Inputs:    ss.Spend.Inputs,
		ParentTxs: ss.Spend.ParentTxs,
		Fee:       types.NewInt(0),
		Outputs:   []types.Output{{Owner: to, Amount: ss.Spend.InputSum()}},
	}
	sig, err := e.w.Sign(context.Background(), sp.Owner, sp.SigningBytes())
	require.NoError(t, err)

	evil := &types.SignedSpend{Spend: sp, Signature: *sig}
	require.False(t, evil.Cid().Equals(ss.Cid()))
	return evil
}

func TestVerifyValidSpend(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	ss, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)
	e.broadcast(t, ss)

	res, err := e.v.Verify(ctx, ss)
	require.NoError(t, err)
	require.Equal(t, ss.Cid(), res.Tx)
	require.Empty(t, res.Conflicts)

	// the funding tx is a trusted root, no lineage to fetch
	require.Zero(t, res.Ancestors)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	ss, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)

	ss.Signature.Data[0] ^= 0xff

	_, err = e.v.Verify(ctx, ss)
	require.Error(t, err)
	require.ErrorContains(t, err, "signature invalid")
}

func TestVerifyDetectsDoubleSpend(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	ss, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)
	evil := e.conflictingSpend(t, ss, e.other)

	// two nodes saw the honest spend first, one saw the conflicting one
	e.seedOn(t, peer.ID("node1"), ss)
	e.seedOn(t, peer.ID("node2"), ss)
	e.seedOn(t, peer.ID("node3"), evil)

	res, err := e.v.Verify(ctx, ss)
	require.Error(t, err)

	var dse *DoubleSpendError
	require.ErrorAs(t, err, &dse)
	require.Equal(t, ss.Spend.Inputs[0].Ref, dse.Ref)
	require.Len(t, dse.Conflicting, 1)
	require.Equal(t, evil.Cid(), dse.Conflicting[0].Cid())
	require.Len(t, res.Conflicts, 1)

	// the conflict is symmetric: the other spend fails the same way
	_, err = e.v.Verify(ctx, evil)
	require.ErrorAs(t, err, &dse)
}

func TestVerifyAncestryChain(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	ss1, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)
	e.broadcast(t, ss1)
	require.NoError(t, e.w.ConfirmTx(ctx, ss1.Cid()))

	// ss2 spends ss1's change output
	ss2, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(10))
	require.NoError(t, err)
	e.broadcast(t, ss2)
	require.Equal(t, ss1.Cid(), ss2.Spend.Inputs[0].Ref.Tx)

	res, err := e.v.Verify(ctx, ss2)
	require.NoError(t, err)
	require.Equal(t, 1, res.Ancestors)
}

func TestVerifyMissingAncestry(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	ss1, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)
	require.NoError(t, e.w.ConfirmTx(ctx, ss1.Cid()))

	// ss1 never made it to the network, so ss2's lineage dangles
	ss2, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(10))
	require.NoError(t, err)
	e.broadcast(t, ss2)

	_, err = e.v.Verify(ctx, ss2)
	require.ErrorIs(t, err, ErrMissingAncestry)
}

func TestVerifyAncestryDepthBound(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	ss1, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)
	require.NoError(t, e.w.ConfirmTx(ctx, ss1.Cid()))

	ss2, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(10))
	require.NoError(t, err)
	e.broadcast(t, ss2)

	// with the walk bounded to zero the missing parent is accepted as-is
	e.v.maxDepth = 0

	res, err := e.v.Verify(ctx, ss2)
	require.NoError(t, err)
	require.Zero(t, res.Ancestors)
}

func TestVerifyRejectsOverdrawnLineage(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	ss1, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(40))
	require.NoError(t, err)
	e.broadcast(t, ss1)
	require.NoError(t, e.w.ConfirmTx(ctx, ss1.Cid()))

	ss2, err := e.builder.BuildTransfer(ctx, e.owner, e.other, types.NewInt(10))
	require.NoError(t, err)

	// claim more than the parent output actually created
	ss2.Spend.Inputs[0].Amount = types.NewInt(1000)
	ss2.Spend.Outputs[len(ss2.Spend.Outputs)-1].Amount = types.NewInt(990)
	sig, err := e.w.Sign(ctx, e.owner, ss2.Spend.SigningBytes())
	require.NoError(t, err)
	ss2.Signature = *sig
	e.broadcast(t, ss2)

	_, err = e.v.Verify(ctx, ss2)
	require.Error(t, err)
	require.ErrorContains(t, err, "does not match created output")
}
