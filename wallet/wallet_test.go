package wallet

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
)

func testTx(t *testing.T, seed string) cid.Cid {
	t.Helper()
	c, err := types.ChunkKey([]byte(seed))
	require.NoError(t, err)
	return c
}

func setupWallet(t *testing.T) (*Wallet, datastore.Batching) {
	t.Helper()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	w, err := NewWallet(context.Background(), NewMemKeyStore(), ds)
	require.NoError(t, err)
	return w, ds
}

func TestGenerateKeyDefault(t *testing.T) {
	w, _ := setupWallet(t)

	owner, err := w.GenerateKey(types.SigTypeBLS)
	require.NoError(t, err)
	require.False(t, owner.Empty())

	def, err := w.GetDefault()
	require.NoError(t, err)
	require.Equal(t, owner, def)

	has, err := w.HasKey(owner)
	require.NoError(t, err)
	require.True(t, has)

	require.True(t, w.Balance(owner).IsZero())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	w, _ := setupWallet(t)

	owner, err := w.GenerateKey(types.SigTypeEd25519)
	require.NoError(t, err)

	msg := []byte("spend id bytes")
	sig, err := w.Sign(ctx, owner, msg)
	require.NoError(t, err)
	require.Equal(t, types.SigTypeEd25519, sig.Type)

	_, err = w.Sign(ctx, types.UndefOwnerKey, msg)
	require.True(t, xerrors.Is(err, ErrSigning))
}

func TestImportOutputAndBalance(t *testing.T) {
	ctx := context.Background()
	w, _ := setupWallet(t)

	owner, err := w.GenerateKey(types.SigTypeBLS)
	require.NoError(t, err)

	ref := types.OutputRef{Tx: testTx(t, "genesis"), Index: 0}
	require.NoError(t, w.ImportOutput(ctx, ref, owner, types.NewInt(100)))
	require.Equal(t, types.NewInt(100), w.Balance(owner))

	// idempotent
	require.NoError(t, w.ImportOutput(ctx, ref, owner, types.NewInt(100)))
	require.Equal(t, types.NewInt(100), w.Balance(owner))

	// unknown key refused
	stranger, err := types.NewOwnerKey(types.SigTypeEd25519, []byte("not a real public key 0123456789"))
	require.NoError(t, err)
	err = w.ImportOutput(ctx, types.OutputRef{Tx: testTx(t, "x"), Index: 0}, stranger, types.NewInt(5))
	require.Error(t, err)
}

func TestSelectOutputsLargestFirst(t *testing.T) {
	ctx := context.Background()
	w, _ := setupWallet(t)

	owner, err := w.GenerateKey(types.SigTypeBLS)
	require.NoError(t, err)

	tx := testTx(t, "funding")
	for i, amt := range []uint64{5, 50, 20} {
		ref := types.OutputRef{Tx: tx, Index: uint64(i)}
		require.NoError(t, w.ImportOutput(ctx, ref, owner, types.NewInt(amt)))
	}

	picked, total, err := w.SelectOutputs(ctx, owner, types.NewInt(60))
	require.NoError(t, err)
	require.Len(t, picked, 2)
	require.Equal(t, types.NewInt(70), total)
	require.Equal(t, types.NewInt(50), picked[0].Amount)
	require.Equal(t, types.NewInt(20), picked[1].Amount)

	// only the 5 remains spendable
	require.Equal(t, types.NewInt(5), w.Balance(owner))
}

func TestSelectOutputsMarksSpent(t *testing.T) {
	ctx := context.Background()
	w, _ := setupWallet(t)

	owner, err := w.GenerateKey(types.SigTypeBLS)
	require.NoError(t, err)

	ref := types.OutputRef{Tx: testTx(t, "single"), Index: 0}
	require.NoError(t, w.ImportOutput(ctx, ref, owner, types.NewInt(10)))

	_, _, err = w.SelectOutputs(ctx, owner, types.NewInt(10))
	require.NoError(t, err)

	// the same output cannot fund a second spend
	_, _, err = w.SelectOutputs(ctx, owner, types.NewInt(10))
	require.True(t, xerrors.Is(err, ErrInsufficientFunds))
}

func TestSelectOutputsInsufficientIsAtomic(t *testing.T) {
	ctx := context.Background()
	w, _ := setupWallet(t)

	owner, err := w.GenerateKey(types.SigTypeBLS)
	require.NoError(t, err)

	tx := testTx(t, "funding")
	require.NoError(t, w.ImportOutput(ctx, types.OutputRef{Tx: tx, Index: 0}, owner, types.NewInt(30)))
	require.NoError(t, w.ImportOutput(ctx, types.OutputRef{Tx: tx, Index: 1}, owner, types.NewInt(10)))

	_, _, err = w.SelectOutputs(ctx, owner, types.NewInt(100))
	require.True(t, xerrors.Is(err, ErrInsufficientFunds))

	// a failed selection must not burn anything
	require.Equal(t, types.NewInt(40), w.Balance(owner))
}

func TestPendingOutputsConfirm(t *testing.T) {
	ctx := context.Background()
	w, _ := setupWallet(t)

	owner, err := w.GenerateKey(types.SigTypeBLS)
	require.NoError(t, err)

	parent := testTx(t, "parent")
	ss := &types.SignedSpend{
		Spend: types.Spend{
			Owner: owner,
			Inputs: []types.Input{
				{Ref: types.OutputRef{Tx: parent, Index: 0}, Amount: types.NewInt(10)},
			},
			Outputs: []types.Output{
				{Owner: owner, Amount: types.NewInt(10)},
			},
			Fee:       types.NewInt(0),
			ParentTxs: []cid.Cid{parent},
		},
	}

	require.NoError(t, w.AddPending(ctx, ss))
	require.True(t, w.Balance(owner).IsZero())

	require.NoError(t, w.ConfirmTx(ctx, ss.Cid()))
	require.Equal(t, types.NewInt(10), w.Balance(owner))
}

func TestWalletReload(t *testing.T) {
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	ks := NewMemKeyStore()

	w, err := NewWallet(ctx, ks, ds)
	require.NoError(t, err)

	owner, err := w.GenerateKey(types.SigTypeBLS)
	require.NoError(t, err)

	tx := testTx(t, "funding")
	require.NoError(t, w.ImportOutput(ctx, types.OutputRef{Tx: tx, Index: 0}, owner, types.NewInt(25)))
	require.NoError(t, w.ImportOutput(ctx, types.OutputRef{Tx: tx, Index: 1}, owner, types.NewInt(15)))

	_, _, err = w.SelectOutputs(ctx, owner, types.NewInt(20))
	require.NoError(t, err)

	// reopen over the same datastore: states must survive
	w2, err := NewWallet(ctx, ks, ds)
	require.NoError(t, err)
	require.Equal(t, types.NewInt(15), w2.Balance(owner))

	outs := w2.ListOutputs(owner)
	require.Len(t, outs, 2)
}

func TestProofStore(t *testing.T) {
	ctx := context.Background()
	w, _ := setupWallet(t)

	chunk := testTx(t, "chunk data")
	tx := testTx(t, "paying spend")

	reason, err := types.PaymentReason([]cid.Cid{chunk})
	require.NoError(t, err)

	proofs, err := w.PaymentProofs(ctx, chunk)
	require.NoError(t, err)
	require.Empty(t, proofs)

	require.NoError(t, w.PutProofs(ctx, []types.PaymentProof{
		{Chunk: chunk, Tx: tx, SpendKeys: []cid.Cid{tx}, Reason: reason},
	}))

	proofs, err = w.PaymentProofs(ctx, chunk)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.Equal(t, tx, proofs[0].Tx)
	require.Equal(t, reason, proofs[0].Reason)
}
