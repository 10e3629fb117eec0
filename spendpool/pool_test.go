package spendpool

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/audit"
	"github.com/aster-network/aster/network/mock"
	"github.com/aster-network/aster/payment"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

var testNodes = []peer.ID{"node1", "node2", "node3"}

type poolEnv struct {
	net     *mock.Network
	w       *wallet.Wallet
	builder *payment.Builder
	v       *audit.Verifier
	pool    *Pool
	ds      datastore.Batching

	owner types.OwnerKey
	other types.OwnerKey

	genesis cid.Cid
}

func newPoolEnv(t *testing.T) *poolEnv {
	t.Helper()
	ctx := context.Background()

	net := mock.New()
	for _, id := range testNodes {
		net.AddNode(string(id), types.UndefOwnerKey, types.NewInt(1))
	}

	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	w, err := wallet.NewWallet(ctx, wallet.NewMemKeyStore(), ds)
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

	pool, err := New(ctx, net, v, w, ds)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Close()
	})

	return &poolEnv{
		net:     net,
		w:       w,
		builder: payment.NewBuilder(w),
		v:       v,
		pool:    pool,
		ds:      ds,
		owner:   owner,
		other:   other,
		genesis: genesis,
	}
}

func (e *poolEnv) transfer(t *testing.T, amount uint64) *types.SignedSpend {
	t.Helper()
	ss, err := e.builder.BuildTransfer(context.Background(), e.owner, e.other, types.NewInt(amount))
	require.NoError(t, err)
	return ss
}

func (e *poolEnv) setPutErr(err error) {
	for _, id := range testNodes {
		e.net.Node(id).PutErr = err
	}
}

func forceDue(p *Pool) {
	p.lk.Lock()
	defer p.lk.Unlock()
	for _, ps := range p.pending {
		ps.nextAt = time.Time{}
	}
}

func TestPushConfirms(t *testing.T) {
	ctx := context.Background()
	e := newPoolEnv(t)

	ss := e.transfer(t, 40)
	require.True(t, e.w.Balance(e.owner).IsZero()) // change still pending

	tx, err := e.pool.Push(ctx, ss)
	require.NoError(t, err)
	require.Equal(t, ss.Cid(), tx)

	// the mock network serves puts back immediately, so the spend
	// settles within Push
	require.Empty(t, e.pool.Pending())
	require.NoError(t, e.pool.WaitConfirmed(ctx, tx))
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(60)))

	keys, err := ss.Spend.SpendKeys()
	require.NoError(t, err)
	keys = append(keys, tx)
	for _, key := range keys {
		require.Len(t, e.net.Holders(key), len(testNodes))
	}
}

func TestPushRejectsDoubleSpend(t *testing.T) {
	ctx := context.Background()
	e := newPoolEnv(t)

	ss := e.transfer(t, 40)

	// a conflicting spend of the same output already circulates
	sp := types.Spend{
		Owner:     ss.Spend.Owner,
		Inputs:    ss.Spend.Inputs,
		ParentTxs: ss.Spend.ParentTxs,
		Fee:       types.NewInt(0),
		Outputs:   []types.Output{{Owner: e.other, Amount: ss.Spend.InputSum()}},
	}
	sig, err := e.w.Sign(ctx, sp.Owner, sp.SigningBytes())
	require.NoError(t, err)
	evil := &types.SignedSpend{Spend: sp, Signature: *sig}

	data, err := evil.Serialize()
	require.NoError(t, err)
	evilKeys, err := evil.Spend.SpendKeys()
	require.NoError(t, err)
	for _, key := range evilKeys {
		e.net.SeedAll(&types.Record{Key: key, Type: types.RecordSpend, Value: data})
	}

	_, err = e.pool.Push(ctx, ss)
	require.Error(t, err)

	var dse *audit.DoubleSpendError
	require.ErrorAs(t, err, &dse)
	require.Equal(t, ss.Spend.Inputs[0].Ref, dse.Ref)

	// the rejected spend is not tracked and its inputs stay burned
	require.Empty(t, e.pool.Pending())
	require.True(t, e.w.Balance(e.owner).IsZero())
}

func TestStallAndRetry(t *testing.T) {
	ctx := context.Background()
	e := newPoolEnv(t)

	e.setPutErr(xerrors.New("node refusing writes"))
	e.pool.maxAttempts = 2

	ss := e.transfer(t, 40)
	tx, err := e.pool.Push(ctx, ss)
	require.NoError(t, err)
	require.Len(t, e.pool.Pending(), 1)
	require.Empty(t, e.pool.Stalled())

	forceDue(e.pool)
	e.pool.resendPending(ctx)

	require.ErrorIs(t, e.pool.WaitConfirmed(ctx, tx), ErrPaymentStalled)
	require.Equal(t, []cid.Cid{tx}, e.pool.Stalled())

	// the spend stays tracked and its inputs stay marked spent
	require.Len(t, e.pool.Pending(), 1)
	require.True(t, e.w.Balance(e.owner).IsZero())

	// the nodes recover; a retry settles the spend
	e.setPutErr(nil)
	require.NoError(t, e.pool.Retry(ctx, tx))

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, e.pool.WaitConfirmed(wctx, tx))
	require.Empty(t, e.pool.Pending())
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(60)))
}

func TestRetryUnknownSpend(t *testing.T) {
	ctx := context.Background()
	e := newPoolEnv(t)

	unknown, err := types.ChunkKey([]byte("never pushed"))
	require.NoError(t, err)
	require.ErrorIs(t, e.pool.Retry(ctx, unknown), ErrUnknownSpend)
}

func TestReloadResumesPending(t *testing.T) {
	ctx := context.Background()
	e := newPoolEnv(t)

	e.setPutErr(xerrors.New("node refusing writes"))
	ss := e.transfer(t, 40)
	tx, err := e.pool.Push(ctx, ss)
	require.NoError(t, err)
	require.Len(t, e.pool.Pending(), 1)
	require.NoError(t, e.pool.Close())

	// a fresh pool over the same datastore picks the spend back up
	e.setPutErr(nil)
	p2, err := New(ctx, e.net, e.v, e.w, e.ds)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p2.Close()
	})

	pending := p2.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, tx, pending[0].Cid())

	p2.resendPending(ctx)
	require.Empty(t, p2.Pending())
	require.True(t, e.w.Balance(e.owner).Equals(types.NewInt(60)))
}
