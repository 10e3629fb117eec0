package spendpool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/audit"
	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/metrics"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

var log = logging.Logger("spendpool")

var (
	// ErrPaymentStalled means a spend could not be confirmed within the
	// resend budget. The spend stays tracked and its inputs stay marked
	// spent; Retry queues another round.
	ErrPaymentStalled = errors.New("payment stalled, spend unconfirmed after max resend attempts")

	// ErrUnknownSpend means the pool is not tracking the given tx.
	ErrUnknownSpend = errors.New("spend not tracked by pool")
)

var dsKeyPrefix = datastore.NewKey("/spendpool/")

type pendingSpend struct {
	ss *types.SignedSpend

	attempts int
	backoff  *backoff.Backoff
	nextAt   time.Time

	// stalled entries are skipped by the resend loop until Retry
	stalled bool
}

// Pool broadcasts signed spends and rebroadcasts them until the close
// group of every affected address serves them back. Pending spends
// survive restarts; confirmation flips the wallet's change outputs to
// spendable.
type Pool struct {
	api      network.API
	verifier *audit.Verifier
	wallet   *wallet.Wallet

	lk      sync.Mutex
	pending map[cid.Cid]*pendingSpend

	localSpends datastore.Datastore

	listeners txListeners

	maxAttempts int

	closer        chan struct{}
	closeOnce     sync.Once
	resendTk      *clock.Ticker
	resendTrigger chan struct{}
}

// New builds the pool and resumes rebroadcasting any spends persisted by
// an earlier run.
func New(ctx context.Context, api network.API, verifier *audit.Verifier, w *wallet.Wallet, ds datastore.Batching) (*Pool, error) {
	p := &Pool{
		api:           api,
		verifier:      verifier,
		wallet:        w,
		pending:       make(map[cid.Cid]*pendingSpend),
		localSpends:   namespace.Wrap(ds, dsKeyPrefix),
		listeners:     newTxListeners(),
		maxAttempts:   build.MaxResendAttempts,
		closer:        make(chan struct{}),
		resendTk:      build.Clock.Ticker(build.ResendIntervalSecs * time.Second),
		resendTrigger: make(chan struct{}, 1),
	}

	if err := p.loadLocal(ctx); err != nil {
		return nil, xerrors.Errorf("loading persisted spends: %w", err)
	}

	go p.runLoop()

	return p, nil
}

func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.closer)
	})
	return nil
}

func (p *Pool) runLoop() {
	for {
		select {
		case <-p.resendTk.C:
			p.resendPending(context.TODO())
		case <-p.resendTrigger:
			p.resendPending(context.TODO())
		case <-p.closer:
			p.resendTk.Stop()
			return
		}
	}
}

func (p *Pool) loadLocal(ctx context.Context) error {
	res, err := p.localSpends.Query(ctx, dsq.Query{})
	if err != nil {
		return err
	}
	defer res.Close() //nolint:errcheck

	for {
		r, ok := res.NextSync()
		if !ok {
			break
		}
		if r.Error != nil {
			return r.Error
		}

		ss, err := types.DecodeSignedSpend(r.Value)
		if err != nil {
			log.Errorw("dropping undecodable persisted spend", "key", r.Key, "error", err)
			continue
		}
		p.pending[ss.Cid()] = &pendingSpend{ss: ss, backoff: newBackoff()}
		log.Infow("resuming unconfirmed spend", "tx", ss.Cid())
	}
	return nil
}

func newBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    time.Second,
		Max:    build.ResendIntervalSecs * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

func keyForTx(tx cid.Cid) datastore.Key {
	return datastore.NewKey(string(tx.Bytes()))
}

// Push verifies a signed spend against the network, persists it, and
// broadcasts it to the close group of every affected address. A non-nil
// error means the spend was not accepted into the pool; in particular a
// *audit.DoubleSpendError means its inputs are already burned. Once Push
// returns nil the resend loop owns the spend until it confirms or
// stalls.
func (p *Pool) Push(ctx context.Context, ss *types.SignedSpend) (cid.Cid, error) {
	defer metrics.Timer(ctx, metrics.SpendPushDuration)()

	tx := ss.Cid()

	if _, err := p.verifier.Verify(ctx, ss); err != nil {
		return cid.Undef, xerrors.Errorf("spend %s failed pre-broadcast verification: %w", tx, err)
	}

	data, err := ss.Serialize()
	if err != nil {
		return cid.Undef, err
	}
	if err := p.localSpends.Put(ctx, keyForTx(tx), data); err != nil {
		return cid.Undef, xerrors.Errorf("persisting spend: %w", err)
	}

	ps := &pendingSpend{ss: ss, backoff: newBackoff()}

	p.lk.Lock()
	if _, ok := p.pending[tx]; ok {
		p.lk.Unlock()
		return tx, nil
	}
	p.pending[tx] = ps
	pending := len(p.pending)
	p.lk.Unlock()

	stats.Record(ctx, metrics.PendingSpends.M(int64(pending)))
	log.Infow("pushed spend", "tx", tx, "inputs", len(ss.Spend.Inputs))

	p.sendRound(ctx, ps)
	return tx, nil
}

// sendRound broadcasts one pending spend and settles it if the network
// already serves it back; otherwise it schedules the next attempt, or
// stalls the spend when the budget is used up.
func (p *Pool) sendRound(ctx context.Context, ps *pendingSpend) {
	tx := ps.ss.Cid()

	stats.Record(ctx, metrics.SpendBroadcast.M(1))
	if err := p.broadcast(ctx, ps.ss); err != nil {
		log.Warnw("broadcast incomplete", "tx", tx, "error", err)
	}

	ok, err := p.confirmedOnNetwork(ctx, ps.ss)
	if err != nil {
		log.Warnw("confirmation check failed", "tx", tx, "error", err)
	}
	if ok {
		p.complete(ctx, tx)
		return
	}

	p.lk.Lock()
	ps.attempts++
	ps.nextAt = build.Clock.Now().Add(ps.backoff.Duration())
	stalled := ps.attempts >= p.maxAttempts
	if stalled {
		ps.stalled = true
	}
	attempts := ps.attempts
	p.lk.Unlock()

	if stalled {
		stats.Record(ctx, metrics.SpendStalled.M(1))
		log.Errorw("spend stalled, keeping inputs marked spent", "tx", tx, "attempts", attempts)
		p.listeners.fireTxComplete(tx, xerrors.Errorf("tx %s: %w", tx, ErrPaymentStalled))
	}
}

// broadcast puts the spend record at each consumed input's spend address
// and at the tx id itself, fanning out to the close group of each key.
// It fails only if some key was accepted by no peer at all.
func (p *Pool) broadcast(ctx context.Context, ss *types.SignedSpend) error {
	data, err := ss.Serialize()
	if err != nil {
		return err
	}
	keys, err := ss.Spend.SpendKeys()
	if err != nil {
		return err
	}
	keys = append(keys, ss.Cid())

	for _, key := range keys {
		peers, err := p.api.GetClosestPeers(ctx, key)
		if err != nil {
			return xerrors.Errorf("finding close group for %s: %w", key, err)
		}

		rec := &types.Record{Key: key, Type: types.RecordSpend, Value: data}

		var (
			wg       sync.WaitGroup
			lk       sync.Mutex
			accepted int
		)
		for _, pr := range peers {
			wg.Add(1)
			go func(pr peer.ID) {
				defer wg.Done()

				if err := p.api.PutRecord(ctx, pr, rec, nil); err != nil {
					log.Debugw("spend put refused", "peer", pr, "key", key, "error", err)
					return
				}
				lk.Lock()
				accepted++
				lk.Unlock()
			}(pr)
		}
		wg.Wait()

		if accepted == 0 {
			return xerrors.Errorf("no peer accepted spend record at %s", key)
		}
	}
	return nil
}

// confirmedOnNetwork reports whether every affected address serves our
// spend back.
func (p *Pool) confirmedOnNetwork(ctx context.Context, ss *types.SignedSpend) (bool, error) {
	tx := ss.Cid()
	keys, err := ss.Spend.SpendKeys()
	if err != nil {
		return false, err
	}
	keys = append(keys, tx)

	for _, key := range keys {
		peers, err := p.api.GetClosestPeers(ctx, key)
		if err != nil {
			return false, err
		}

		served := false
		for _, pr := range peers {
			rec, err := p.api.GetRecord(ctx, pr, key)
			if err != nil {
				continue
			}
			if rec.Type != types.RecordSpend {
				continue
			}
			sp, err := types.DecodeSignedSpend(rec.Value)
			if err != nil {
				continue
			}
			if sp.Cid().Equals(tx) {
				served = true
				break
			}
		}
		if !served {
			return false, nil
		}
	}
	return true, nil
}

// complete settles a confirmed spend: the wallet's change becomes
// spendable, the entry is dropped, and waiters are woken.
func (p *Pool) complete(ctx context.Context, tx cid.Cid) {
	if err := p.wallet.ConfirmTx(ctx, tx); err != nil {
		log.Errorw("confirming wallet outputs", "tx", tx, "error", err)
	}

	p.lk.Lock()
	delete(p.pending, tx)
	pending := len(p.pending)
	p.lk.Unlock()

	if err := p.localSpends.Delete(ctx, keyForTx(tx)); err != nil {
		log.Warnw("dropping persisted spend", "tx", tx, "error", err)
	}

	stats.Record(ctx, metrics.SpendConfirmed.M(1), metrics.PendingSpends.M(int64(pending)))
	log.Infow("spend confirmed", "tx", tx)
	p.listeners.fireTxComplete(tx, nil)
}

func (p *Pool) resendPending(ctx context.Context) {
	now := build.Clock.Now()

	p.lk.Lock()
	var due []*pendingSpend
	for _, ps := range p.pending {
		if ps.stalled || now.Before(ps.nextAt) {
			continue
		}
		due = append(due, ps)
	}
	p.lk.Unlock()

	for _, ps := range due {
		stats.Record(ctx, metrics.SpendResend.M(1))
		p.sendRound(ctx, ps)
	}
}

// WaitConfirmed blocks until tx confirms, stalls, or ctx expires. A tx
// the pool is not tracking is treated as already settled.
func (p *Pool) WaitConfirmed(ctx context.Context, tx cid.Cid) error {
	done := make(chan error, 1)
	unsub := p.listeners.onTxComplete(tx, func(err error) {
		select {
		case done <- err:
		default:
		}
	})
	defer unsub()

	p.lk.Lock()
	ps, ok := p.pending[tx]
	if !ok {
		p.lk.Unlock()
		return nil
	}
	if ps.stalled {
		p.lk.Unlock()
		return xerrors.Errorf("tx %s: %w", tx, ErrPaymentStalled)
	}
	p.lk.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closer:
		return xerrors.New("spend pool closed")
	}
}

// Retry clears the stall on a tracked spend and queues an immediate
// rebroadcast round.
func (p *Pool) Retry(ctx context.Context, tx cid.Cid) error {
	p.lk.Lock()
	ps, ok := p.pending[tx]
	if !ok {
		p.lk.Unlock()
		return xerrors.Errorf("tx %s: %w", tx, ErrUnknownSpend)
	}
	ps.stalled = false
	ps.attempts = 0
	ps.backoff.Reset()
	ps.nextAt = time.Time{}
	p.lk.Unlock()

	log.Infow("retrying stalled spend", "tx", tx)

	select {
	case p.resendTrigger <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the spends still awaiting confirmation, stalled ones
// included.
func (p *Pool) Pending() []*types.SignedSpend {
	p.lk.Lock()
	defer p.lk.Unlock()

	out := make([]*types.SignedSpend, 0, len(p.pending))
	for _, ps := range p.pending {
		out = append(out, ps.ss)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cid().KeyString() < out[j].Cid().KeyString()
	})
	return out
}

// Stalled lists the txs that exhausted their resend budget.
func (p *Pool) Stalled() []cid.Cid {
	p.lk.Lock()
	defer p.lk.Unlock()

	var out []cid.Cid
	for tx, ps := range p.pending {
		if ps.stalled {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].KeyString() < out[j].KeyString()
	})
	return out
}
