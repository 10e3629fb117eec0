package uploader

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/stats"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/api"
	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/chunker"
	"github.com/aster-network/aster/metrics"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/payment"
	"github.com/aster-network/aster/spendpool"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

var log = logging.Logger("uploader")

// ErrNotEnoughCopies marks a chunk stored on fewer peers than the
// replication target. The chunk is paid for and retrievable; a later
// re-upload raises the copy count without paying again.
var ErrNotEnoughCopies = errors.New("not enough copies stored")

// Uploader drives the store flow: chunk, negotiate, pay in batches,
// then push every paid chunk to its close group with the payment proof
// attached.
type Uploader struct {
	api     network.API
	neg     *payment.Negotiator
	builder *payment.Builder
	pool    *spendpool.Pool
	wallet  *wallet.Wallet

	parallelism int
	batchSize   int
	minCopies   int

	emit func(api.ClientEvent)
}

// New builds an uploader. emit receives progress events and may be nil.
func New(napi network.API, neg *payment.Negotiator, builder *payment.Builder, pool *spendpool.Pool, w *wallet.Wallet, emit func(api.ClientEvent)) *Uploader {
	if emit == nil {
		emit = func(api.ClientEvent) {}
	}
	return &Uploader{
		api:         napi,
		neg:         neg,
		builder:     builder,
		pool:        pool,
		wallet:      w,
		parallelism: build.UploadParallelism,
		batchSize:   build.PaymentBatchSize,
		minCopies:   build.MinCopies,
		emit:        emit,
	}
}

// job tracks one chunk through a batch.
type job struct {
	chunk *types.Chunk
	res   *api.ChunkResult

	peers    []peer.ID
	decision *types.CostDecision
	proof    *types.PaymentProof
}

// uploadState guards the parts of the report written from concurrent
// chunk workers.
type uploadState struct {
	lk  sync.Mutex
	rep *api.UploadReport
}

func (st *uploadState) addSettled(tx cid.Cid, paid types.BigInt) {
	st.lk.Lock()
	defer st.lk.Unlock()
	st.rep.Txs = append(st.rep.Txs, tx)
	st.rep.TotalPaid = types.BigAdd(st.rep.TotalPaid, paid)
}

// Upload chunks r and stores every chunk under owner's payments. The
// returned report lists every chunk in stream order and is non-nil even
// when an error cut the upload short.
func (u *Uploader) Upload(ctx context.Context, owner types.OwnerKey, r io.Reader) (*api.UploadReport, error) {
	defer metrics.Timer(ctx, metrics.UploadDuration)()

	rep := &api.UploadReport{
		ID:        uuid.New(),
		Owner:     owner,
		TotalPaid: types.NewInt(0),
	}
	st := &uploadState{rep: rep}

	stream, err := chunker.Split(r)
	if err != nil {
		return rep, err
	}

	log.Infow("upload started", "id", rep.ID, "owner", owner)

	for {
		batch, berr := nextBatch(stream, u.batchSize)
		if len(batch) > 0 {
			if err := u.uploadBatch(ctx, owner, st, batch); err != nil {
				u.tally(rep)
				return rep, err
			}
		}
		if berr != nil {
			u.tally(rep)
			return rep, berr
		}
		if len(batch) < u.batchSize {
			break
		}
	}

	u.tally(rep)
	log.Infow("upload finished", "id", rep.ID, "chunks", len(rep.Chunks),
		"confirmed", rep.Confirmed, "partial", rep.Partial, "failed", rep.Failed,
		"paid", types.AST(rep.TotalPaid).String())
	return rep, nil
}

// PayForStorage negotiates and settles the store cost of the given
// addresses without uploading anything, for callers that move the bytes
// some other way. Addresses already covered by a stored proof reuse it;
// zero-priced addresses are on the network already and need no payment.
func (u *Uploader) PayForStorage(ctx context.Context, owner types.OwnerKey, keys []cid.Cid) ([]types.PaymentProof, error) {
	out := make([]types.PaymentProof, 0, len(keys))

	for start := 0; start < len(keys); start += u.batchSize {
		end := start + u.batchSize
		if end > len(keys) {
			end = len(keys)
		}
		proofs, err := u.payBatch(ctx, owner, keys[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, proofs...)
	}
	return out, nil
}

func (u *Uploader) payBatch(ctx context.Context, owner types.OwnerKey, keys []cid.Cid) ([]types.PaymentProof, error) {
	var (
		lk        sync.Mutex
		reused    []types.PaymentProof
		decisions []*types.CostDecision
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			proofs, err := u.wallet.PaymentProofs(gctx, key)
			if err != nil {
				return err
			}
			if len(proofs) > 0 {
				lk.Lock()
				reused = append(reused, *proofs[len(proofs)-1])
				lk.Unlock()
				return nil
			}

			peers, err := u.api.GetClosestPeers(gctx, key)
			if err != nil {
				return xerrors.Errorf("finding close group for %s: %w", key, err)
			}

			u.emit(api.ClientEvent{Type: api.EventQueryingCost, Time: build.Clock.Now(), Key: key})
			decision, err := u.neg.Negotiate(gctx, key, peers)
			if err != nil {
				return xerrors.Errorf("negotiating %s: %w", key, err)
			}
			if decision.Price.IsZero() {
				return nil
			}

			lk.Lock()
			decisions = append(decisions, decision)
			lk.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(decisions) == 0 {
		return reused, nil
	}

	ss, proofs, err := u.builder.BuildPayment(ctx, owner, decisions)
	if err != nil {
		return nil, xerrors.Errorf("building payment: %w", err)
	}
	tx := ss.Cid()

	u.emit(api.ClientEvent{Type: api.EventPaying, Time: build.Clock.Now(), Tx: tx})
	if _, err := u.pool.Push(ctx, ss); err != nil {
		return nil, xerrors.Errorf("broadcasting payment: %w", err)
	}
	if err := u.pool.WaitConfirmed(ctx, tx); err != nil {
		return nil, xerrors.Errorf("settling payment: %w", err)
	}
	u.emit(api.ClientEvent{Type: api.EventConfirmed, Time: build.Clock.Now(), Tx: tx})

	return append(reused, proofs...), nil
}

func nextBatch(s *chunker.Stream, n int) ([]*types.Chunk, error) {
	var out []*types.Chunk
	for len(out) < n {
		ch, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func (u *Uploader) uploadBatch(ctx context.Context, owner types.OwnerKey, st *uploadState, chunks []*types.Chunk) error {
	jobs := make([]*job, 0, len(chunks))
	for _, ch := range chunks {
		res := &api.ChunkResult{Key: ch.Key(), Size: uint64(ch.Size())}
		st.rep.Chunks = append(st.rep.Chunks, res)
		jobs = append(jobs, &job{chunk: ch, res: res})
		stats.Record(ctx, metrics.UploadBytes.M(int64(ch.Size())))
	}

	if err := u.negotiateBatch(ctx, jobs); err != nil {
		return err
	}

	if err := u.settleBatch(ctx, owner, st, jobs); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism)
	for _, j := range jobs {
		if j.res.State != 0 {
			continue // already settled one way or the other
		}
		j := j
		g.Go(func() error {
			u.storeChunk(gctx, owner, st, j)
			return gctx.Err()
		})
	}
	return g.Wait()
}

// negotiateBatch resolves each chunk's close group and price. Chunks
// whose negotiation fails are marked failed and do not sink the batch;
// zero-priced chunks are already on the network and need nothing else.
func (u *Uploader) negotiateBatch(ctx context.Context, jobs []*job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			key := j.chunk.Key()

			u.emit(api.ClientEvent{Type: api.EventConnecting, Time: build.Clock.Now(), Key: key})
			peers, err := u.api.GetClosestPeers(gctx, key)
			if err != nil {
				u.failChunk(j, xerrors.Errorf("finding close group: %w", err))
				return gctx.Err()
			}
			j.peers = peers

			// chunks paid for in an earlier run reuse their proof
			proofs, err := u.wallet.PaymentProofs(gctx, key)
			if err != nil {
				u.failChunk(j, err)
				return gctx.Err()
			}
			if len(proofs) > 0 {
				j.proof = proofs[len(proofs)-1]
				log.Debugw("reusing payment proof", "chunk", key, "tx", j.proof.Tx)
				return nil
			}

			u.emit(api.ClientEvent{Type: api.EventQueryingCost, Time: build.Clock.Now(), Key: key})
			decision, err := u.neg.Negotiate(gctx, key, peers)
			if err != nil {
				u.failChunk(j, err)
				return gctx.Err()
			}

			if decision.Price.IsZero() {
				// the network holds this chunk already
				j.res.AlreadyStored = true
				j.res.State = api.ChunkConfirmed
				stats.Record(gctx, metrics.ChunkAlreadyStored.M(1))
				u.emit(api.ClientEvent{Type: api.EventConfirmed, Time: build.Clock.Now(), Key: key})
				return nil
			}
			j.decision = decision
			return nil
		})
	}
	return g.Wait()
}

// settleBatch pays for every chunk that needs payment with a single
// spend and hands each job its proof. Payment failures are fatal to the
// upload: without a settled spend the puts cannot succeed.
func (u *Uploader) settleBatch(ctx context.Context, owner types.OwnerKey, st *uploadState, jobs []*job) error {
	var decisions []*types.CostDecision
	var paying []*job
	for _, j := range jobs {
		if j.decision != nil {
			decisions = append(decisions, j.decision)
			paying = append(paying, j)
		}
	}
	if len(decisions) == 0 {
		return nil
	}

	ss, proofs, err := u.builder.BuildPayment(ctx, owner, decisions)
	if err != nil {
		for _, j := range paying {
			u.failChunk(j, err)
		}
		return xerrors.Errorf("building batch payment: %w", err)
	}
	tx := ss.Cid()

	u.emit(api.ClientEvent{Type: api.EventPaying, Time: build.Clock.Now(), Tx: tx})

	if _, err := u.pool.Push(ctx, ss); err != nil {
		for _, j := range paying {
			u.failChunk(j, err)
		}
		return xerrors.Errorf("broadcasting batch payment: %w", err)
	}
	if err := u.pool.WaitConfirmed(ctx, tx); err != nil {
		for _, j := range paying {
			u.failChunk(j, err)
		}
		return xerrors.Errorf("settling batch payment: %w", err)
	}

	total := types.NewInt(0)
	for _, d := range decisions {
		total = types.BigAdd(total, d.Price)
	}
	st.addSettled(tx, total)
	u.emit(api.ClientEvent{Type: api.EventConfirmed, Time: build.Clock.Now(), Tx: tx})

	byChunk := make(map[cid.Cid]*types.PaymentProof, len(proofs))
	for i := range proofs {
		byChunk[proofs[i].Chunk] = &proofs[i]
	}
	for _, j := range paying {
		proof, ok := byChunk[j.chunk.Key()]
		if !ok {
			u.failChunk(j, xerrors.New("payment settled without a proof for this chunk"))
			continue
		}
		j.proof = proof
	}
	return nil
}

// storeChunk pushes one paid chunk to its close group, topping the
// payment up if peers reject the proof as insufficient.
func (u *Uploader) storeChunk(ctx context.Context, owner types.OwnerKey, st *uploadState, j *job) {
	key := j.chunk.Key()
	rec := j.chunk.Record()

	u.emit(api.ClientEvent{Type: api.EventUploading, Time: build.Clock.Now(), Key: key})

	var copies int
	for attempt := 0; ; attempt++ {
		var insufficient bool
		var rejected error
		copies, insufficient, rejected = u.putToGroup(ctx, j.peers, rec, j.proof)

		if rejected != nil {
			// terminal: the same bytes can never be accepted
			u.failChunk(j, rejected)
			return
		}
		if !insufficient || copies >= u.minCopies || attempt >= build.MaxRepayAttempts {
			break
		}

		// some peers want more than the original payment covers; pay
		// the difference with a fresh single-chunk spend
		log.Warnw("payment deemed insufficient, renegotiating", "chunk", key, "attempt", attempt+1)
		stats.Record(ctx, metrics.ChunkRepay.M(1))
		u.emit(api.ClientEvent{Type: api.EventQueryingCost, Time: build.Clock.Now(), Key: key})

		decision, err := u.neg.Negotiate(ctx, key, j.peers)
		if err != nil {
			u.failChunk(j, xerrors.Errorf("renegotiating: %w", err))
			return
		}
		if decision.Price.IsZero() {
			break
		}

		ss, proofs, err := u.builder.BuildPayment(ctx, owner, []*types.CostDecision{decision})
		if err != nil {
			u.failChunk(j, xerrors.Errorf("building top-up payment: %w", err))
			return
		}
		tx := ss.Cid()
		u.emit(api.ClientEvent{Type: api.EventPaying, Time: build.Clock.Now(), Key: key, Tx: tx})
		if _, err := u.pool.Push(ctx, ss); err != nil {
			u.failChunk(j, xerrors.Errorf("broadcasting top-up payment: %w", err))
			return
		}
		if err := u.pool.WaitConfirmed(ctx, tx); err != nil {
			u.failChunk(j, xerrors.Errorf("settling top-up payment: %w", err))
			return
		}
		st.addSettled(tx, decision.Price)
		j.proof = &proofs[0]
	}

	j.res.Copies = copies
	switch {
	case copies >= u.minCopies:
		j.res.State = api.ChunkConfirmed
		stats.Record(ctx, metrics.ChunkStored.M(1))
		u.emit(api.ClientEvent{Type: api.EventConfirmed, Time: build.Clock.Now(), Key: key, Copies: copies})
	case copies > 0:
		j.res.State = api.ChunkPartial
		j.res.Error = ErrNotEnoughCopies.Error()
		log.Warnw("chunk under-replicated", "chunk", key, "copies", copies, "want", u.minCopies)
		u.emit(api.ClientEvent{Type: api.EventConfirmed, Time: build.Clock.Now(), Key: key, Copies: copies})
	default:
		u.failChunk(j, xerrors.New("no peer accepted the chunk"))
	}
}

// putToGroup offers the record to every peer in the group. A rejection
// is terminal for the chunk; payment complaints are reported for the
// repay loop.
func (u *Uploader) putToGroup(ctx context.Context, peers []peer.ID, rec *types.Record, proof *types.PaymentProof) (int, bool, error) {
	var (
		wg           sync.WaitGroup
		lk           sync.Mutex
		copies       int
		insufficient bool
		rejected     error
	)
	for _, p := range peers {
		wg.Add(1)
		go func(p peer.ID) {
			defer wg.Done()

			err := u.api.PutRecord(ctx, p, rec, proof)

			lk.Lock()
			defer lk.Unlock()

			var rej *network.RejectedError
			switch {
			case err == nil:
				copies++
			case xerrors.Is(err, network.ErrPaymentInsufficient):
				insufficient = true
			case errors.As(err, &rej):
				if rejected == nil {
					rejected = err
				}
			default:
				log.Debugw("chunk put failed", "peer", p, "chunk", rec.Key, "error", err)
			}
		}(p)
	}
	wg.Wait()
	return copies, insufficient, rejected
}

func (u *Uploader) failChunk(j *job, err error) {
	j.res.State = api.ChunkFailed
	j.res.Error = err.Error()
	stats.Record(context.Background(), metrics.ChunkFailure.M(1))
	log.Errorw("chunk failed", "chunk", j.chunk.Key(), "error", err)
	u.emit(api.ClientEvent{Type: api.EventFailed, Time: build.Clock.Now(), Key: j.chunk.Key(), Err: err.Error()})
}

func (u *Uploader) tally(rep *api.UploadReport) {
	rep.Confirmed, rep.Partial, rep.Failed = 0, 0, 0
	for _, c := range rep.Chunks {
		switch c.State {
		case api.ChunkConfirmed:
			rep.Confirmed++
		case api.ChunkPartial:
			rep.Partial++
		default:
			rep.Failed++
		}
	}
}
