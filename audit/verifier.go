package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/lib/sigs"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/types"
)

var log = logging.Logger("audit")

var (
	// ErrNoSpend means no spend is recorded at an address: the output
	// is still unspent.
	ErrNoSpend = errors.New("no spend recorded at address")

	// ErrMissingAncestry means an input's creating transaction could
	// not be retrieved, so the lineage cannot be checked.
	ErrMissingAncestry = errors.New("missing ancestry record")
)

// DoubleSpendError is fatal evidence: another validly signed spend
// consumes one of this spend's inputs. The inputs are burned; retrying
// with them can never succeed.
type DoubleSpendError struct {
	Ref         types.OutputRef
	Conflicting []*types.SignedSpend
}

func (e *DoubleSpendError) Error() string {
	return fmt.Sprintf("output %s:%d is double spent (%d conflicting spends)",
		e.Ref.Tx, e.Ref.Index, len(e.Conflicting))
}

// VerificationResult reports what a spend check covered.
type VerificationResult struct {
	Tx cid.Cid

	// Ancestors is how many lineage transactions were fetched and
	// checked this call.
	Ancestors int

	// Conflicts holds the evidence when verification failed with a
	// DoubleSpendError.
	Conflicts []*types.SignedSpend
}

// Verifier checks spends: signature, balance, lineage back through
// parent transactions, and conflicting spends on the network. Run
// before broadcasting our own spends and on every spend accepted from
// the network.
type Verifier struct {
	api network.API

	trusted map[cid.Cid]struct{}

	maxDepth int

	sigValCache   *lru.TwoQueueCache[string, struct{}]
	ancestryCache *lru.TwoQueueCache[cid.Cid, struct{}]
}

// NewVerifier builds a verifier. Lineage walks terminate at trusted
// roots, transactions whose outputs are distributed out of band.
func NewVerifier(api network.API, trustedRoots []cid.Cid) (*Verifier, error) {
	sigCache, err := lru.New2Q[string, struct{}](build.SigValCacheSize)
	if err != nil {
		return nil, err
	}
	ancCache, err := lru.New2Q[cid.Cid, struct{}](build.AncestryCacheSize)
	if err != nil {
		return nil, err
	}

	trusted := make(map[cid.Cid]struct{}, len(trustedRoots))
	for _, r := range trustedRoots {
		trusted[r] = struct{}{}
	}

	return &Verifier{
		api:           api,
		trusted:       trusted,
		maxDepth:      build.MaxAncestryDepth,
		sigValCache:   sigCache,
		ancestryCache: ancCache,
	}, nil
}

func sigCacheKey(ss *types.SignedSpend) (string, error) {
	switch ss.Signature.Type {
	case types.SigTypeEd25519, types.SigTypeBLS:
		return string(ss.Cid().Bytes()) + string(ss.Signature.Data), nil
	default:
		return "", xerrors.Errorf("unrecognized signature type: %d", ss.Signature.Type)
	}
}

// VerifySig checks the owner signature over the transaction id, with a
// cache in front so re-verified spends are free.
func (v *Verifier) VerifySig(ss *types.SignedSpend) error {
	sck, err := sigCacheKey(ss)
	if err != nil {
		return err
	}

	_, ok := v.sigValCache.Get(sck)
	if ok {
		// already validated, great
		return nil
	}

	if err := sigs.Verify(&ss.Signature, ss.Spend.Owner, ss.Spend.SigningBytes()); err != nil {
		return err
	}

	v.sigValCache.Add(sck, struct{}{})

	return nil
}

// checkSpend performs the local checks: syntax, balance, signature.
func (v *Verifier) checkSpend(ss *types.SignedSpend) error {
	if err := ss.Spend.ValidForBroadcast(); err != nil {
		return xerrors.Errorf("spend %s not valid: %w", ss.Cid(), err)
	}

	if err := v.VerifySig(ss); err != nil {
		return xerrors.Errorf("spend %s signature invalid: %w", ss.Cid(), err)
	}

	return nil
}

// Verify runs the full check on one spend. A nil error means the spend
// is valid and nothing on the network contradicts it. A DoubleSpendError
// means one of its inputs is provably consumed by a different signed
// spend; the result carries the evidence.
func (v *Verifier) Verify(ctx context.Context, ss *types.SignedSpend) (*VerificationResult, error) {
	res := &VerificationResult{Tx: ss.Cid()}

	if err := v.checkSpend(ss); err != nil {
		return res, err
	}

	seen := make(map[cid.Cid]struct{})
	n, err := v.verifyAncestry(ctx, ss, 0, seen)
	res.Ancestors = n
	if err != nil {
		return res, err
	}

	ref, conflicts, err := v.findConflicts(ctx, ss)
	if err != nil {
		return res, err
	}
	if len(conflicts) > 0 {
		res.Conflicts = conflicts
		return res, &DoubleSpendError{Ref: ref, Conflicting: conflicts}
	}

	return res, nil
}

// verifyAncestry walks each input's lineage: the consumed output must
// exist in its creating transaction, match the claimed amount, belong
// to the spender, and that transaction must itself check out. The walk
// is memoized per call and across calls, and bounded by depth; beyond
// the bound lineage is accepted as-is, since conflict detection on the
// direct inputs is the primary defense.
func (v *Verifier) verifyAncestry(ctx context.Context, ss *types.SignedSpend, depth int, seen map[cid.Cid]struct{}) (int, error) {
	count := 0
	for i, in := range ss.Spend.Inputs {
		parentTx := in.Ref.Tx

		if _, ok := v.trusted[parentTx]; ok {
			continue
		}
		if _, ok := seen[parentTx]; ok {
			continue
		}
		if _, ok := v.ancestryCache.Get(parentTx); ok {
			continue
		}
		if depth >= v.maxDepth {
			log.Warnw("ancestry walk bound reached, accepting remaining lineage",
				"tx", ss.Cid(), "depth", depth)
			continue
		}

		parent, err := v.fetchSpendByTx(ctx, parentTx)
		if err != nil {
			return count, xerrors.Errorf("input %d of %s: parent tx %s: %w", i, ss.Cid(), parentTx, err)
		}

		if in.Ref.Index >= uint64(len(parent.Spend.Outputs)) {
			return count, xerrors.Errorf("input %d of %s: parent tx %s has no output %d",
				i, ss.Cid(), parentTx, in.Ref.Index)
		}
		out := parent.Spend.Outputs[in.Ref.Index]
		if !out.Amount.Equals(in.Amount) {
			return count, xerrors.Errorf("input %d of %s: amount %s does not match created output %s",
				i, ss.Cid(), in.Amount, out.Amount)
		}
		if out.Owner != ss.Spend.Owner {
			return count, xerrors.Errorf("input %d of %s: consumed output belongs to %s, spent by %s",
				i, ss.Cid(), out.Owner, ss.Spend.Owner)
		}

		if err := v.checkSpend(parent); err != nil {
			return count, xerrors.Errorf("ancestry of %s: %w", ss.Cid(), err)
		}

		seen[parentTx] = struct{}{}
		count++

		n, err := v.verifyAncestry(ctx, parent, depth+1, seen)
		count += n
		if err != nil {
			return count, err
		}

		v.ancestryCache.Add(parentTx, struct{}{})
	}

	return count, nil
}

// findConflicts queries every input's spend address and returns any
// validly signed spend other than ss consuming that input.
func (v *Verifier) findConflicts(ctx context.Context, ss *types.SignedSpend) (types.OutputRef, []*types.SignedSpend, error) {
	self := ss.Cid()

	for _, in := range ss.Spend.Inputs {
		key, err := types.SpendKey(in.Ref)
		if err != nil {
			return types.OutputRef{}, nil, err
		}

		spends, err := v.fetchSpendsAt(ctx, key)
		if err != nil && !xerrors.Is(err, ErrNoSpend) {
			return types.OutputRef{}, nil, xerrors.Errorf("checking spend address %s: %w", key, err)
		}

		var conflicts []*types.SignedSpend
		for _, sp := range spends {
			if sp.Cid().Equals(self) {
				continue
			}
			if consumesRef(sp, in.Ref) {
				conflicts = append(conflicts, sp)
			}
		}
		if len(conflicts) > 0 {
			return in.Ref, conflicts, nil
		}
	}

	return types.OutputRef{}, nil, nil
}

func consumesRef(ss *types.SignedSpend, ref types.OutputRef) bool {
	for _, in := range ss.Spend.Inputs {
		if in.Ref.Equals(ref) {
			return true
		}
	}
	return false
}

// SpendRecordedAt reports whether key is one of the spend addresses ss
// legitimately lives at: the tx id, or the address of a consumed input.
func SpendRecordedAt(ss *types.SignedSpend, key cid.Cid) bool {
	if ss.Cid().Equals(key) {
		return true
	}
	keys, err := ss.Spend.SpendKeys()
	if err != nil {
		return false
	}
	for _, k := range keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

// fetchSpendsAt collects the distinct validly signed spends the close
// group holds at one spend address. Returns ErrNoSpend when no peer has
// one: the output is unspent as far as the network knows.
func (v *Verifier) fetchSpendsAt(ctx context.Context, key cid.Cid) ([]*types.SignedSpend, error) {
	peers, err := v.api.GetClosestPeers(ctx, key)
	if err != nil {
		return nil, err
	}

	var (
		wg     sync.WaitGroup
		lk     sync.Mutex
		found  []*types.SignedSpend
		have   = make(map[cid.Cid]struct{})
		misses int
	)

	for _, p := range peers {
		wg.Add(1)
		go func(p peer.ID) {
			defer wg.Done()

			rec, err := v.api.GetRecord(ctx, p, key)

			lk.Lock()
			defer lk.Unlock()

			if err != nil {
				if xerrors.Is(err, network.ErrNotFound) {
					misses++
				} else {
					log.Debugw("spend query failed", "peer", p, "key", key, "error", err)
				}
				return
			}

			sp, err := decodeSpendRecord(rec, key)
			if err != nil {
				log.Warnw("peer served bad spend record", "peer", p, "key", key, "error", err)
				return
			}
			if err := v.checkSpend(sp); err != nil {
				log.Warnw("peer served invalid spend", "peer", p, "key", key, "error", err)
				return
			}
			if !SpendRecordedAt(sp, key) {
				log.Warnw("peer served spend that does not belong at address", "peer", p, "key", key)
				return
			}

			if _, ok := have[sp.Cid()]; !ok {
				have[sp.Cid()] = struct{}{}
				found = append(found, sp)
			}
		}(p)
	}
	wg.Wait()

	if len(found) == 0 {
		// only claim the output is unspent if at least one peer
		// positively answered not-found
		if misses == 0 {
			return nil, xerrors.Errorf("no usable responses for spend address %s", key)
		}
		return nil, xerrors.Errorf("address %s: %w", key, ErrNoSpend)
	}
	return found, nil
}

// fetchSpendByTx retrieves a spend by its transaction id. The record is
// self-certifying: the decoded spend must hash back to the id.
func (v *Verifier) fetchSpendByTx(ctx context.Context, tx cid.Cid) (*types.SignedSpend, error) {
	peers, err := v.api.GetClosestPeers(ctx, tx)
	if err != nil {
		return nil, err
	}

	for _, p := range peers {
		rec, err := v.api.GetRecord(ctx, p, tx)
		if err != nil {
			if !xerrors.Is(err, network.ErrNotFound) {
				log.Debugw("tx query failed", "peer", p, "tx", tx, "error", err)
			}
			continue
		}

		sp, err := decodeSpendRecord(rec, tx)
		if err != nil {
			log.Warnw("peer served bad tx record", "peer", p, "tx", tx, "error", err)
			continue
		}
		if !sp.Cid().Equals(tx) {
			log.Warnw("peer served spend with wrong id", "peer", p, "tx", tx, "got", sp.Cid())
			continue
		}
		return sp, nil
	}

	return nil, xerrors.Errorf("tx %s: %w", tx, ErrMissingAncestry)
}

func decodeSpendRecord(rec *types.Record, key cid.Cid) (*types.SignedSpend, error) {
	if rec.Type != types.RecordSpend {
		return nil, xerrors.Errorf("record at %s has type %s, want %s", key, rec.Type, types.RecordSpend)
	}
	return types.DecodeSignedSpend(rec.Value)
}
