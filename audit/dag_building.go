package audit

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
)

// BuildDag crawls the spend graph downward from a single address,
// generation by generation, and returns everything reachable. The walk
// is iterative rather than recursive so arbitrarily deep histories
// cannot blow the stack. Individual fetch failures during the crawl are
// logged and skipped; the dag records what the network would give us.
func (v *Verifier) BuildDag(ctx context.Context, root cid.Cid) (*SpendDag, error) {
	dag := NewSpendDag()

	first, err := v.fetchSpendsAt(ctx, root)
	if xerrors.Is(err, ErrNoSpend) {
		// nothing spent here yet, the dag is just the empty frontier
		log.Debugw("dag root is unspent", "address", root)
		return dag, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("fetching dag root %s: %w", root, err)
	}

	known := make(map[cid.Cid]struct{})
	frontier := make(map[cid.Cid]*types.SignedSpend)
	for _, ss := range first {
		dag.Insert(root, ss)
		frontier[ss.Cid()] = ss
	}

	for gen := 0; len(frontier) > 0; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// addresses created by this generation's transactions
		var addrs []cid.Cid
		for tx, ss := range frontier {
			known[tx] = struct{}{}
			for i := range ss.Spend.Outputs {
				key, err := types.SpendKey(types.OutputRef{Tx: tx, Index: uint64(i)})
				if err != nil {
					return nil, xerrors.Errorf("deriving output address of %s: %w", tx, err)
				}
				addrs = append(addrs, key)
			}
		}
		log.Debugw("following spend descendants", "generation", gen, "txs", len(frontier), "addresses", len(addrs))

		next := make(map[cid.Cid]*types.SignedSpend)
		var (
			wg sync.WaitGroup
			lk sync.Mutex
		)
		for _, addr := range addrs {
			wg.Add(1)
			go func(addr cid.Cid) {
				defer wg.Done()

				spends, err := v.fetchSpendsAt(ctx, addr)
				if xerrors.Is(err, ErrNoSpend) {
					return // reached the frontier
				}
				if err != nil {
					log.Warnw("skipping address during dag crawl", "address", addr, "error", err)
					return
				}

				lk.Lock()
				defer lk.Unlock()
				for _, ss := range spends {
					fresh, err := dag.CheckAndInsert(addr, ss)
					if err != nil {
						log.Warnw("discarding misplaced spend", "address", addr, "error", err)
						continue
					}
					if !fresh {
						continue
					}
					tx := ss.Cid()
					if _, ok := known[tx]; !ok {
						next[tx] = ss
					}
				}
			}(addr)
		}
		wg.Wait()

		frontier = next
	}

	log.Infow("built spend dag", "root", root, "spends", dag.Len(), "txs", len(known))
	return dag, nil
}

// ExtendFromUTXOs re-crawls from every address on the dag's frontier
// and merges what it finds, picking up spends that landed after the
// first build. Per-address failures are aggregated, not fatal to the
// rest of the sweep.
func (v *Verifier) ExtendFromUTXOs(ctx context.Context, dag *SpendDag) error {
	utxos, err := dag.UTXOs()
	if err != nil {
		return xerrors.Errorf("listing dag frontier: %w", err)
	}
	if len(utxos) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		lk   sync.Mutex
		merr *multierror.Error
	)
	for _, u := range utxos {
		wg.Add(1)
		go func(u cid.Cid) {
			defer wg.Done()

			sub, err := v.BuildDag(ctx, u)
			lk.Lock()
			defer lk.Unlock()
			if err != nil {
				merr = multierror.Append(merr, xerrors.Errorf("extending from %s: %w", u, err))
				return
			}
			dag.Merge(sub)
		}(u)
	}
	wg.Wait()

	return merr.ErrorOrNil()
}
