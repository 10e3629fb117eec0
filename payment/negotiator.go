package payment

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/metrics"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/types"
)

var log = logging.Logger("payment")

// ErrNoQuote means not a single candidate produced a usable quote
// within the negotiation window.
var ErrNoQuote = errors.New("no storage quotes received")

// Negotiator prices the storage of one record by querying its close
// group concurrently and settling on the most conservative answer.
type Negotiator struct {
	api network.API
	cfg *Config
}

func NewNegotiator(api network.API, cfg *Config) (*Negotiator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Negotiator{
		api: api,
		cfg: cfg,
	}, nil
}

// Negotiate queries every candidate for its store cost, collects quotes
// until all have answered or the window closes, and returns the cost
// decision. One usable quote is enough; losing individual peers is
// routine. With zero usable quotes it fails with ErrNoQuote.
func (n *Negotiator) Negotiate(ctx context.Context, key cid.Cid, candidates []peer.ID) (*types.CostDecision, error) {
	defer metrics.Timer(ctx, metrics.NegotiateDuration)()

	if len(candidates) == 0 {
		return nil, xerrors.Errorf("pricing %s: no candidates: %w", key, ErrNoQuote)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.NegotiateTimeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		lk     sync.Mutex
		quotes []*types.Quote
		merr   *multierror.Error
	)

	for _, p := range candidates {
		wg.Add(1)
		go func(p peer.ID) {
			defer wg.Done()

			qctx, qcancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
			defer qcancel()

			q, err := n.api.GetStoreCost(qctx, p, key)

			lk.Lock()
			defer lk.Unlock()
			if err != nil {
				log.Debugw("store cost query failed", "peer", p, "key", key, "error", err)
				stats.Record(ctx, metrics.QuoteFailure.M(1))
				merr = multierror.Append(merr, xerrors.Errorf("peer %s: %w", p, err))
				return
			}
			quotes = append(quotes, q)
		}(p)
	}
	wg.Wait()

	if len(quotes) == 0 {
		return nil, xerrors.Errorf("pricing %s: all %d peers failed (%v): %w",
			key, len(candidates), merr.ErrorOrNil(), ErrNoQuote)
	}

	d := n.decide(key, quotes)
	if !d.Price.IsZero() {
		stats.Record(ctx, metrics.PaymentAmount.M(float64(d.Price.Int64())))
	}
	return d, nil
}

// decide selects the winning quote and applies the overpay margin.
func (n *Negotiator) decide(key cid.Cid, quotes []*types.Quote) *types.CostDecision {
	// highest price first; node id breaks ties so the decision is
	// deterministic for a given quote set
	sort.Slice(quotes, func(i, j int) bool {
		if c := types.BigCmp(quotes[i].Price, quotes[j].Price); c != 0 {
			return c > 0
		}
		return quotes[i].Node < quotes[j].Node
	})

	high := quotes[0]
	low := quotes[len(quotes)-1]

	if n.spreadExceedsTolerance(high.Price, low.Price) {
		log.Warnw("quote spread beyond tolerance, taking the high quote",
			"key", key, "low", low.Price, "high", high.Price,
			"tolerance_pct", n.cfg.TolerancePercent)
	}

	// a zero winning quote means every queried node already holds the
	// record; nothing to pay
	if high.Price.IsZero() {
		log.Debugw("record already paid for", "key", key)
		return &types.CostDecision{
			Key:    key,
			Owner:  high.Owner,
			Price:  types.NewInt(0),
			Margin: types.NewInt(0),
		}
	}

	// round the margin up so we never pay under quote * margin
	num := types.NewInt(n.cfg.MarginNum)
	den := types.NewInt(n.cfg.MarginDen)
	price := types.BigDiv(types.BigAdd(types.BigMul(high.Price, num), types.BigSub(den, types.NewInt(1))), den)

	return &types.CostDecision{
		Key:    key,
		Owner:  high.Owner,
		Price:  price,
		Margin: types.BigSub(price, high.Price),
	}
}

func (n *Negotiator) spreadExceedsTolerance(high, low types.BigInt) bool {
	if high.Equals(low) {
		return false
	}
	// high > low * (100 + tolerance) / 100
	limit := types.BigDiv(types.BigMul(low, types.NewInt(100+n.cfg.TolerancePercent)), types.NewInt(100))
	return high.GreaterThan(limit)
}
