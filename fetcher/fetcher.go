package fetcher

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/audit"
	"github.com/aster-network/aster/lib/sigs"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/types"
)

var log = logging.Logger("fetcher")

var (
	// ErrRecordNotFound means no peer in the close group holds the
	// record.
	ErrRecordNotFound = errors.New("record not found on network")

	// ErrInconsistentRecord means responding peers disagreed on content
	// under a policy that demands unanimity. For spend addresses this
	// is how a double spend first surfaces.
	ErrInconsistentRecord = errors.New("close group disagrees on record content")

	// ErrNoQuorum means no content variant gathered enough matching
	// responses.
	ErrNoQuorum = errors.New("not enough matching responses")
)

// Fetcher retrieves records from the close group of a key, validating
// every response by record type and enforcing a quorum policy before
// anything reaches the caller.
type Fetcher struct {
	api      network.API
	verifier *audit.Verifier
}

func New(api network.API, verifier *audit.Verifier) *Fetcher {
	return &Fetcher{api: api, verifier: verifier}
}

// DefaultPolicy maps a record type to the policy it should be fetched
// with: chunks prove themselves, spend divergence must surface, and
// everything else settles for a majority.
func DefaultPolicy(rt types.RecordType) types.QuorumPolicy {
	switch rt {
	case types.RecordChunk:
		return types.QuorumOne
	case types.RecordSpend:
		return types.QuorumAll
	default:
		return types.QuorumMajority
	}
}

// Fetch retrieves the record at key under the given quorum policy.
func (f *Fetcher) Fetch(ctx context.Context, key cid.Cid, policy types.QuorumPolicy) (*types.Record, error) {
	peers, err := f.api.GetClosestPeers(ctx, key)
	if err != nil {
		return nil, xerrors.Errorf("finding close group for %s: %w", key, err)
	}
	if len(peers) == 0 {
		return nil, xerrors.Errorf("no peers close to %s", key)
	}

	switch policy {
	case types.QuorumOne:
		return f.fetchFirstValid(ctx, key, peers)
	case types.QuorumAll, types.QuorumMajority:
		return f.fetchMatching(ctx, key, peers, policy)
	default:
		return nil, xerrors.Errorf("unknown quorum policy %d", policy)
	}
}

// FetchChunk retrieves and revalidates one content chunk.
func (f *Fetcher) FetchChunk(ctx context.Context, key cid.Cid) (*types.Chunk, error) {
	rec, err := f.Fetch(ctx, key, types.QuorumOne)
	if err != nil {
		return nil, err
	}
	if rec.Type != types.RecordChunk {
		return nil, xerrors.Errorf("record at %s has type %s, want %s", key, rec.Type, types.RecordChunk)
	}
	return types.NewChunk(rec.Value), nil
}

// fetchFirstValid walks the close group in order and returns the first
// response that passes validation, skipping peers that serve content
// failing its own checks.
func (f *Fetcher) fetchFirstValid(ctx context.Context, key cid.Cid, peers []peer.ID) (*types.Record, error) {
	var (
		merr   *multierror.Error
		misses int
	)
	for _, p := range peers {
		rec, err := f.api.GetRecord(ctx, p, key)
		if err != nil {
			if xerrors.Is(err, network.ErrNotFound) {
				misses++
			} else {
				merr = multierror.Append(merr, xerrors.Errorf("peer %s: %w", p, err))
			}
			continue
		}

		if err := f.validate(rec, key); err != nil {
			log.Warnw("discarding invalid response", "peer", p, "key", key, "error", err)
			merr = multierror.Append(merr, xerrors.Errorf("peer %s: %w", p, err))
			continue
		}
		return rec, nil
	}

	if merr.ErrorOrNil() == nil {
		return nil, xerrors.Errorf("key %s: %w", key, ErrRecordNotFound)
	}
	return nil, xerrors.Errorf("no valid record at %s (%d misses): %w", key, misses, merr)
}

// fetchMatching queries the whole close group and groups validated
// responses by exact content.
func (f *Fetcher) fetchMatching(ctx context.Context, key cid.Cid, peers []peer.ID, policy types.QuorumPolicy) (*types.Record, error) {
	type variant struct {
		rec   *types.Record
		count int
	}

	var (
		wg       sync.WaitGroup
		lk       sync.Mutex
		variants = make(map[string]*variant)
		answered int
		misses   int
	)

	for _, p := range peers {
		wg.Add(1)
		go func(p peer.ID) {
			defer wg.Done()

			rec, err := f.api.GetRecord(ctx, p, key)

			lk.Lock()
			defer lk.Unlock()

			if err != nil {
				if xerrors.Is(err, network.ErrNotFound) {
					misses++
				} else {
					log.Debugw("record query failed", "peer", p, "key", key, "error", err)
				}
				return
			}

			if err := f.validate(rec, key); err != nil {
				log.Warnw("discarding invalid response", "peer", p, "key", key, "error", err)
				return
			}

			answered++
			vk := string(byte(rec.Type)) + string(rec.Value)
			if v, ok := variants[vk]; ok {
				v.count++
			} else {
				variants[vk] = &variant{rec: rec, count: 1}
			}
		}(p)
	}
	wg.Wait()

	if len(variants) == 0 {
		if misses > 0 {
			return nil, xerrors.Errorf("key %s: %w", key, ErrRecordNotFound)
		}
		return nil, xerrors.Errorf("no usable responses for %s", key)
	}

	var best *variant
	for _, v := range variants {
		if best == nil || v.count > best.count {
			best = v
		}
	}

	switch policy {
	case types.QuorumAll:
		if len(variants) > 1 {
			log.Warnw("close group diverges", "key", key, "variants", len(variants), "responses", answered)
			return nil, xerrors.Errorf("key %s (%d variants from %d responses): %w",
				key, len(variants), answered, ErrInconsistentRecord)
		}
		return best.rec, nil

	case types.QuorumMajority:
		need := answered/2 + 1
		if need < 2 {
			need = 2
		}
		if best.count < need {
			return nil, xerrors.Errorf("key %s (best %d of %d, need %d): %w",
				key, best.count, answered, need, ErrNoQuorum)
		}
		return best.rec, nil

	default:
		return nil, xerrors.Errorf("unknown quorum policy %d", policy)
	}
}

// validate checks a response against the key it was requested for.
// Every record type proves itself: chunks hash back to the key, spends
// carry a valid owner signature and belong at the address, registers
// carry a valid owner signature over their content.
func (f *Fetcher) validate(rec *types.Record, key cid.Cid) error {
	if !rec.Key.Equals(key) {
		return xerrors.Errorf("response is keyed %s, want %s", rec.Key, key)
	}

	switch rec.Type {
	case types.RecordChunk:
		ck, err := types.ChunkKey(rec.Value)
		if err != nil {
			return err
		}
		if !ck.Equals(key) {
			return xerrors.New("chunk bytes do not hash to the requested key")
		}
		return nil

	case types.RecordSpend:
		ss, err := types.DecodeSignedSpend(rec.Value)
		if err != nil {
			return xerrors.Errorf("decoding spend: %w", err)
		}
		if err := ss.Spend.ValidForBroadcast(); err != nil {
			return err
		}
		if err := f.verifier.VerifySig(ss); err != nil {
			return err
		}
		if !audit.SpendRecordedAt(ss, key) {
			return xerrors.New("spend does not belong at the requested address")
		}
		return nil

	case types.RecordRegister:
		re, err := types.DecodeRegisterEntry(rec.Value)
		if err != nil {
			return xerrors.Errorf("decoding register entry: %w", err)
		}
		rk, err := re.Key()
		if err != nil {
			return err
		}
		if !rk.Equals(key) {
			return xerrors.New("register entry does not belong at the requested key")
		}
		sb, err := re.SigningBytes()
		if err != nil {
			return err
		}
		if err := sigs.Verify(&re.Signature, re.Owner, sb); err != nil {
			return xerrors.Errorf("register signature: %w", err)
		}
		return nil

	default:
		return xerrors.Errorf("unrecognized record type %d", rec.Type)
	}
}
