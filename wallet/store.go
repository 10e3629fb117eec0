package wallet

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/lib/cborutil"
	"github.com/aster-network/aster/types"
)

// OutputState tracks what the wallet may still do with an output. State
// only ever moves forward: pending to available on confirmation,
// available to spent at signing time. Spent is terminal.
type OutputState uint64

const (
	// OutputPending was created by one of our own spends that has not
	// confirmed yet. Not spendable.
	OutputPending OutputState = iota + 1

	// OutputAvailable is confirmed and spendable.
	OutputAvailable

	// OutputSpent was consumed by a signed spend. Never cleared, even
	// if the spend was cancelled before broadcast.
	OutputSpent
)

func (st OutputState) String() string {
	switch st {
	case OutputPending:
		return "pending"
	case OutputAvailable:
		return "available"
	case OutputSpent:
		return "spent"
	default:
		return fmt.Sprintf("<unknown output state %d>", uint64(st))
	}
}

// UnspentOutput is one output the wallet tracks, together with where it
// came from and whether it can still be spent.
type UnspentOutput struct {
	_ struct{} `cbor:",toarray"`

	Ref    types.OutputRef
	Owner  types.OwnerKey
	Amount types.BigInt
	State  OutputState
}

// Store persists the wallet's output set and payment proofs in a
// datastore namespace. Callers synchronize; the store itself does not
// lock.
type Store struct {
	ds datastore.Batching
}

func NewStore(ds datastore.Batching) *Store {
	ds = namespace.Wrap(ds, datastore.NewKey("/wallet/"))
	return &Store{
		ds: ds,
	}
}

var (
	dsKeyOutputs = datastore.NewKey("/outputs")
	dsKeyProofs  = datastore.NewKey("/proofs")
)

func dskeyForOutput(ref types.OutputRef) datastore.Key {
	return dsKeyOutputs.ChildString(ref.Tx.String()).ChildString(strconv.FormatUint(ref.Index, 10))
}

func dskeyForProof(chunk cid.Cid, tx cid.Cid) datastore.Key {
	return dsKeyProofs.ChildString(chunk.String()).ChildString(tx.String())
}

func (s *Store) putOutput(ctx context.Context, o *UnspentOutput) error {
	b, err := cborutil.Dump(o)
	if err != nil {
		return xerrors.Errorf("encoding output: %w", err)
	}

	return s.ds.Put(ctx, dskeyForOutput(o.Ref), b)
}

func (s *Store) listOutputs(ctx context.Context) ([]*UnspentOutput, error) {
	res, err := s.ds.Query(ctx, dsq.Query{Prefix: dsKeyOutputs.String()})
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck

	var out []*UnspentOutput
	for {
		r, ok := res.NextSync()
		if !ok {
			break
		}
		if r.Error != nil {
			return nil, r.Error
		}

		var o UnspentOutput
		if err := cborutil.Decode(r.Value, &o); err != nil {
			return nil, xerrors.Errorf("failed reading output (%q) from datastore: %w", r.Key, err)
		}
		out = append(out, &o)
	}

	return out, nil
}

func (s *Store) putProof(ctx context.Context, p *types.PaymentProof) error {
	b, err := p.Serialize()
	if err != nil {
		return xerrors.Errorf("encoding payment proof: %w", err)
	}

	return s.ds.Put(ctx, dskeyForProof(p.Chunk, p.Tx), b)
}

func (s *Store) proofsForChunk(ctx context.Context, chunk cid.Cid) ([]*types.PaymentProof, error) {
	res, err := s.ds.Query(ctx, dsq.Query{Prefix: dsKeyProofs.ChildString(chunk.String()).String()})
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck

	var out []*types.PaymentProof
	for {
		r, ok := res.NextSync()
		if !ok {
			break
		}
		if r.Error != nil {
			return nil, r.Error
		}

		p, err := types.DecodePaymentProof(r.Value)
		if err != nil {
			return nil, xerrors.Errorf("failed reading payment proof (%q) from datastore: %w", r.Key, err)
		}
		out = append(out, p)
	}

	return out, nil
}
