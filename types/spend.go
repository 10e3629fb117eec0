package types

import (
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/lib/cborutil"
)

// OutputRef names one output of a prior transaction. An output may be
// consumed by at most one valid spend; a second signed spend referencing
// the same ref is a double spend.
type OutputRef struct {
	_ struct{} `cbor:",toarray"`

	Tx    cid.Cid
	Index uint64
}

func (r OutputRef) Equals(o OutputRef) bool {
	return r.Tx.Equals(o.Tx) && r.Index == o.Index
}

type Input struct {
	_ struct{} `cbor:",toarray"`

	Ref    OutputRef
	Amount BigInt
}

type Output struct {
	_ struct{} `cbor:",toarray"`

	Owner  OwnerKey
	Amount BigInt
}

// Spend is a single transaction: it consumes prior unspent outputs and
// produces new ones. Reason optionally binds the spend to the content
// it pays for (see PaymentReason); empty for plain transfers.
type Spend struct {
	_ struct{} `cbor:",toarray"`

	Owner   OwnerKey
	Inputs  []Input
	Outputs []Output
	Fee     BigInt
	Reason  []byte

	// ParentTxs records, input by input, the transaction that created
	// each consumed output. Kept explicit so lineage can be audited
	// without re-fetching the inputs.
	ParentTxs []cid.Cid
}

func (s *Spend) Serialize() ([]byte, error) {
	return cborutil.Dump(s)
}

// Cid is the transaction id: the hash of the canonical encoding.
func (s *Spend) Cid() cid.Cid {
	data, err := s.Serialize()
	if err != nil {
		panic(err)
	}

	pref := cid.NewPrefixV1(cid.DagCBOR, multihash.BLAKE2B_MIN+31)
	c, err := pref.Sum(data)
	if err != nil {
		panic(err)
	}
	return c
}

// SigningBytes returns what the owner signs: the transaction id bytes.
func (s *Spend) SigningBytes() []byte {
	return s.Cid().Bytes()
}

func (s *Spend) InputSum() BigInt {
	sum := NewInt(0)
	for _, in := range s.Inputs {
		sum = BigAdd(sum, in.Amount)
	}
	return sum
}

func (s *Spend) OutputSum() BigInt {
	sum := NewInt(0)
	for _, out := range s.Outputs {
		sum = BigAdd(sum, out.Amount)
	}
	return sum
}

// SpendKeys returns the network keys this spend must be recorded at,
// one per consumed input.
func (s *Spend) SpendKeys() ([]cid.Cid, error) {
	keys := make([]cid.Cid, 0, len(s.Inputs))
	for _, in := range s.Inputs {
		k, err := SpendKey(in.Ref)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ValidForBroadcast performs the syntactic checks every spend must pass
// before it is signed or accepted: non-empty inputs and outputs, defined
// amounts, full parent lineage, and the balance invariant
// sum(inputs) == sum(outputs) + fee.
func (s *Spend) ValidForBroadcast() error {
	if s.Owner.Empty() {
		return xerrors.New("spend has no owner key")
	}
	if len(s.Inputs) == 0 {
		return xerrors.New("spend has no inputs")
	}
	if len(s.Outputs) == 0 {
		return xerrors.New("spend has no outputs")
	}
	if len(s.ParentTxs) != len(s.Inputs) {
		return xerrors.Errorf("spend has %d parent txs for %d inputs", len(s.ParentTxs), len(s.Inputs))
	}

	for i, in := range s.Inputs {
		if !in.Ref.Tx.Defined() {
			return xerrors.Errorf("input %d has undefined parent tx", i)
		}
		if !in.Ref.Tx.Equals(s.ParentTxs[i]) {
			return xerrors.Errorf("input %d parent tx does not match recorded lineage", i)
		}
		if in.Amount.Nil() || in.Amount.Sign() < 0 {
			return xerrors.Errorf("input %d has invalid amount", i)
		}
	}
	for i, out := range s.Outputs {
		if out.Owner.Empty() {
			return xerrors.Errorf("output %d has no owner", i)
		}
		if out.Amount.Nil() || out.Amount.Sign() < 0 {
			return xerrors.Errorf("output %d has invalid amount", i)
		}
	}

	fee := s.Fee
	if fee.Nil() {
		fee = NewInt(0)
	}
	if BigCmp(s.InputSum(), BigAdd(s.OutputSum(), fee)) != 0 {
		return xerrors.Errorf("spend does not balance: inputs %s != outputs %s + fee %s",
			s.InputSum(), s.OutputSum(), fee)
	}

	return nil
}

// SignedSpend carries a spend and its owner's signature over the
// transaction id.
type SignedSpend struct {
	_ struct{} `cbor:",toarray"`

	Spend     Spend
	Signature Signature
}

func (ss *SignedSpend) Cid() cid.Cid {
	return ss.Spend.Cid()
}

func (ss *SignedSpend) Serialize() ([]byte, error) {
	return cborutil.Dump(ss)
}

func DecodeSignedSpend(data []byte) (*SignedSpend, error) {
	var ss SignedSpend
	if err := cborutil.Decode(data, &ss); err != nil {
		return nil, err
	}
	return &ss, nil
}

// PaymentReason derives the reason hash binding a spend to the set of
// record keys it pays for. Key order does not matter.
func PaymentReason(keys []cid.Cid) ([]byte, error) {
	sorted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		sorted = append(sorted, k.Bytes())
	}
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i]) < string(sorted[j])
	})

	data, err := cborutil.Dump(sorted)
	if err != nil {
		return nil, xerrors.Errorf("encoding payment reason: %w", err)
	}
	mh, err := multihash.Sum(data, multihash.BLAKE2B_MIN+31, -1)
	if err != nil {
		return nil, err
	}
	return mh, nil
}
