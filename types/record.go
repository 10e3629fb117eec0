package types

import (
	"github.com/ipfs/go-cid"

	"github.com/aster-network/aster/lib/cborutil"
)

// Record is the unit the network stores and serves: a typed value at a
// key. Value holds raw chunk bytes for chunks and the canonical
// encoding of the payload for everything else.
type Record struct {
	_ struct{} `cbor:",toarray"`

	Key   cid.Cid
	Type  RecordType
	Value []byte
}

func (r *Record) Serialize() ([]byte, error) {
	return cborutil.Dump(r)
}

func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := cborutil.Decode(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// QuorumPolicy governs how many matching responses a fetch needs before
// a record is accepted.
type QuorumPolicy int

const (
	// QuorumAll requires every responding node to return byte-identical
	// content. Used for spends, where divergence is evidence.
	QuorumAll QuorumPolicy = iota

	// QuorumMajority accepts the value returned identically by more
	// than half of the responding nodes, with a floor of two.
	QuorumMajority

	// QuorumOne accepts the first response that passes validation.
	// Only safe where the record proves itself, like chunks.
	QuorumOne
)

func (q QuorumPolicy) String() string {
	switch q {
	case QuorumAll:
		return "all"
	case QuorumMajority:
		return "majority"
	case QuorumOne:
		return "one"
	default:
		return "<invalid quorum policy>"
	}
}
