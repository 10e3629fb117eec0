package types

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/lib/cborutil"
)

// RecordType disambiguates what lives at a record key and which
// validation rules apply on fetch.
type RecordType uint64

const (
	RecordUnknown RecordType = iota

	// RecordChunk is immutable content-addressed data; the key is the
	// hash of the payload, so the payload proves itself.
	RecordChunk

	// RecordSpend is a signed spend stored at the key of the output it
	// consumes. Two different spends at one key are double-spend
	// evidence.
	RecordSpend

	// RecordRegister is an owner-signed mutable entry addressed by the
	// owner key and a name.
	RecordRegister
)

func (rt RecordType) String() string {
	switch rt {
	case RecordChunk:
		return "chunk"
	case RecordSpend:
		return "spend"
	case RecordRegister:
		return "register"
	default:
		return fmt.Sprintf("<unknown record type %d>", uint64(rt))
	}
}

// ChunkKey derives the content address of a chunk payload.
func ChunkKey(content []byte) (cid.Cid, error) {
	pref := cid.NewPrefixV1(cid.Raw, multihash.BLAKE2B_MIN+31)
	c, err := pref.Sum(content)
	if err != nil {
		return cid.Undef, xerrors.Errorf("hashing chunk content: %w", err)
	}
	return c, nil
}

// SpendKey derives the network location of the spend consuming ref. All
// spends of one output land on the same key, which is what makes
// conflicting spends observable.
func SpendKey(ref OutputRef) (cid.Cid, error) {
	data, err := cborutil.Dump(&ref)
	if err != nil {
		return cid.Undef, xerrors.Errorf("encoding output ref: %w", err)
	}
	pref := cid.NewPrefixV1(cid.DagCBOR, multihash.BLAKE2B_MIN+31)
	c, err := pref.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// RegisterKey derives the network location of a register entry from its
// owner key and name.
func RegisterKey(owner OwnerKey, name string) (cid.Cid, error) {
	data, err := cborutil.Dump([]interface{}{owner.Bytes(), name})
	if err != nil {
		return cid.Undef, xerrors.Errorf("encoding register id: %w", err)
	}
	pref := cid.NewPrefixV1(cid.DagCBOR, multihash.BLAKE2B_MIN+31)
	c, err := pref.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	return c, nil
}
