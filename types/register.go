package types

import (
	"github.com/ipfs/go-cid"

	"github.com/aster-network/aster/lib/cborutil"
)

// RegisterEntry is a mutable owner-controlled record: a named value the
// owner may replace by publishing a higher counter. Validity is an
// owner signature over (owner, name, value, counter).
type RegisterEntry struct {
	_ struct{} `cbor:",toarray"`

	Owner     OwnerKey
	Name      string
	Value     []byte
	Counter   uint64
	Signature Signature
}

func (re *RegisterEntry) Key() (cid.Cid, error) {
	return RegisterKey(re.Owner, re.Name)
}

// SigningBytes returns the canonical bytes the owner signs.
func (re *RegisterEntry) SigningBytes() ([]byte, error) {
	return cborutil.Dump([]interface{}{re.Owner.Bytes(), re.Name, re.Value, re.Counter})
}

func (re *RegisterEntry) Serialize() ([]byte, error) {
	return cborutil.Dump(re)
}

func DecodeRegisterEntry(data []byte) (*RegisterEntry, error) {
	var re RegisterEntry
	if err := cborutil.Decode(data, &re); err != nil {
		return nil, err
	}
	return &re, nil
}
