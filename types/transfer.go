package types

import (
	"encoding/base64"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/lib/cborutil"
)

// Transfer is the out-of-band note a sender hands a recipient after a
// wallet-to-wallet payment: which settled transaction to look up, where
// on the network it is recorded, and which of its outputs belong to the
// recipient. The recipient verifies all of it against the network
// before crediting anything.
type Transfer struct {
	_ struct{} `cbor:",toarray"`

	Tx        cid.Cid
	SpendKeys []cid.Cid
	Outputs   []uint64
}

func (t *Transfer) Serialize() ([]byte, error) {
	return cborutil.Dump(t)
}

// Encode renders the transfer as a compact string safe to paste into a
// terminal or message.
func (t *Transfer) Encode() (string, error) {
	data, err := t.Serialize()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeTransfer(s string) (*Transfer, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("decoding transfer string: %w", err)
	}
	var t Transfer
	if err := cborutil.Decode(data, &t); err != nil {
		return nil, xerrors.Errorf("decoding transfer: %w", err)
	}
	return &t, nil
}
