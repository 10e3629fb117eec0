package types

import (
	"github.com/ipfs/go-cid"

	"github.com/aster-network/aster/lib/cborutil"
)

// PaymentProof binds a settled spend to one chunk it paid for. It is
// created once per paid chunk and never mutated; storage nodes receive
// it alongside the chunk as evidence of payment.
type PaymentProof struct {
	_ struct{} `cbor:",toarray"`

	// Chunk is the address the payment covers.
	Chunk cid.Cid

	// Tx is the id of the settled spend.
	Tx cid.Cid

	// SpendKeys are the network locations the spend is recorded at, so
	// a node can look the payment up without knowing its inputs.
	SpendKeys []cid.Cid

	// Reason is the spend's reason hash; it must cover Chunk.
	Reason []byte
}

func (p *PaymentProof) Serialize() ([]byte, error) {
	return cborutil.Dump(p)
}

func DecodePaymentProof(data []byte) (*PaymentProof, error) {
	var pp PaymentProof
	if err := cborutil.Decode(data, &pp); err != nil {
		return nil, err
	}
	return &pp, nil
}
