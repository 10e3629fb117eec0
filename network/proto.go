package network

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/aster-network/aster/types"
)

const (
	CostProtocolID = protocol.ID("/aster/cost/1.0.0")
	PutProtocolID  = protocol.ID("/aster/put/1.0.0")
	GetProtocolID  = protocol.ID("/aster/get/1.0.0")

	// DhtProtocolPrefix namespaces the routing DHT away from other
	// libp2p networks.
	DhtProtocolPrefix = protocol.ID("/aster")
)

// Status is the result code a peer returns for a request.
type Status uint64

const (
	StatusOK Status = iota

	// StatusNotFound: the peer does not hold the requested record.
	StatusNotFound

	// StatusRejected: the record or proof is invalid; retrying the
	// same bytes cannot succeed.
	StatusRejected

	// StatusPaymentInsufficient: the peer wants a larger payment.
	StatusPaymentInsufficient
)

type CostRequest struct {
	_ struct{} `cbor:",toarray"`

	Key cid.Cid
}

type CostResponse struct {
	_ struct{} `cbor:",toarray"`

	Status  Status
	Message string

	// Owner is the key payment for this record must go to.
	Owner     types.OwnerKey
	Price     types.BigInt
	Timestamp time.Time
}

type PutRequest struct {
	_ struct{} `cbor:",toarray"`

	Record types.Record

	// Proof is nil when the record itself is the payment (spends) or
	// needs none (registers).
	Proof *types.PaymentProof
}

type PutResponse struct {
	_ struct{} `cbor:",toarray"`

	Status  Status
	Message string
}

type GetRequest struct {
	_ struct{} `cbor:",toarray"`

	Key cid.Cid
}

type GetResponse struct {
	_ struct{} `cbor:",toarray"`

	Status  Status
	Message string
	Record  *types.Record
}
