package types

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Quote is one node's offered price to store the record at Key. Quotes
// are collected transiently during negotiation and never persisted.
type Quote struct {
	_ struct{} `cbor:",toarray"`

	Node      peer.ID
	Owner     OwnerKey
	Key       cid.Cid
	Price     BigInt
	Timestamp time.Time
}

// CostDecision is the price actually paid for storing Key: the selected
// quote plus the overpay margin, and the owner key the payment goes to.
type CostDecision struct {
	Key   cid.Cid
	Owner OwnerKey

	// Price is the final amount, margin included.
	Price BigInt

	// Margin is the absolute overpay added on top of the winning quote
	// to absorb price drift between negotiation and settlement.
	Margin BigInt
}
