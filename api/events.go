package api

import (
	"time"

	"github.com/ipfs/go-cid"
)

type EventType string

const (
	// EventConnecting fires when the client starts resolving the close
	// group of a key.
	EventConnecting EventType = "connecting"

	// EventQueryingCost fires when store-cost negotiation for a chunk
	// begins.
	EventQueryingCost EventType = "querying-cost"

	// EventPaying fires when a payment spend is broadcast.
	EventPaying EventType = "paying"

	// EventUploading fires when a paid chunk starts going out to its
	// close group.
	EventUploading EventType = "uploading"

	// EventConfirmed fires when a chunk reaches its replication target,
	// or a spend confirms.
	EventConfirmed EventType = "confirmed"

	// EventFailed fires when a chunk or spend is given up on.
	EventFailed EventType = "failed"
)

// ClientEvent is one progress step of a client operation. Fields are
// populated as applicable: Key for record operations, Tx for payments.
type ClientEvent struct {
	Type EventType
	Time time.Time

	Key    cid.Cid
	Tx     cid.Cid
	Copies int
	Err    string
}
