package api

import (
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/aster-network/aster/types"
)

type ChunkState int

const (
	// ChunkConfirmed means the chunk reached its replication target.
	ChunkConfirmed ChunkState = iota + 1

	// ChunkPartial means the chunk is stored, but on fewer peers than
	// the replication target. Paid for and retrievable; re-uploading
	// later raises the copy count without paying again.
	ChunkPartial

	// ChunkFailed means the chunk could not be stored.
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkConfirmed:
		return "confirmed"
	case ChunkPartial:
		return "partial"
	case ChunkFailed:
		return "failed"
	default:
		return "<invalid chunk state>"
	}
}

// ChunkResult is the outcome for one chunk of an upload.
type ChunkResult struct {
	Key   cid.Cid
	Size  uint64
	State ChunkState

	// Copies is how many close-group peers confirmed holding the chunk.
	Copies int

	// AlreadyStored marks chunks the network quoted a zero price for;
	// nothing was paid or uploaded.
	AlreadyStored bool

	Error string
}

// UploadReport summarizes one upload end to end.
type UploadReport struct {
	ID    uuid.UUID
	Owner types.OwnerKey

	// Chunks in stream order.
	Chunks []*ChunkResult

	// Txs are the payment spends settled for this upload.
	Txs []cid.Cid

	TotalPaid types.BigInt

	Confirmed int
	Partial   int
	Failed    int
}

// Complete reports whether every chunk reached its replication target.
func (r *UploadReport) Complete() bool {
	return r.Failed == 0 && r.Partial == 0
}

// AuditReport is the outcome of a spend graph crawl.
type AuditReport struct {
	// Root is the spend address the crawl started from.
	Root cid.Cid

	// Spends is the number of (address, spend) pairs found.
	Spends int

	// Txs are the distinct transactions reached.
	Txs []cid.Cid

	// UTXOs is the crawl frontier: created outputs with no recorded
	// spend.
	UTXOs []cid.Cid

	// Faults describe every verification failure and double spend
	// found.
	Faults []string
}
