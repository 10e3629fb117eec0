package api

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"

	"github.com/aster-network/aster/types"
)

// Client is the surface of an Aster client: uploads, downloads, wallet
// operations, token transfers, and spend auditing. The CLI and any
// embedder drive exactly this interface.
type Client interface {
	// Upload splits the stream into chunks, negotiates and pays the
	// store cost of every chunk not already on the network, and stores
	// the chunks on their close groups. The report lists every chunk in
	// stream order; a non-nil report is returned alongside most errors
	// so callers can see how far the upload got.
	Upload(ctx context.Context, r io.Reader) (*UploadReport, error)

	// NegotiateAndPay settles the store cost of the given addresses
	// without moving any bytes, for callers that push the chunks through
	// another channel. Returns the proofs that unlock the puts.
	NegotiateAndPay(ctx context.Context, keys []cid.Cid) ([]types.PaymentProof, error)

	// Download fetches the given chunks and streams their payloads to w
	// in order. Each chunk is revalidated against its address.
	Download(ctx context.Context, keys []cid.Cid, w io.Writer) error

	// WalletNew generates a fresh key and returns its owner key. The
	// first generated key becomes the wallet default.
	WalletNew(ctx context.Context, typ types.SigType) (types.OwnerKey, error)

	// WalletDefault reports the owner key operations draw funds from.
	WalletDefault(ctx context.Context) (types.OwnerKey, error)

	// WalletList lists every owner key the wallet holds.
	WalletList(ctx context.Context) ([]types.OwnerKey, error)

	// WalletBalance sums the confirmed spendable outputs of owner.
	WalletBalance(ctx context.Context, owner types.OwnerKey) (types.BigInt, error)

	// Send pays amount from the default key to recipient and returns
	// the transfer note the recipient redeems with Receive. The spend
	// is broadcast and confirmed before Send returns.
	Send(ctx context.Context, recipient types.OwnerKey, amount types.BigInt) (*types.Transfer, error)

	// Receive verifies an encoded transfer note against the network and
	// credits the outputs it carries to this wallet. Returns the
	// credited total.
	Receive(ctx context.Context, transfer string) (types.BigInt, error)

	// SpendAudit crawls the spend graph downward from a spend address
	// and reports everything reachable, double spends included.
	SpendAudit(ctx context.Context, root cid.Cid) (*AuditReport, error)

	// SubscribeEvents streams progress events for the operations of
	// this client. Delivery is best effort: slow consumers lose the
	// oldest events, never block an upload.
	SubscribeEvents(ctx context.Context) (<-chan ClientEvent, error)

	Close() error
}
