package client

import (
	"context"
	"io"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/api"
	"github.com/aster-network/aster/audit"
	"github.com/aster-network/aster/fetcher"
	"github.com/aster-network/aster/network"
	"github.com/aster-network/aster/payment"
	"github.com/aster-network/aster/spendpool"
	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/uploader"
	"github.com/aster-network/aster/wallet"
)

var log = logging.Logger("client")

// Client wires the whole pipeline together: chunking and uploads,
// quorum fetches, the wallet, payment negotiation, and the spend pool.
type Client struct {
	napi     network.API
	w        *wallet.Wallet
	verifier *audit.Verifier
	pool     *spendpool.Pool
	fetch    *fetcher.Fetcher
	up       *uploader.Uploader

	events *eventHub
}

var _ api.Client = (*Client)(nil)

// Option customizes client assembly.
type Option func(*settings)

type settings struct {
	payCfg *payment.Config
}

// WithPaymentConfig overrides the default negotiation policy.
func WithPaymentConfig(cfg *payment.Config) Option {
	return func(s *settings) {
		s.payCfg = cfg
	}
}

// New assembles a client over the given transport. trustedRoots are the
// transactions lineage walks terminate at; ds persists the wallet and
// unconfirmed spends.
func New(ctx context.Context, napi network.API, w *wallet.Wallet, ds datastore.Batching, trustedRoots []cid.Cid, opts ...Option) (*Client, error) {
	set := settings{payCfg: payment.DefaultConfig()}
	for _, o := range opts {
		o(&set)
	}

	verifier, err := audit.NewVerifier(napi, trustedRoots)
	if err != nil {
		return nil, err
	}

	pool, err := spendpool.New(ctx, napi, verifier, w, ds)
	if err != nil {
		return nil, err
	}

	neg, err := payment.NewNegotiator(napi, set.payCfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		napi:     napi,
		w:        w,
		verifier: verifier,
		pool:     pool,
		fetch:    fetcher.New(napi, verifier),
		events:   newEventHub(),
	}
	c.up = uploader.New(napi, neg, payment.NewBuilder(w), pool, w, c.events.publish)

	return c, nil
}

func (c *Client) Close() error {
	c.events.close()
	return c.pool.Close()
}

func (c *Client) Upload(ctx context.Context, r io.Reader) (*api.UploadReport, error) {
	owner, err := c.w.GetDefault()
	if err != nil {
		return nil, xerrors.Errorf("resolving default key: %w", err)
	}
	return c.up.Upload(ctx, owner, r)
}

// NegotiateAndPay settles the store cost of the given addresses without
// moving any bytes, for callers that push the chunks through another
// channel. Returns the proofs that unlock the puts.
func (c *Client) NegotiateAndPay(ctx context.Context, keys []cid.Cid) ([]types.PaymentProof, error) {
	owner, err := c.w.GetDefault()
	if err != nil {
		return nil, xerrors.Errorf("resolving default key: %w", err)
	}
	return c.up.PayForStorage(ctx, owner, keys)
}

func (c *Client) Download(ctx context.Context, keys []cid.Cid, w io.Writer) error {
	for i, key := range keys {
		c.events.publish(api.ClientEvent{Type: api.EventConnecting, Key: key})

		ch, err := c.fetch.FetchChunk(ctx, key)
		if err != nil {
			c.events.publish(api.ClientEvent{Type: api.EventFailed, Key: key, Err: err.Error()})
			return xerrors.Errorf("fetching chunk %d of %d: %w", i+1, len(keys), err)
		}
		if _, err := w.Write(ch.Data()); err != nil {
			return xerrors.Errorf("writing chunk %d of %d: %w", i+1, len(keys), err)
		}
		c.events.publish(api.ClientEvent{Type: api.EventConfirmed, Key: key})
	}
	return nil
}

func (c *Client) WalletNew(ctx context.Context, typ types.SigType) (types.OwnerKey, error) {
	return c.w.GenerateKey(typ)
}

func (c *Client) WalletDefault(ctx context.Context) (types.OwnerKey, error) {
	return c.w.GetDefault()
}

func (c *Client) WalletList(ctx context.Context) ([]types.OwnerKey, error) {
	return c.w.ListOwners()
}

func (c *Client) WalletBalance(ctx context.Context, owner types.OwnerKey) (types.BigInt, error) {
	return c.w.Balance(owner), nil
}

// Send pays amount to recipient from the default key. The spend is
// broadcast and confirmed before the transfer note is handed back, so
// the recipient can redeem it immediately.
func (c *Client) Send(ctx context.Context, recipient types.OwnerKey, amount types.BigInt) (*types.Transfer, error) {
	owner, err := c.w.GetDefault()
	if err != nil {
		return nil, xerrors.Errorf("resolving default key: %w", err)
	}

	builder := payment.NewBuilder(c.w)
	ss, err := builder.BuildTransfer(ctx, owner, recipient, amount)
	if err != nil {
		return nil, err
	}
	tx := ss.Cid()

	c.events.publish(api.ClientEvent{Type: api.EventPaying, Tx: tx})
	if _, err := c.pool.Push(ctx, ss); err != nil {
		return nil, err
	}
	if err := c.pool.WaitConfirmed(ctx, tx); err != nil {
		return nil, err
	}
	c.events.publish(api.ClientEvent{Type: api.EventConfirmed, Tx: tx})

	keys, err := ss.Spend.SpendKeys()
	if err != nil {
		return nil, err
	}
	var theirs []uint64
	for i, out := range ss.Spend.Outputs {
		if out.Owner == recipient {
			theirs = append(theirs, uint64(i))
		}
	}

	log.Infow("sent transfer", "tx", tx, "to", recipient, "amount", types.AST(amount).String())
	return &types.Transfer{Tx: tx, SpendKeys: keys, Outputs: theirs}, nil
}

// Receive verifies an encoded transfer note against the network and
// credits its outputs. Every claim in the note is checked: the spend is
// fetched from the network, fully verified, and only outputs owned by
// this wallet's keys are credited.
func (c *Client) Receive(ctx context.Context, transfer string) (types.BigInt, error) {
	t, err := types.DecodeTransfer(transfer)
	if err != nil {
		return types.EmptyInt, err
	}
	if len(t.Outputs) == 0 {
		return types.EmptyInt, xerrors.New("transfer names no outputs")
	}

	rec, err := c.fetch.Fetch(ctx, t.Tx, types.QuorumAll)
	if err != nil {
		return types.EmptyInt, xerrors.Errorf("fetching transfer spend: %w", err)
	}
	ss, err := types.DecodeSignedSpend(rec.Value)
	if err != nil {
		return types.EmptyInt, err
	}
	if !ss.Cid().Equals(t.Tx) {
		return types.EmptyInt, xerrors.New("network record does not match the transfer tx")
	}

	if _, err := c.verifier.Verify(ctx, ss); err != nil {
		return types.EmptyInt, xerrors.Errorf("transfer spend invalid: %w", err)
	}

	total := types.NewInt(0)
	for _, idx := range t.Outputs {
		if idx >= uint64(len(ss.Spend.Outputs)) {
			return types.EmptyInt, xerrors.Errorf("transfer names output %d, spend has %d", idx, len(ss.Spend.Outputs))
		}
		out := ss.Spend.Outputs[idx]

		has, err := c.w.HasKey(out.Owner)
		if err != nil {
			return types.EmptyInt, err
		}
		if !has {
			return types.EmptyInt, xerrors.Errorf("output %d pays %s, not a key of this wallet", idx, out.Owner)
		}

		ref := types.OutputRef{Tx: t.Tx, Index: idx}
		if err := c.w.ImportOutput(ctx, ref, out.Owner, out.Amount); err != nil {
			return types.EmptyInt, xerrors.Errorf("crediting output %d: %w", idx, err)
		}
		total = types.BigAdd(total, out.Amount)
	}

	log.Infow("received transfer", "tx", t.Tx, "outputs", len(t.Outputs), "amount", types.AST(total).String())
	return total, nil
}

// SpendAudit crawls the spend graph downward from root and reports
// everything reachable, double spends included.
func (c *Client) SpendAudit(ctx context.Context, root cid.Cid) (*api.AuditReport, error) {
	dag, err := c.verifier.BuildDag(ctx, root)
	if err != nil {
		return nil, err
	}

	utxos, err := dag.UTXOs()
	if err != nil {
		return nil, err
	}

	rep := &api.AuditReport{
		Root:   root,
		Spends: dag.Len(),
		Txs:    dag.Txs(),
		UTXOs:  utxos,
	}
	for _, ferr := range c.verifier.VerifyDag(dag) {
		rep.Faults = append(rep.Faults, ferr.Error())
	}
	sort.Strings(rep.Faults)
	return rep, nil
}

func (c *Client) SubscribeEvents(ctx context.Context) (<-chan api.ClientEvent, error) {
	return c.events.subscribe(ctx)
}
