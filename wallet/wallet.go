package wallet

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	_ "github.com/aster-network/aster/lib/sigs/bls"
	_ "github.com/aster-network/aster/lib/sigs/ed25519"

	"github.com/aster-network/aster/lib/sigs"
	"github.com/aster-network/aster/types"
)

var log = logging.Logger("wallet")

const (
	KNamePrefix  = "wallet-"
	KTrashPrefix = "trash-"
	KDefault     = "default"
)

var (
	// ErrInsufficientFunds means no combination of available outputs
	// covers the requested amount.
	ErrInsufficientFunds = errors.New("not enough available funds")

	// ErrSigning wraps any failure to produce a spend signature.
	ErrSigning = errors.New("signing failed")
)

// Wallet holds signing keys and the client's view of its unspent
// outputs. Output selection and state changes happen under one short
// mutex; network calls never happen while it is held.
type Wallet struct {
	keys     map[types.OwnerKey]*Key
	keystore types.KeyStore

	store   *Store
	outputs map[types.OutputRef]*UnspentOutput

	lk sync.Mutex
}

func NewWallet(ctx context.Context, keystore types.KeyStore, ds datastore.Batching) (*Wallet, error) {
	w := &Wallet{
		keys:     make(map[types.OwnerKey]*Key),
		keystore: keystore,
		store:    NewStore(ds),
		outputs:  make(map[types.OutputRef]*UnspentOutput),
	}

	outs, err := w.store.listOutputs(ctx)
	if err != nil {
		return nil, xerrors.Errorf("loading wallet outputs: %w", err)
	}
	for _, o := range outs {
		w.outputs[o.Ref] = o
	}

	return w, nil
}

// Sign signs msg with the key behind owner. Failures wrap ErrSigning.
func (w *Wallet) Sign(ctx context.Context, owner types.OwnerKey, msg []byte) (*types.Signature, error) {
	k, err := w.findKey(owner)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, xerrors.Errorf("%w: no key for owner %s", ErrSigning, owner)
	}

	sig, err := sigs.Sign(SchemeSigType(k.Type), k.PrivateKey, msg)
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

func (w *Wallet) findKey(owner types.OwnerKey) (*Key, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	k, ok := w.keys[owner]
	if ok {
		return k, nil
	}
	if w.keystore == nil {
		log.Warn("findKey didn't find the key in in-memory wallet")
		return nil, nil
	}

	ki, err := w.keystore.Get(KNamePrefix + owner.String())
	if err != nil {
		if xerrors.Is(err, types.ErrKeyInfoNotFound) {
			return nil, nil
		}
		return nil, xerrors.Errorf("getting from keystore: %w", err)
	}
	k, err = NewKey(ki)
	if err != nil {
		return nil, xerrors.Errorf("decoding from keystore: %w", err)
	}
	w.keys[k.Owner] = k
	return k, nil
}

func (w *Wallet) Export(owner types.OwnerKey) (*types.KeyInfo, error) {
	k, err := w.findKey(owner)
	if err != nil {
		return nil, xerrors.Errorf("failed to find key to export: %w", err)
	}
	if k == nil {
		return nil, types.ErrKeyInfoNotFound
	}

	return &k.KeyInfo, nil
}

func (w *Wallet) Import(ki *types.KeyInfo) (types.OwnerKey, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	k, err := NewKey(*ki)
	if err != nil {
		return types.UndefOwnerKey, xerrors.Errorf("failed to make key: %w", err)
	}

	if err := w.keystore.Put(KNamePrefix+k.Owner.String(), k.KeyInfo); err != nil {
		return types.UndefOwnerKey, xerrors.Errorf("saving to keystore: %w", err)
	}

	return k.Owner, nil
}

func (w *Wallet) ListOwners() ([]types.OwnerKey, error) {
	all, err := w.keystore.List()
	if err != nil {
		return nil, xerrors.Errorf("listing keystore: %w", err)
	}

	sort.Strings(all)

	out := make([]types.OwnerKey, 0, len(all))
	for _, a := range all {
		if strings.HasPrefix(a, KNamePrefix) {
			name := strings.TrimPrefix(a, KNamePrefix)
			owner, err := types.ParseOwnerKey(name)
			if err != nil {
				return nil, xerrors.Errorf("converting name to owner key: %w", err)
			}
			out = append(out, owner)
		}
	}

	return out, nil
}

func (w *Wallet) GetDefault() (types.OwnerKey, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	ki, err := w.keystore.Get(KDefault)
	if err != nil {
		return types.UndefOwnerKey, xerrors.Errorf("failed to get default key: %w", err)
	}

	k, err := NewKey(ki)
	if err != nil {
		return types.UndefOwnerKey, xerrors.Errorf("failed to read default key from keystore: %w", err)
	}

	return k.Owner, nil
}

func (w *Wallet) SetDefault(owner types.OwnerKey) error {
	w.lk.Lock()
	defer w.lk.Unlock()

	ki, err := w.keystore.Get(KNamePrefix + owner.String())
	if err != nil {
		return err
	}

	if err := w.keystore.Delete(KDefault); err != nil {
		if !xerrors.Is(err, types.ErrKeyInfoNotFound) {
			log.Warnf("failed to unregister current default key: %s", err)
		}
	}

	if err := w.keystore.Put(KDefault, ki); err != nil {
		return err
	}

	return nil
}

func (w *Wallet) GenerateKey(typ types.SigType) (types.OwnerKey, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	k, err := GenerateKey(typ)
	if err != nil {
		return types.UndefOwnerKey, err
	}

	if err := w.keystore.Put(KNamePrefix+k.Owner.String(), k.KeyInfo); err != nil {
		return types.UndefOwnerKey, xerrors.Errorf("saving to keystore: %w", err)
	}
	w.keys[k.Owner] = k

	_, err = w.keystore.Get(KDefault)
	if err != nil {
		if !xerrors.Is(err, types.ErrKeyInfoNotFound) {
			return types.UndefOwnerKey, err
		}

		if err := w.keystore.Put(KDefault, k.KeyInfo); err != nil {
			return types.UndefOwnerKey, xerrors.Errorf("failed to set new key as default: %w", err)
		}
	}

	return k.Owner, nil
}

func (w *Wallet) HasKey(owner types.OwnerKey) (bool, error) {
	k, err := w.findKey(owner)
	if err != nil {
		return false, err
	}
	return k != nil, nil
}

func (w *Wallet) DeleteKey(owner types.OwnerKey) error {
	k, err := w.findKey(owner)
	if err != nil {
		return xerrors.Errorf("failed to delete key %s: %w", owner, err)
	}
	if k == nil {
		return xerrors.Errorf("deleting key %s: %w", owner, types.ErrKeyInfoNotFound)
	}

	if err := w.keystore.Put(KTrashPrefix+k.Owner.String(), k.KeyInfo); err != nil {
		return xerrors.Errorf("failed to mark key %s as trashed: %w", owner, err)
	}

	if err := w.keystore.Delete(KNamePrefix + k.Owner.String()); err != nil {
		return xerrors.Errorf("failed to delete key %s: %w", owner, err)
	}

	return nil
}

// Balance sums the confirmed spendable outputs held for owner.
func (w *Wallet) Balance(owner types.OwnerKey) types.BigInt {
	w.lk.Lock()
	defer w.lk.Unlock()

	bal := types.NewInt(0)
	for _, o := range w.outputs {
		if o.State == OutputAvailable && o.Owner == owner {
			bal = types.BigAdd(bal, o.Amount)
		}
	}
	return bal
}

// SelectOutputs picks available outputs owned by owner that together
// cover amount, marks them spent, and returns them with their total.
// Marking happens before the selection is returned and is never rolled
// back: if the caller's operation is cancelled or fails afterwards the
// outputs stay marked, because by then a signed spend of them may
// already exist.
func (w *Wallet) SelectOutputs(ctx context.Context, owner types.OwnerKey, amount types.BigInt) ([]*UnspentOutput, types.BigInt, error) {
	if amount.Nil() || amount.Sign() <= 0 {
		return nil, types.EmptyInt, xerrors.Errorf("invalid selection amount: %v", amount)
	}

	w.lk.Lock()
	defer w.lk.Unlock()

	var avail []*UnspentOutput
	for _, o := range w.outputs {
		if o.State == OutputAvailable && o.Owner == owner {
			avail = append(avail, o)
		}
	}

	// largest first keeps input counts small; the ref tie-break keeps
	// selection deterministic
	sort.Slice(avail, func(i, j int) bool {
		if c := types.BigCmp(avail[i].Amount, avail[j].Amount); c != 0 {
			return c > 0
		}
		if !avail[i].Ref.Tx.Equals(avail[j].Ref.Tx) {
			return avail[i].Ref.Tx.KeyString() < avail[j].Ref.Tx.KeyString()
		}
		return avail[i].Ref.Index < avail[j].Ref.Index
	})

	total := types.NewInt(0)
	var picked []*UnspentOutput
	for _, o := range avail {
		picked = append(picked, o)
		total = types.BigAdd(total, o.Amount)
		if types.BigCmp(total, amount) >= 0 {
			break
		}
	}

	if types.BigCmp(total, amount) < 0 {
		return nil, types.EmptyInt, xerrors.Errorf("need %s, have %s available: %w",
			types.AST(amount), types.AST(total), ErrInsufficientFunds)
	}

	out := make([]*UnspentOutput, 0, len(picked))
	for _, o := range picked {
		o.State = OutputSpent
		if err := w.store.putOutput(ctx, o); err != nil {
			return nil, types.EmptyInt, xerrors.Errorf("persisting spent mark: %w", err)
		}
		cp := *o
		out = append(out, &cp)
	}

	log.Debugw("selected outputs", "owner", owner, "need", types.AST(amount).String(),
		"inputs", len(out), "total", types.AST(total).String())

	return out, total, nil
}

// ImportOutput credits a confirmed output. The caller must have
// verified the creating spend on the network; the wallet only checks
// that it holds the owner's key. Importing a ref the wallet already
// tracks is a no-op, so an already-spent output cannot be resurrected.
func (w *Wallet) ImportOutput(ctx context.Context, ref types.OutputRef, owner types.OwnerKey, amount types.BigInt) error {
	if amount.Nil() || amount.Sign() <= 0 {
		return xerrors.Errorf("invalid output amount: %v", amount)
	}

	has, err := w.HasKey(owner)
	if err != nil {
		return err
	}
	if !has {
		return xerrors.Errorf("cannot import output for %s: key not in wallet", owner)
	}

	w.lk.Lock()
	defer w.lk.Unlock()

	if o, ok := w.outputs[ref]; ok {
		log.Debugw("output already tracked", "ref", ref.Tx, "index", ref.Index, "state", o.State)
		return nil
	}

	o := &UnspentOutput{
		Ref:    ref,
		Owner:  owner,
		Amount: amount,
		State:  OutputAvailable,
	}
	if err := w.store.putOutput(ctx, o); err != nil {
		return xerrors.Errorf("persisting imported output: %w", err)
	}
	w.outputs[ref] = o

	return nil
}

// AddPending records the outputs of our own just-signed spend that pay
// back to keys this wallet holds. They become spendable only when the
// spend confirms.
func (w *Wallet) AddPending(ctx context.Context, ss *types.SignedSpend) error {
	tx := ss.Cid()

	ours := make(map[uint64]types.Output)
	for i, out := range ss.Spend.Outputs {
		k, err := w.findKey(out.Owner)
		if err != nil {
			return err
		}
		if k == nil {
			continue
		}
		ours[uint64(i)] = out
	}

	w.lk.Lock()
	defer w.lk.Unlock()

	for idx, out := range ours {
		ref := types.OutputRef{Tx: tx, Index: idx}
		if _, ok := w.outputs[ref]; ok {
			continue
		}
		o := &UnspentOutput{
			Ref:    ref,
			Owner:  out.Owner,
			Amount: out.Amount,
			State:  OutputPending,
		}
		if err := w.store.putOutput(ctx, o); err != nil {
			return xerrors.Errorf("persisting pending output: %w", err)
		}
		w.outputs[ref] = o
	}

	return nil
}

// ConfirmTx flips tx's pending outputs to available.
func (w *Wallet) ConfirmTx(ctx context.Context, tx cid.Cid) error {
	w.lk.Lock()
	defer w.lk.Unlock()

	for _, o := range w.outputs {
		if o.Ref.Tx.Equals(tx) && o.State == OutputPending {
			o.State = OutputAvailable
			if err := w.store.putOutput(ctx, o); err != nil {
				return xerrors.Errorf("persisting confirmed output: %w", err)
			}
		}
	}
	return nil
}

// ListOutputs returns copies of every output tracked for owner, in all
// states.
func (w *Wallet) ListOutputs(owner types.OwnerKey) []*UnspentOutput {
	w.lk.Lock()
	defer w.lk.Unlock()

	var out []*UnspentOutput
	for _, o := range w.outputs {
		if o.Owner == owner {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Ref.Tx.Equals(out[j].Ref.Tx) {
			return out[i].Ref.Tx.KeyString() < out[j].Ref.Tx.KeyString()
		}
		return out[i].Ref.Index < out[j].Ref.Index
	})
	return out
}

// PutProofs stores payment proofs, keyed by the chunk they paid for.
func (w *Wallet) PutProofs(ctx context.Context, proofs []types.PaymentProof) error {
	w.lk.Lock()
	defer w.lk.Unlock()

	for i := range proofs {
		if err := w.store.putProof(ctx, &proofs[i]); err != nil {
			return xerrors.Errorf("persisting payment proof: %w", err)
		}
	}
	return nil
}

// PaymentProofs returns the stored proofs for a chunk, if any. A chunk
// with a proof has already been paid for and can be re-uploaded without
// a new payment.
func (w *Wallet) PaymentProofs(ctx context.Context, chunk cid.Cid) ([]*types.PaymentProof, error) {
	return w.store.proofsForChunk(ctx, chunk)
}
