package payment

import (
	"context"
	"sort"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
	"github.com/aster-network/aster/wallet"
)

// Builder turns a batch of cost decisions into one signed spend plus
// the per-chunk payment proofs. One spend pays many chunks; batching
// amortizes the fixed cost of building, signing, and broadcasting.
type Builder struct {
	wallet *wallet.Wallet
}

func NewBuilder(w *wallet.Wallet) *Builder {
	return &Builder{
		wallet: w,
	}
}

// BuildPayment selects outputs from owner's funds to cover the summed
// decisions, builds and signs the spend, and persists proofs and
// pending change before returning. Selected outputs are marked spent at
// signing time and never unmarked, even if the surrounding operation is
// cancelled: once a signed spend of them exists, reusing them risks a
// double spend.
//
// Failure modes the caller must distinguish: wallet.ErrInsufficientFunds
// when no output combination covers the total (nothing gets marked),
// and wallet.ErrSigning when the key cannot sign (inputs stay marked).
func (b *Builder) BuildPayment(ctx context.Context, owner types.OwnerKey, decisions []*types.CostDecision) (*types.SignedSpend, []types.PaymentProof, error) {
	if len(decisions) == 0 {
		return nil, nil, xerrors.New("no cost decisions to pay")
	}

	totals := make(map[types.OwnerKey]types.BigInt)
	keys := make([]cid.Cid, 0, len(decisions))
	total := types.NewInt(0)
	for _, d := range decisions {
		if d.Price.Nil() || d.Price.Sign() <= 0 {
			return nil, nil, xerrors.Errorf("decision for %s has no payable price", d.Key)
		}
		if d.Owner.Empty() {
			return nil, nil, xerrors.Errorf("decision for %s has no payee", d.Key)
		}
		keys = append(keys, d.Key)
		total = types.BigAdd(total, d.Price)

		cur, ok := totals[d.Owner]
		if !ok {
			cur = types.NewInt(0)
		}
		totals[d.Owner] = types.BigAdd(cur, d.Price)
	}

	reason, err := types.PaymentReason(keys)
	if err != nil {
		return nil, nil, err
	}

	selected, covered, err := b.wallet.SelectOutputs(ctx, owner, total)
	if err != nil {
		return nil, nil, xerrors.Errorf("funding payment of %s: %w", types.AST(total), err)
	}

	spend := types.Spend{
		Owner:  owner,
		Fee:    types.NewInt(0),
		Reason: reason,
	}
	for _, o := range selected {
		spend.Inputs = append(spend.Inputs, types.Input{Ref: o.Ref, Amount: o.Amount})
		spend.ParentTxs = append(spend.ParentTxs, o.Ref.Tx)
	}

	// deterministic output order: payees sorted, change last
	payees := make([]types.OwnerKey, 0, len(totals))
	for payee := range totals {
		payees = append(payees, payee)
	}
	sort.Slice(payees, func(i, j int) bool {
		return payees[i].String() < payees[j].String()
	})
	for _, payee := range payees {
		spend.Outputs = append(spend.Outputs, types.Output{Owner: payee, Amount: totals[payee]})
	}

	if change := types.BigSub(covered, total); change.Sign() > 0 {
		spend.Outputs = append(spend.Outputs, types.Output{Owner: owner, Amount: change})
	}

	if err := spend.ValidForBroadcast(); err != nil {
		return nil, nil, xerrors.Errorf("built unbroadcastable spend: %w", err)
	}

	sig, err := b.wallet.Sign(ctx, owner, spend.SigningBytes())
	if err != nil {
		return nil, nil, err
	}
	ss := &types.SignedSpend{Spend: spend, Signature: *sig}

	spendKeys, err := ss.Spend.SpendKeys()
	if err != nil {
		return nil, nil, err
	}

	proofs := make([]types.PaymentProof, 0, len(decisions))
	for _, d := range decisions {
		proofs = append(proofs, types.PaymentProof{
			Chunk:     d.Key,
			Tx:        ss.Cid(),
			SpendKeys: spendKeys,
			Reason:    reason,
		})
	}

	if err := b.wallet.AddPending(ctx, ss); err != nil {
		return nil, nil, xerrors.Errorf("recording pending change: %w", err)
	}
	if err := b.wallet.PutProofs(ctx, proofs); err != nil {
		return nil, nil, xerrors.Errorf("recording payment proofs: %w", err)
	}

	log.Infow("built payment", "tx", ss.Cid(), "chunks", len(decisions),
		"inputs", len(spend.Inputs), "outputs", len(spend.Outputs),
		"total", types.AST(total).String())

	return ss, proofs, nil
}

// BuildTransfer makes a plain wallet-to-wallet spend of amount to
// recipient, change back to owner. Same marking rules as BuildPayment.
func (b *Builder) BuildTransfer(ctx context.Context, owner, recipient types.OwnerKey, amount types.BigInt) (*types.SignedSpend, error) {
	if amount.Nil() || amount.Sign() <= 0 {
		return nil, xerrors.Errorf("invalid transfer amount: %v", amount)
	}
	if recipient.Empty() {
		return nil, xerrors.New("transfer has no recipient")
	}

	selected, covered, err := b.wallet.SelectOutputs(ctx, owner, amount)
	if err != nil {
		return nil, xerrors.Errorf("funding transfer of %s: %w", types.AST(amount), err)
	}

	spend := types.Spend{
		Owner: owner,
		Fee:   types.NewInt(0),
		Outputs: []types.Output{
			{Owner: recipient, Amount: amount},
		},
	}
	for _, o := range selected {
		spend.Inputs = append(spend.Inputs, types.Input{Ref: o.Ref, Amount: o.Amount})
		spend.ParentTxs = append(spend.ParentTxs, o.Ref.Tx)
	}
	if change := types.BigSub(covered, amount); change.Sign() > 0 {
		spend.Outputs = append(spend.Outputs, types.Output{Owner: owner, Amount: change})
	}

	if err := spend.ValidForBroadcast(); err != nil {
		return nil, xerrors.Errorf("built unbroadcastable spend: %w", err)
	}

	sig, err := b.wallet.Sign(ctx, owner, spend.SigningBytes())
	if err != nil {
		return nil, err
	}
	ss := &types.SignedSpend{Spend: spend, Signature: *sig}

	if err := b.wallet.AddPending(ctx, ss); err != nil {
		return nil, xerrors.Errorf("recording pending change: %w", err)
	}

	log.Infow("built transfer", "tx", ss.Cid(), "to", recipient,
		"amount", types.AST(amount).String(), "inputs", len(spend.Inputs))

	return ss, nil
}
