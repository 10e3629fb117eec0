package audit

import (
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
)

// SpendDag is an in-memory graph of spends keyed by spend address. An
// address holding more than one distinct spend is double-spend
// evidence; the dag keeps all of them, it never discards a conflict.
type SpendDag struct {
	lk sync.Mutex

	// spends per address, in insertion order
	spends map[cid.Cid][]*types.SignedSpend

	// byTx indexes the first spend seen for each transaction id
	byTx map[cid.Cid]*types.SignedSpend
}

func NewSpendDag() *SpendDag {
	return &SpendDag{
		spends: make(map[cid.Cid][]*types.SignedSpend),
		byTx:   make(map[cid.Cid]*types.SignedSpend),
	}
}

// Insert records ss at addr, keeping earlier spends at the same
// address.
func (d *SpendDag) Insert(addr cid.Cid, ss *types.SignedSpend) {
	d.lk.Lock()
	defer d.lk.Unlock()
	d.insert(addr, ss)
}

func (d *SpendDag) insert(addr cid.Cid, ss *types.SignedSpend) bool {
	tx := ss.Cid()
	for _, have := range d.spends[addr] {
		if have.Cid().Equals(tx) {
			return false
		}
	}
	d.spends[addr] = append(d.spends[addr], ss)
	if _, ok := d.byTx[tx]; !ok {
		d.byTx[tx] = ss
	}
	return true
}

// CheckAndInsert verifies ss belongs at addr and inserts it. Returns
// whether the spend was new to the dag at that address.
func (d *SpendDag) CheckAndInsert(addr cid.Cid, ss *types.SignedSpend) (bool, error) {
	if !SpendRecordedAt(ss, addr) {
		return false, xerrors.Errorf("spend %s does not belong at address %s", ss.Cid(), addr)
	}

	d.lk.Lock()
	defer d.lk.Unlock()
	return d.insert(addr, ss), nil
}

// SpendsAt returns the spends recorded at one address.
func (d *SpendDag) SpendsAt(addr cid.Cid) []*types.SignedSpend {
	d.lk.Lock()
	defer d.lk.Unlock()

	out := make([]*types.SignedSpend, len(d.spends[addr]))
	copy(out, d.spends[addr])
	return out
}

// Len is the total number of recorded (address, spend) pairs.
func (d *SpendDag) Len() int {
	d.lk.Lock()
	defer d.lk.Unlock()

	n := 0
	for _, sps := range d.spends {
		n += len(sps)
	}
	return n
}

// Txs lists every transaction id in the dag, sorted.
func (d *SpendDag) Txs() []cid.Cid {
	d.lk.Lock()
	defer d.lk.Unlock()

	out := make([]cid.Cid, 0, len(d.byTx))
	for tx := range d.byTx {
		out = append(out, tx)
	}
	sortCids(out)
	return out
}

// UTXOs returns the dag's frontier: spend addresses of outputs created
// by known transactions that no known spend consumes. Crawling from
// these extends the dag.
func (d *SpendDag) UTXOs() ([]cid.Cid, error) {
	d.lk.Lock()
	defer d.lk.Unlock()

	seen := make(map[cid.Cid]struct{})
	var out []cid.Cid
	for tx, ss := range d.byTx {
		for i := range ss.Spend.Outputs {
			key, err := types.SpendKey(types.OutputRef{Tx: tx, Index: uint64(i)})
			if err != nil {
				return nil, err
			}
			if len(d.spends[key]) > 0 {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	sortCids(out)
	return out, nil
}

// Merge folds every spend of other into d.
func (d *SpendDag) Merge(other *SpendDag) {
	other.lk.Lock()
	defer other.lk.Unlock()
	d.lk.Lock()
	defer d.lk.Unlock()

	for addr, sps := range other.spends {
		for _, ss := range sps {
			d.insert(addr, ss)
		}
	}
}

// VerifyDag checks every spend in the dag locally (syntax, balance,
// signature) and reports each double-spent address. It returns the
// recorded faults rather than stopping at the first, the way an auditor
// wants the full picture.
func (v *Verifier) VerifyDag(dag *SpendDag) []error {
	dag.lk.Lock()
	addrs := make([]cid.Cid, 0, len(dag.spends))
	for addr := range dag.spends {
		addrs = append(addrs, addr)
	}
	sortCids(addrs)

	byAddr := make(map[cid.Cid][]*types.SignedSpend, len(addrs))
	for addr, sps := range dag.spends {
		cp := make([]*types.SignedSpend, len(sps))
		copy(cp, sps)
		byAddr[addr] = cp
	}
	dag.lk.Unlock()

	var faults []error
	for _, addr := range addrs {
		sps := byAddr[addr]

		distinct := make(map[cid.Cid]struct{})
		for _, ss := range sps {
			if err := v.checkSpend(ss); err != nil {
				faults = append(faults, xerrors.Errorf("at %s: %w", addr, err))
			}
			distinct[ss.Cid()] = struct{}{}
		}

		// only input addresses can evidence a double spend; a tx id
		// address holds exactly one spend by construction
		if len(distinct) > 1 {
			if ref, ok := refForAddr(sps, addr); ok {
				faults = append(faults, &DoubleSpendError{Ref: ref, Conflicting: sps})
			}
		}
	}
	return faults
}

// refForAddr recovers which output the address stands for by scanning
// the inputs of the spends recorded there.
func refForAddr(sps []*types.SignedSpend, addr cid.Cid) (types.OutputRef, bool) {
	for _, ss := range sps {
		for _, in := range ss.Spend.Inputs {
			key, err := types.SpendKey(in.Ref)
			if err != nil {
				continue
			}
			if key.Equals(addr) {
				return in.Ref, true
			}
		}
	}
	return types.OutputRef{}, false
}

func sortCids(cs []cid.Cid) {
	sort.Slice(cs, func(i, j int) bool {
		return cs[i].KeyString() < cs[j].KeyString()
	})
}
