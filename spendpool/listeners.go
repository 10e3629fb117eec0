package spendpool

import (
	"github.com/hannahhoward/go-pubsub"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"
)

type txListeners struct {
	ps *pubsub.PubSub
}

type txCompleteEvt struct {
	tx  cid.Cid
	err error
}

type subscriberFn func(txCompleteEvt)

func newTxListeners() txListeners {
	ps := pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		evt, ok := event.(txCompleteEvt)
		if !ok {
			return xerrors.Errorf("wrong type of event")
		}
		sub, ok := subFn.(subscriberFn)
		if !ok {
			return xerrors.Errorf("wrong type of subscriber")
		}
		sub(evt)
		return nil
	})
	return txListeners{ps: ps}
}

// onTxComplete registers a callback for when the spend with the given tx
// id confirms or stalls
func (tl *txListeners) onTxComplete(tx cid.Cid, cb func(error)) pubsub.Unsubscribe {
	var fn subscriberFn = func(evt txCompleteEvt) {
		if tx.Equals(evt.tx) {
			cb(evt.err)
		}
	}
	return tl.ps.Subscribe(fn)
}

// fireTxComplete is called when a tracked spend settles one way or the other
func (tl *txListeners) fireTxComplete(tx cid.Cid, err error) {
	e := tl.ps.Publish(txCompleteEvt{tx: tx, err: err})
	if e != nil {
		// In theory we shouldn't ever get an error here
		log.Errorf("unexpected error publishing tx complete: %s", e)
	}
}
