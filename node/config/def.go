package config

import (
	"encoding"
	"time"

	"github.com/aster-network/aster/build"
)

// Common is config shared by every repo kind
type Common struct {
	Libp2p Libp2p
}

// Client is a client node config
type Client struct {
	Common

	Payment Payment
	Trust   Trust
	Metrics Metrics
}

// Libp2p contains configs for libp2p
type Libp2p struct {
	ListenAddresses []string
	BootstrapPeers  []string

	ConnMgrLow   uint
	ConnMgrHigh  uint
	ConnMgrGrace Duration
}

// Payment tunes store-cost negotiation and settlement.
type Payment struct {
	// MarginNum/MarginDen is the multiplicative overpay applied to the
	// selected quote, to absorb price drift between negotiation and
	// settlement. 11/10 pays 10% over the winning quote.
	MarginNum uint64
	MarginDen uint64

	// TolerancePercent is how far the highest quote may sit above the
	// lowest before the spread is logged as suspicious. Selection is
	// unaffected either way.
	TolerancePercent uint64

	// NegotiateTimeout bounds the whole quote-collection window for one
	// record.
	NegotiateTimeout Duration

	// RequestTimeout bounds a single peer request.
	RequestTimeout Duration
}

// Trust pins the payment lineages this client accepts without walking
// further back.
type Trust struct {
	// TrustedRoots are transaction CIDs whose outputs were distributed
	// out of band (network genesis allocations). Lineage verification
	// terminates when it reaches one of these.
	TrustedRoots []string
}

type Metrics struct {
	Nickname string
}

func defCommon() Common {
	return Common{
		Libp2p: Libp2p{
			ListenAddresses: []string{
				"/ip4/0.0.0.0/tcp/0",
				"/ip6/::/tcp/0",
			},

			ConnMgrLow:   150,
			ConnMgrHigh:  180,
			ConnMgrGrace: Duration(20 * time.Second),
		},
	}
}

// DefaultClient returns the default client config
func DefaultClient() *Client {
	return &Client{
		Common: defCommon(),

		Payment: Payment{
			MarginNum:        build.PayMarginNum,
			MarginDen:        build.PayMarginDen,
			TolerancePercent: build.QuoteTolerancePercent,
			NegotiateTimeout: Duration(build.NegotiateTimeoutSecs * time.Second),
			RequestTimeout:   Duration(build.RequestTimeoutSecs * time.Second),
		},
	}
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
