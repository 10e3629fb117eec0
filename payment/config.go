package payment

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/aster-network/aster/build"
)

// Config tunes pricing behavior. Zero values are not defaults; start
// from DefaultConfig.
type Config struct {
	// MarginNum/MarginDen is the multiplicative overpay applied to the
	// selected quote, to absorb price drift between negotiation and
	// settlement.
	MarginNum uint64
	MarginDen uint64

	// TolerancePercent is how far the highest quote may sit above the
	// lowest before the spread is logged as suspicious. Selection is
	// unaffected; the conservative high value wins either way.
	TolerancePercent uint64

	// NegotiateTimeout bounds the whole quote-collection window for
	// one record.
	NegotiateTimeout time.Duration

	// RequestTimeout bounds a single peer's quote query.
	RequestTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		MarginNum:        build.PayMarginNum,
		MarginDen:        build.PayMarginDen,
		TolerancePercent: build.QuoteTolerancePercent,
		NegotiateTimeout: build.NegotiateTimeoutSecs * time.Second,
		RequestTimeout:   build.RequestTimeoutSecs * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.MarginNum == 0 || c.MarginDen == 0 {
		return xerrors.New("pay margin must be positive")
	}
	if c.MarginNum < c.MarginDen {
		return xerrors.New("pay margin cannot be below 1")
	}
	if c.NegotiateTimeout <= 0 || c.RequestTimeout <= 0 {
		return xerrors.New("negotiation timeouts must be positive")
	}
	return nil
}
