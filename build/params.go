package build

// Core client constants

// /////
// Storage

// ChunkSize is the fixed upper bound on a single chunk's payload.
const ChunkSize uint64 = 1 << 20

// CloseGroupSize is the number of peers asked to hold each record; cost
// queries and puts fan out to this many candidates.
const CloseGroupSize = 5

// MinCopies is the minimum number of confirmed holders for a put to count
// as fully replicated. Fewer confirmed holders is reported as a partial
// (not failed) store.
const MinCopies = 3

// /////
// Payments

// Overpay margin applied on top of the selected store-cost quote, as a
// ratio. Defaults to paying 10% over the highest quote to absorb price
// drift between negotiation and settlement.
const (
	PayMarginNum uint64 = 11
	PayMarginDen uint64 = 10
)

// QuoteTolerancePercent is how far apart quotes may sit before the
// negotiator logs the spread as suspicious. Selection still takes the
// conservative (higher) value.
const QuoteTolerancePercent uint64 = 50

// MaxResendAttempts bounds the rebroadcast of an unconfirmed spend before
// it is surfaced as stalled.
const MaxResendAttempts = 10

// MaxRepayAttempts bounds re-negotiation rounds when a node rejects an
// existing payment as insufficient.
const MaxRepayAttempts = 3

// MaxAncestryDepth bounds the recursive parent-transaction walk during
// spend verification.
const MaxAncestryDepth = 64

// PaymentBatchSize is how many chunk addresses are settled by a single
// spend. Batching amortizes transaction overhead across an upload.
const PaymentBatchSize = 32

// UploadParallelism bounds how many chunks are negotiated or stored at
// once within a batch.
const UploadParallelism = 8

// Seconds between rebroadcast rounds for unconfirmed spends.
const ResendIntervalSecs = 30

// /////
// Network

// RequestTimeout covers a single request/response exchange with one peer.
const RequestTimeoutSecs = 10

// NegotiateTimeout covers the whole quote-collection window for one chunk.
const NegotiateTimeoutSecs = 30

// /////
// Caches

const SigValCacheSize = 32 << 10
const AncestryCacheSize = 4 << 10

// /////
// Events

// ClientEventBuffer is the size of the progress event channel. Delivery is
// best effort: the oldest event is dropped when the consumer lags.
const ClientEventBuffer = 64

// /////
// Tokens

// AsterPrecision is the number of indivisible units per whole token.
const AsterPrecision = 1_000_000_000
