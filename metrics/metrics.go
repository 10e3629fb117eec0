package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/aster-network/aster/build"
)

// Distributions
var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, // very short intervals for fast operations
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100, // 10 ms intervals up to 100 ms
	150, 200, 250, 300, 350, 400, 450, 500, // 50 ms intervals from 100 to 500 ms
	600, 700, 800, 900, 1000, // 100 ms intervals from 500 to 1000 ms
	2000, 3000, 4000, 5000, 6000, 8000, 10000, 13000, 16000, 20000, 25000, 30000, // network round trips
	40000, 50000, 65000, 80000, 100000, 130_000, 160_000, 200_000, 300_000, 600_000, // retries and stalls
)

// Payment amounts run from single units for tiny chunks up to whole
// tokens for dense data.
var amountDistribution = view.Distribution(
	1, 2, 5, 10, 20, 50, 100, 200, 500,
	1e3, 2e3, 5e3, 10e3, 50e3, 100e3, 500e3,
	1e6, 10e6, 100e6, 1e9,
)

var ancestryDepthDistribution = view.Distribution(0, 1, 2, 3, 5, 8, 12, 16, 24, 32, 48, 64, 96, 128)

// Tags
var (
	Version, _     = tag.NewKey("version")
	Commit, _      = tag.NewKey("commit")
	PeerID, _      = tag.NewKey("peer_id")
	FailureType, _ = tag.NewKey("failure_type")

	// record fetching
	RecordKind, _ = tag.NewKey("record_kind") // chunk / spend / register
	Quorum, _     = tag.NewKey("quorum")      // all / majority / one
)

// Measures
var (
	// common
	Info = stats.Int64("info", "Arbitrary counter to tag aster info to", stats.UnitDimensionless)

	// upload
	UploadDuration     = stats.Float64("upload/duration_ms", "Duration of whole-stream uploads", stats.UnitMilliseconds)
	UploadBytes        = stats.Int64("upload/bytes", "Bytes submitted for upload", stats.UnitBytes)
	ChunkStored        = stats.Int64("upload/chunk_stored", "Counter for chunks stored with enough copies", stats.UnitDimensionless)
	ChunkAlreadyStored = stats.Int64("upload/chunk_already_stored", "Counter for chunks the network already held", stats.UnitDimensionless)
	ChunkFailure       = stats.Int64("upload/chunk_failure", "Counter for chunks that failed to store", stats.UnitDimensionless)
	ChunkRepay         = stats.Int64("upload/chunk_repay", "Counter for chunk payment top-ups", stats.UnitDimensionless)

	// payment
	NegotiateDuration = stats.Float64("payment/negotiate_ms", "Duration of store cost negotiation per chunk", stats.UnitMilliseconds)
	QuoteFailure      = stats.Int64("payment/quote_failure", "Counter for failed store cost queries", stats.UnitDimensionless)
	PaymentAmount     = stats.Float64("payment/amount", "Settled payment per chunk in indivisible units (histogram)", stats.UnitDimensionless)

	// spendpool
	SpendPushDuration = stats.Float64("spendpool/push_ms", "Duration of Push in the spend pool", stats.UnitMilliseconds)
	SpendBroadcast    = stats.Int64("spendpool/broadcast", "Counter for spend broadcast rounds", stats.UnitDimensionless)
	SpendConfirmed    = stats.Int64("spendpool/confirmed", "Counter for spends confirmed network-wide", stats.UnitDimensionless)
	SpendResend       = stats.Int64("spendpool/resend", "Counter for spend re-broadcasts", stats.UnitDimensionless)
	SpendStalled      = stats.Int64("spendpool/stalled", "Counter for spends that exhausted their resend budget", stats.UnitDimensionless)
	PendingSpends     = stats.Int64("spendpool/pending", "Number of unconfirmed spends in the pool", stats.UnitDimensionless)

	// fetch
	FetchDuration = stats.Float64("fetch/duration_ms", "Duration of quorum record fetches", stats.UnitMilliseconds)
	FetchFailure  = stats.Int64("fetch/failure", "Counter for failed record fetches", stats.UnitDimensionless)

	// audit
	VerifyDuration      = stats.Float64("audit/verify_ms", "Duration of full spend verification", stats.UnitMilliseconds)
	AncestryDepth       = stats.Int64("audit/ancestry_depth", "Verified lineage depth per spend (histogram)", stats.UnitDimensionless)
	DoubleSpendDetected = stats.Int64("audit/double_spend", "Counter for double spend evidence found", stats.UnitDimensionless)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "Aster client information",
		Measure:     Info,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit},
	}
	UploadDurationView = &view.View{
		Measure:     UploadDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	UploadBytesView = &view.View{
		Measure:     UploadBytes,
		Aggregation: view.Sum(),
	}
	ChunkStoredView = &view.View{
		Measure:     ChunkStored,
		Aggregation: view.Count(),
	}
	ChunkAlreadyStoredView = &view.View{
		Measure:     ChunkAlreadyStored,
		Aggregation: view.Count(),
	}
	ChunkFailureView = &view.View{
		Measure:     ChunkFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{FailureType},
	}
	ChunkRepayView = &view.View{
		Measure:     ChunkRepay,
		Aggregation: view.Count(),
	}
	NegotiateDurationView = &view.View{
		Measure:     NegotiateDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	QuoteFailureView = &view.View{
		Measure:     QuoteFailure,
		Aggregation: view.Count(),
	}
	PaymentAmountView = &view.View{
		Measure:     PaymentAmount,
		Aggregation: amountDistribution,
	}
	SpendPushDurationView = &view.View{
		Measure:     SpendPushDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	SpendBroadcastView = &view.View{
		Measure:     SpendBroadcast,
		Aggregation: view.Count(),
	}
	SpendConfirmedView = &view.View{
		Measure:     SpendConfirmed,
		Aggregation: view.Count(),
	}
	SpendResendView = &view.View{
		Measure:     SpendResend,
		Aggregation: view.Count(),
	}
	SpendStalledView = &view.View{
		Measure:     SpendStalled,
		Aggregation: view.Count(),
	}
	PendingSpendsView = &view.View{
		Measure:     PendingSpends,
		Aggregation: view.LastValue(),
	}
	FetchDurationView = &view.View{
		Measure:     FetchDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{RecordKind, Quorum},
	}
	FetchFailureView = &view.View{
		Measure:     FetchFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{FailureType},
	}
	VerifyDurationView = &view.View{
		Measure:     VerifyDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	AncestryDepthView = &view.View{
		Measure:     AncestryDepth,
		Aggregation: ancestryDepthDistribution,
	}
	DoubleSpendDetectedView = &view.View{
		Measure:     DoubleSpendDetected,
		Aggregation: view.Count(),
	}
)

var views = []*view.View{
	InfoView,
	UploadDurationView,
	UploadBytesView,
	ChunkStoredView,
	ChunkAlreadyStoredView,
	ChunkFailureView,
	ChunkRepayView,
	NegotiateDurationView,
	QuoteFailureView,
	PaymentAmountView,
	SpendPushDurationView,
	SpendBroadcastView,
	SpendConfirmedView,
	SpendResendView,
	SpendStalledView,
	PendingSpendsView,
	FetchDurationView,
	FetchFailureView,
	VerifyDurationView,
	AncestryDepthView,
	DoubleSpendDetectedView,
}

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = func() []*view.View {
	return views
}()

// RegisterViews adds views to the default list without modifying this file.
func RegisterViews(v ...*view.View) {
	views = append(views, v...)
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Milliseconds())
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}

// AddVersionTag tags ctx with the running client version.
func AddVersionTag(ctx context.Context) context.Context {
	ctx, _ = tag.New(ctx, tag.Upsert(Version, build.BuildVersion), tag.Upsert(Commit, build.CurrentCommit))
	return ctx
}
