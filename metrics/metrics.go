package metrics

import (
	"context"
	"strconv"
	"time"

	rpcMetrics "github.com/filecoin-project/go-jsonrpc/metrics"
	"github.com/ipfs-force-community/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Global Tags
var (
	OriginKey, _ = tag.NewKey("origin")
	MethodKey, _ = tag.NewKey("method")

	NetworkKey, _ = tag.NewKey("network")

	KindKey, _    = tag.NewKey("kind")
	OutcomeKey, _ = tag.NewKey("outcome")

	ErrorCodeKey, _ = tag.NewKey("error_code")
)

// Distribution
var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 3000, 4000, 5000, 7500, 10000, 20000, 50000, 100000)

var (
	// sessions
	SessionNum     = metrics.NewInt64("session/num", "Live dApp session count", stats.UnitDimensionless)
	SessionRevoked = stats.Int64("session/revoked", "Session revocations", stats.UnitDimensionless)

	// approvals
	ApprovalPendingNum = metrics.NewInt64("approval/pending_num", "Pending approval count", stats.UnitDimensionless)
	ApprovalResolved   = stats.Int64("approval/resolved", "Approval resolutions by outcome", stats.UnitDimensionless)

	// dApp requests
	DappRequest            = stats.Float64("dapp_request", "dApp request handling spent time", stats.UnitMilliseconds)
	DappRequestFailure     = stats.Int64("dapp_request_failure", "dApp requests answered with an error", stats.UnitDimensionless)
	DappRequestRateLimited = stats.Int64("dapp_request_rate_limited", "dApp requests rejected by the rate limiter", stats.UnitDimensionless)

	// adapter
	AdapterCall    = stats.Float64("adapter_call", "Chain adapter call spent time", stats.UnitMilliseconds)
	AdapterFailure = stats.Int64("adapter_failure", "Chain adapter call failures", stats.UnitDimensionless)

	ApiState = metrics.NewInt64("api/state", "api service state. 0: down, 1: up", "")
)

var (
	sessionRevokedView = &view.View{
		Measure:     SessionRevoked,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey},
	}
	approvalResolvedView = &view.View{
		Measure:     ApprovalResolved,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KindKey, OutcomeKey},
	}
	dappRequestView = &view.View{
		Measure:     DappRequest,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{OriginKey, MethodKey},
	}
	dappRequestFailureView = &view.View{
		Measure:     DappRequestFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, MethodKey, ErrorCodeKey},
	}
	dappRequestRateLimitedView = &view.View{
		Measure:     DappRequestRateLimited,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, MethodKey},
	}
	adapterCallView = &view.View{
		Measure:     AdapterCall,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{NetworkKey, MethodKey},
	}
	adapterFailureView = &view.View{
		Measure:     AdapterFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{NetworkKey, MethodKey},
	}
)

var views = append([]*view.View{
	sessionRevokedView,
	approvalResolvedView,
	dappRequestView,
	dappRequestFailureView,
	dappRequestRateLimitedView,
	adapterCallView,
	adapterFailureView,
}, rpcMetrics.DefaultViews...)

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// RequestStats records the measures for one dApp request.
type RequestStats struct {
	ctx context.Context
}

func NewRequestStats(ctx context.Context, origin, method string) *RequestStats {
	ctx, _ = tag.New(ctx,
		tag.Upsert(OriginKey, origin),
		tag.Upsert(MethodKey, method),
	)
	return &RequestStats{ctx: ctx}
}

func (r *RequestStats) Done(start time.Time) {
	stats.Record(r.ctx, DappRequest.M(SinceInMilliseconds(start)))
}

func (r *RequestStats) Failed(code int) {
	ctx, _ := tag.New(r.ctx, tag.Upsert(ErrorCodeKey, strconv.Itoa(code)))
	stats.Record(ctx, DappRequestFailure.M(1))
}

func (r *RequestStats) RateLimited() {
	stats.Record(r.ctx, DappRequestRateLimited.M(1))
}

// RecordAdapterCall records one chain adapter call's duration and, when
// the call failed, a failure.
func RecordAdapterCall(ctx context.Context, network, method string, start time.Time, err error) {
	ctx, _ = tag.New(ctx, tag.Upsert(NetworkKey, network), tag.Upsert(MethodKey, method))
	stats.Record(ctx, AdapterCall.M(SinceInMilliseconds(start)))
	if err != nil {
		stats.Record(ctx, AdapterFailure.M(1))
	}
}

// RecordApprovalOutcome counts one approval leaving the pending state.
func RecordApprovalOutcome(ctx context.Context, kind, outcome string) {
	ctx, _ = tag.New(ctx, tag.Upsert(KindKey, kind), tag.Upsert(OutcomeKey, outcome))
	stats.Record(ctx, ApprovalResolved.M(1))
}

// RecordSessionRevoked counts one session teardown.
func RecordSessionRevoked(ctx context.Context, origin string) {
	ctx, _ = tag.New(ctx, tag.Upsert(OriginKey, origin))
	stats.Record(ctx, SessionRevoked.M(1))
}

func init() {
	// register metrics
	_ = view.Register(views...)
}
