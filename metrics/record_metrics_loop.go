package metrics

import (
	"context"
	"time"
)

func recordMetricsLoop(ctx context.Context, source StatsSource) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			SessionNum.Set(ctx, int64(source.SessionCount()))
			ApprovalPendingNum.Set(ctx, int64(source.PendingApprovalCount()))
		case <-ctx.Done():
			log.Infof("context done, stop record metrics")
			return
		}
	}
}
