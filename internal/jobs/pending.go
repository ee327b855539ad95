package jobs

import (
	"context"
	"fmt"

	"github.com/pitabwire/cartable/internal/cartable"
	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/model"
)

// PendingGaugeJob is the name of the pending-items refresh job.
const PendingGaugeJob = "pending_items_gauge"

// RefreshPendingItems counts open items per module and publishes the
// counts on the pending-items gauge.
func RefreshPendingItems(items *cartable.Store, metrics *observability.Metrics) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		pending, err := items.List(ctx, cartable.Filter{Status: model.ItemStatusPending})
		if err != nil {
			return fmt.Errorf("count pending items: %w", err)
		}
		counts := make(map[string]int)
		for _, item := range pending {
			counts[item.Module]++
		}
		metrics.SetPendingItems(counts)
		return nil
	}
}

// NewPendingGauge builds the job that refreshes the pending-items gauge.
func NewPendingGauge(schedule string, items *cartable.Store, metrics *observability.Metrics) Job {
	return Job{
		Name:     PendingGaugeJob,
		Schedule: schedule,
		Run:      RefreshPendingItems(items, metrics),
	}
}
