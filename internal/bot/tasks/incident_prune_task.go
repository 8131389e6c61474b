package tasks

import (
	"context"
	"fmt"
	"time"
)

const incidentPruneTimeout = 2 * time.Minute

// newIncidentPruneTask returns a task that deletes enforcement audit records
// older than the configured retention window.
func newIncidentPruneTask(deps TaskDeps) ScheduledTaskFunc {
	return func(ctx context.Context) error {
		log := deps.Logger.With("task", "incident_prune")

		retention := deps.Config.Scheduler.IncidentRetention
		cutoff := time.Now().Add(-retention)

		taskCtx, cancel := context.WithTimeout(ctx, incidentPruneTimeout)
		defer cancel()

		removed, err := deps.Store.PruneIncidents(taskCtx, cutoff)
		if err != nil {
			return fmt.Errorf("incident prune failed: %w", err)
		}

		log.InfoContext(ctx, "Incident prune completed", "removed", removed, "retention", retention)
		return nil
	}
}
