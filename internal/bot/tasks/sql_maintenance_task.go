package tasks

import (
	"context"
	"fmt"
	"time"
)

const sqlMaintenanceTimeout = 5 * time.Minute

// newSQLMaintenanceTask returns a task that runs periodic SQLite upkeep.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	return func(ctx context.Context) error {
		taskCtx, cancel := context.WithTimeout(ctx, sqlMaintenanceTimeout)
		defer cancel()

		if err := deps.Store.RunSQLMaintenance(taskCtx); err != nil {
			return fmt.Errorf("sql maintenance failed: %w", err)
		}
		return nil
	}
}
