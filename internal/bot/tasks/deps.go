// Package tasks implements scheduled maintenance tasks for the bot: pruning
// old enforcement records and SQLite upkeep.
package tasks

import (
	"log/slog"

	"github.com/groupwarden/groupwarden/internal/config"
	"github.com/groupwarden/groupwarden/internal/liststore"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  liststore.Store
	Config *config.Config
}
