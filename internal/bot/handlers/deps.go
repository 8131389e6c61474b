package handlers

import (
	"log/slog"

	"github.com/groupwarden/groupwarden/internal/config"
	"github.com/groupwarden/groupwarden/internal/detect"
	"github.com/groupwarden/groupwarden/internal/gemini"
	"github.com/groupwarden/groupwarden/internal/liststore"
	"github.com/groupwarden/groupwarden/internal/pool"
)

// HandlerDeps provides dependencies for Telegram command and message handlers.
type HandlerDeps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Store        liststore.Store
	GeminiClient gemini.Client
	Pool         *pool.Pool
	Detector     *detect.Scheduler
}
