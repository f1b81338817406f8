package handlers

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"bulk-mailer/config"
	"bulk-mailer/database"
	"bulk-mailer/services"
)

// NewRouter wires every API route, the health check and the static dashboard.
func NewRouter(cfg *config.Config, store database.Store, dispatcher *services.Dispatcher, log *slog.Logger) *mux.Router {
	loc := cfg.Location()

	r := mux.NewRouter()
	r.Use(RecoverMiddleware(log), RequestIDMiddleware(), LoggingMiddleware(log))

	r.HandleFunc("/healthz", HealthHandler(store, log)).Methods(http.MethodGet)

	// API Routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/emails/send", SendBulkEmailHandler(dispatcher, cfg.UploadDir, cfg.MaxUploadBytes, log)).Methods(http.MethodPost)
	api.HandleFunc("/emails", ListAddressesHandler(store.Addresses(), log)).Methods(http.MethodGet)
	api.HandleFunc("/logs", GetLogsHandler(store.Deliveries(), loc, log)).Methods(http.MethodGet)
	api.HandleFunc("/limit", GetDailyLimitHandler(store.Deliveries(), cfg.DailyMailLimit, loc, log)).Methods(http.MethodGet)
	api.HandleFunc("/stats", GetEmailStatsHandler(store.Deliveries(), loc, log)).Methods(http.MethodGet)
	api.HandleFunc("/stats/daily", GetDailySendsHandler(store.Deliveries(), loc, log)).Methods(http.MethodGet)

	// Dashboard Static Files
	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	} else {
		log.Info("Static directory not found, dashboard disabled", slog.String("dir", cfg.StaticDir))
	}

	return r
}
