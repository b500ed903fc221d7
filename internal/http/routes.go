package httpx

import (
	"log/slog"
	"net/http"

	"github.com/contentops/jobcore/internal/core"
)

// RouterServices holds the services the HTTP router depends on.
type RouterServices struct {
	Store     core.JobStore
	Triggerer core.JobTriggerer
	Canceller core.JobCanceller
	Registry  *core.Registry
	Logger    *slog.Logger // Optional
}

// NewRouter creates the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobs := &JobHandlers{
		Store:     services.Store,
		Triggerer: services.Triggerer,
		Canceller: services.Canceller,
	}
	types := &TypeHandlers{Registry: services.Registry}

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	mux.HandleFunc("GET /api/job-types", types.List)
	mux.HandleFunc("GET /api/jobs", jobs.List)
	mux.HandleFunc("GET /api/jobs/active", jobs.Active)
	mux.HandleFunc("GET /api/jobs/{id}", jobs.Get)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobs.Cancel)
	mux.HandleFunc("POST /api/job-types/{type}/trigger", jobs.Trigger)
	mux.HandleFunc("POST /api/job-types/{type}/cancel", jobs.CancelByType)

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return withRecovery(withRequestLog(mux, logger), logger)
}
