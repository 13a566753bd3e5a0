package httpx

import (
	"log/slog"
	"net/http"

	"github.com/mstrycker/docexport/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Export *service.ExportService
	APIKey string
	Logger *slog.Logger
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handlers := &ExportHandlers{Svc: services.Export, Logger: logger}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/export", handlers.Submit)
	api.HandleFunc("GET /api/v1/status/{id}", handlers.Status)
	api.HandleFunc("GET /api/v1/download/{id}", handlers.Download)
	api.HandleFunc("DELETE /api/v1/jobs/{id}", handlers.Delete)
	api.HandleFunc("GET /api/v1/stats", handlers.Stats)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", RequireAPIKey(services.APIKey)(api))
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
