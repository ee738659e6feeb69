package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerAwardRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("POST /v1/awards/compute", handler.ComputeAwards)
	mux.HandleFunc("GET /v1/awards", handler.GetAwards)
	mux.HandleFunc("GET /v1/awards/{category}", handler.GetAwardCategory)
	mux.HandleFunc("GET /v1/runs/{runID}/diagnostics", handler.GetRunDiagnostics)
}

func registerInternalJobRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/reports/ingest", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.IngestReports)))
}
