package server

import "net/http"

// RegisterRoutes registers all API routes on the given mux. Mutating
// endpoints are left out entirely in read-only mode.
func RegisterRoutes(mux *http.ServeMux, s *Server) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/v1/plans", s.handlePlans)
	mux.HandleFunc("GET /api/v1/plans/{id}", s.handlePlanByID)
	mux.HandleFunc("GET /api/v1/changes", s.handleChanges)
	mux.HandleFunc("GET /api/v1/edges", s.handleEdges)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/ingests", s.handleIngests)
	mux.HandleFunc("GET /api/v1/ingest/status", s.handleIngestStatus)

	mux.HandleFunc("GET /api/v1/export/json", s.handleExportJSON)
	mux.HandleFunc("GET /api/v1/export/yaml", s.handleExportYAML)
	mux.HandleFunc("GET /api/v1/export/dot", s.handleExportDOT)
	mux.HandleFunc("GET /api/v1/export/mermaid", s.handleExportMermaid)

	// Normalization is a pure conversion, safe in read-only mode.
	mux.HandleFunc("POST /api/v1/normalize", s.handleNormalize)

	if !s.readOnly {
		mux.HandleFunc("POST /api/v1/ingest", s.handleTriggerIngest)
		mux.HandleFunc("DELETE /api/v1/plans/{id}", s.handleDeletePlan)
	}
}
