package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/planbridge/planbridge/internal/ingest"
	"github.com/planbridge/planbridge/internal/inventory"
	"github.com/planbridge/planbridge/internal/parser"
	"github.com/planbridge/planbridge/pkg/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeArtifactError classifies a parse or normalization failure and
// reports it with a stable class label. Everything except internal
// faults is the caller's input.
func writeArtifactError(w http.ResponseWriter, err error) {
	class := model.ClassifyError(err)
	status := http.StatusBadRequest
	if class == "internal" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "class": class})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNormalize converts an uploaded artifact to the normalized plan
// representation without touching the inventory.
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(content) == 0 {
		writeError(w, http.StatusBadRequest, "empty request body")
		return
	}

	hint := r.URL.Query().Get("filename")
	art, err := parser.ParseArtifact(content, hint)
	if err != nil {
		writeArtifactError(w, err)
		return
	}

	out, err := s.norm.Normalize(art).ToTerraformJSON()
	if err != nil {
		s.logger.Error("encoding normalized plan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := inventory.PlanFilter{
		SourceFormat: r.URL.Query().Get("format"),
		StackName:    r.URL.Query().Get("stack"),
		Region:       r.URL.Query().Get("region"),
	}

	plans, err := s.store.ListPlans(ctx, filter)
	if err != nil {
		s.logger.Error("listing plans", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if plans == nil {
		plans = []inventory.PlanRecord{}
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handlePlanByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "plan id required")
		return
	}

	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		s.logger.Error("getting plan", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		s.logger.Error("getting plan", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}

	if err := s.store.DeletePlan(ctx, id); err != nil {
		s.logger.Error("deleting plan", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "plan": id})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := inventory.ChangeFilter{
		PlanID:  r.URL.Query().Get("plan"),
		Type:    r.URL.Query().Get("type"),
		Address: r.URL.Query().Get("address"),
		Action:  r.URL.Query().Get("action"),
	}

	changes, err := s.store.ListChanges(ctx, filter)
	if err != nil {
		s.logger.Error("listing changes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if changes == nil {
		changes = []inventory.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID := r.URL.Query().Get("plan")
	if planID == "" {
		writeError(w, http.StatusBadRequest, "plan query parameter required")
		return
	}

	edges, err := s.store.ListEdges(ctx, planID)
	if err != nil {
		s.logger.Error("listing edges", "plan", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if edges == nil {
		edges = []inventory.EdgeRecord{}
	}
	writeJSON(w, http.StatusOK, edges)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("collecting stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleIngests(w http.ResponseWriter, r *http.Request) {
	ingests, err := s.store.ListIngests(r.Context(), 50)
	if err != nil {
		s.logger.Error("listing ingests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ingests == nil {
		ingests = []inventory.Ingest{}
	}
	writeJSON(w, http.StatusOK, ingests)
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, _ *http.Request) {
	running := s.ingestor != nil && s.ingestor.IsRunning()
	var ids []int64
	if s.ingestor != nil {
		ids = s.ingestor.Running()
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": running, "ingest_ids": ids})
}

// ingestTriggerRequest is the JSON body for POST /api/v1/ingest. Source
// names a configured source ("all" runs every one); Path ingests an
// ad-hoc absolute path. Exactly one must be set.
type ingestTriggerRequest struct {
	Source string `json:"source,omitempty"`
	Path   string `json:"path,omitempty"`
}

// validatePath checks a single file path for traversal and requires absolute paths.
func validatePath(p string) error {
	cleaned := filepath.Clean(p)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("path %q contains directory traversal", p)
	}
	if !filepath.IsAbs(cleaned) {
		return fmt.Errorf("path %q must be absolute", p)
	}
	return nil
}

// validateIngestRequest checks the trigger body and resolves it to an
// ingest request against the configured sources.
func (s *Server) validateIngestRequest(req ingestTriggerRequest) (ingest.Request, error) {
	switch {
	case req.Source == "" && req.Path == "":
		return ingest.Request{}, fmt.Errorf("source or path required")
	case req.Source != "" && req.Path != "":
		return ingest.Request{}, fmt.Errorf("source and path are mutually exclusive")
	case req.Path != "":
		if err := validatePath(req.Path); err != nil {
			return ingest.Request{}, err
		}
		return ingest.Request{Path: req.Path}, nil
	case req.Source == "all":
		return ingest.Request{Source: "all"}, nil
	default:
		path, ok := s.sources[req.Source]
		if !ok {
			return ingest.Request{}, fmt.Errorf("unknown source %q", req.Source)
		}
		return ingest.Request{Source: req.Source, Path: path}, nil
	}
}

func (s *Server) handleTriggerIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestor not configured")
		return
	}

	var req ingestTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ingReq, err := s.validateIngestRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ingestID, err := s.ingestor.RunAsync(r.Context(), ingReq)
	if err != nil {
		s.logger.Error("triggering ingest", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start ingest")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "ingest triggered",
		"ingest_id": ingestID,
	})
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	out, err := inventory.ExportJSON(r.Context(), s.store, r.URL.Query().Get("plan"))
	if err != nil {
		s.logger.Error("export json", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="planbridge-plans.json"`)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleExportYAML(w http.ResponseWriter, r *http.Request) {
	out, err := inventory.ExportYAML(r.Context(), s.store, r.URL.Query().Get("plan"))
	if err != nil {
		s.logger.Error("export yaml", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="planbridge-plans.yaml"`)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleExportDOT(w http.ResponseWriter, r *http.Request) {
	out, err := inventory.ExportDOT(r.Context(), s.store, r.URL.Query().Get("plan"))
	if err != nil {
		s.logger.Error("export dot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	w.Header().Set("Content-Disposition", `attachment; filename="planbridge-plans.dot"`)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleExportMermaid(w http.ResponseWriter, r *http.Request) {
	out, err := inventory.ExportMermaid(r.Context(), s.store, r.URL.Query().Get("plan"))
	if err != nil {
		s.logger.Error("export mermaid", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", `attachment; filename="planbridge-plans.mmd"`)
	_, _ = w.Write([]byte(out))
}
