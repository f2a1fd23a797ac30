package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/inventory"
	"github.com/planbridge/planbridge/internal/normalizer"
	"github.com/planbridge/planbridge/internal/parser"
	"github.com/planbridge/planbridge/pkg/model"
)

// Request describes one ingest to execute. Source names a configured
// source; ad-hoc paths leave it empty. Source "all" runs every
// configured source.
type Request struct {
	Source string
	Path   string
}

// Result is returned after an ingest completes.
type Result struct {
	IngestID int64
	Plans    int
	Changes  int
	Warnings []string
	Err      error
}

// Ingestor loads IaC artifacts, normalizes them and lands the result
// in the inventory.
type Ingestor struct {
	store   inventory.Store
	cfg     *config.Config
	logger  *slog.Logger
	norm    *normalizer.Normalizer
	mu      sync.Mutex
	running map[int64]context.CancelFunc
}

// New creates an Ingestor.
func New(store inventory.Store, cfg *config.Config, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		norm:    normalizer.New(),
		running: make(map[int64]context.CancelFunc),
	}
}

// RunSync executes an ingest synchronously and returns the result.
func (ing *Ingestor) RunSync(ctx context.Context, req Request) Result {
	source := req.Source
	if source == "" {
		source = "adhoc"
	}

	ingestID, _ := ing.store.RecordIngest(ctx, inventory.Ingest{
		Source:    source,
		Path:      req.Path,
		Status:    "running",
		StartedAt: time.Now(),
	})

	plans, changes, warnings, err := ing.execute(ctx, req.Path)
	if err != nil {
		_ = ing.store.UpdateIngest(ctx, ingestID, "failed", err.Error(), 0, 0)
		return Result{IngestID: ingestID, Warnings: warnings, Err: err}
	}

	_ = ing.store.UpdateIngest(ctx, ingestID, "completed", "", plans, changes)
	return Result{IngestID: ingestID, Plans: plans, Changes: changes, Warnings: warnings}
}

// RunAsync launches an ingest in a goroutine and returns the ingest
// ID immediately.
func (ing *Ingestor) RunAsync(ctx context.Context, req Request) (int64, error) {
	source := req.Source
	if source == "" {
		source = "adhoc"
	}
	path := req.Path
	if source == "all" {
		path = "all-configured"
	}

	ingestID, err := ing.store.RecordIngest(ctx, inventory.Ingest{
		Source:    source,
		Path:      path,
		Status:    "running",
		StartedAt: time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("recording ingest: %w", err)
	}

	// The ingest outlives the request that started it.
	asyncCtx, cancel := context.WithCancel(context.Background())
	ing.mu.Lock()
	ing.running[ingestID] = cancel
	ing.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			ing.mu.Lock()
			delete(ing.running, ingestID)
			ing.mu.Unlock()
		}()

		if source == "all" {
			results := ing.RunAllConfigured(asyncCtx)
			totalPlans, totalChanges := 0, 0
			for _, r := range results {
				totalPlans += r.Plans
				totalChanges += r.Changes
			}
			_ = ing.store.UpdateIngest(context.Background(), ingestID, "completed", "", totalPlans, totalChanges)
			ing.logger.Info("async ingest (all) completed", "ingestID", ingestID, "plans", totalPlans, "changes", totalChanges)
			return
		}

		plans, changes, _, err := ing.execute(asyncCtx, req.Path)
		if err != nil {
			ing.logger.Error("async ingest failed", "ingestID", ingestID, "error", err)
			// Background context so a canceled ingest still gets its
			// final status written.
			_ = ing.store.UpdateIngest(context.Background(), ingestID, "failed", err.Error(), 0, 0)
			return
		}

		_ = ing.store.UpdateIngest(context.Background(), ingestID, "completed", "", plans, changes)
		ing.logger.Info("async ingest completed", "ingestID", ingestID, "plans", plans, "changes", changes)
	}()

	return ingestID, nil
}

// RunAllConfigured ingests every configured source, sorted by name.
func (ing *Ingestor) RunAllConfigured(ctx context.Context) []Result {
	var results []Result
	for _, name := range ing.cfg.SourceNames() {
		path := ing.cfg.Sources[name]
		if path == "" {
			continue
		}
		results = append(results, ing.RunSync(ctx, Request{Source: name, Path: path}))
	}
	return results
}

// IsRunning reports whether any ingest is currently in progress.
func (ing *Ingestor) IsRunning() bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return len(ing.running) > 0
}

// Running returns the IDs of in-flight ingests, sorted.
func (ing *Ingestor) Running() []int64 {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	ids := make([]int64, 0, len(ing.running))
	for id := range ing.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Cancel aborts a running ingest and reports whether the id was
// actually in flight.
func (ing *Ingestor) Cancel(id int64) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	cancel, ok := ing.running[id]
	if ok {
		cancel()
	}
	return ok
}

// execute loads, normalizes and stores everything under path. It
// returns the plan and change counts plus load warnings.
func (ing *Ingestor) execute(ctx context.Context, path string) (int, int, []string, error) {
	resolved, err := parser.SafeResolvePath(path)
	if err != nil {
		return 0, 0, nil, err
	}

	artifacts, skipped, err := parser.LoadPath(resolved)
	if err != nil {
		return 0, 0, nil, err
	}
	for _, note := range skipped {
		ing.logger.Warn("skipped during load", "note", note)
	}

	now := time.Now()
	used := make(map[string]bool, len(artifacts))
	total := 0
	for i := range artifacts {
		art := &artifacts[i]
		plan := ing.norm.Normalize(art)
		planID := derivePlanID(used, art, resolved)

		if err := ing.storePlan(ctx, planID, sourceFile(art, resolved), art, plan, now); err != nil {
			return 0, 0, skipped, err
		}
		total += len(plan.ResourceChanges)
	}

	return len(artifacts), total, skipped, nil
}

func (ing *Ingestor) storePlan(ctx context.Context, planID, file string, art *model.Artifact, plan *model.NormalizedPlan, now time.Time) error {
	if err := ing.store.UpsertPlan(ctx, inventory.PlanRecordFrom(planID, file, plan, now)); err != nil {
		return fmt.Errorf("storing plan %s: %w", planID, err)
	}

	records, err := inventory.ChangeRecordsFrom(planID, plan)
	if err != nil {
		return fmt.Errorf("flattening changes for %s: %w", planID, err)
	}
	for _, rec := range records {
		if err := ing.store.UpsertChange(ctx, rec); err != nil {
			ing.logger.Warn("failed to store change", "id", rec.ID, "error", err)
		}
	}

	for _, e := range dependencyEdges(planID, art) {
		if err := ing.store.UpsertEdge(ctx, e); err != nil {
			ing.logger.Warn("failed to store edge", "id", e.ID, "error", err)
		}
	}
	return nil
}

// derivePlanID builds a stable inventory key for one artifact: the
// stack name when the format provides one, the source file name
// otherwise. used disambiguates collisions within a single load.
func derivePlanID(used map[string]bool, art *model.Artifact, fallback string) string {
	base := art.Metadata.StackName
	if base == "" {
		name := filepath.Base(sourceFile(art, fallback))
		base = strings.TrimSuffix(name, filepath.Ext(name))
	}

	id := normalizer.Sanitize(base)
	if id == "" {
		id = "plan"
	}
	if used[id] {
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s-%d", id, n)
			if !used[candidate] {
				id = candidate
				break
			}
		}
	}
	used[id] = true
	return id
}

func sourceFile(art *model.Artifact, fallback string) string {
	if file := art.Metadata.Tags["source_file"]; file != "" {
		return file
	}
	return fallback
}

// dependencyEdges maps the artifact's DependsOn declarations onto
// normalized addresses. Validate already guaranteed every referenced
// id exists.
func dependencyEdges(planID string, art *model.Artifact) []inventory.EdgeRecord {
	var edges []inventory.EdgeRecord
	for _, r := range art.Resources {
		if len(r.DependsOn) == 0 {
			continue
		}
		from := normalizer.Address(art.Format, r.NormalizedType(), r.ID)
		for _, dep := range r.DependsOn {
			target, ok := art.GetResource(dep)
			if !ok {
				continue
			}
			to := normalizer.Address(art.Format, target.NormalizedType(), target.ID)
			edges = append(edges, inventory.EdgeRecord{
				ID:          inventory.EdgeID(planID, from, to),
				PlanID:      planID,
				FromAddress: from,
				ToAddress:   to,
			})
		}
	}
	return edges
}
