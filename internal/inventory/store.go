package inventory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/planbridge/planbridge/pkg/model"
)

// Store defines the interface for persisting and querying ingested
// plans.
type Store interface {
	// Init initializes the store (creates tables, indexes, etc.).
	Init(ctx context.Context) error

	// Close closes the store connection.
	Close() error

	// UpsertPlan inserts or updates a plan header.
	UpsertPlan(ctx context.Context, plan PlanRecord) error

	// UpsertChange inserts or updates one resource change.
	UpsertChange(ctx context.Context, change ChangeRecord) error

	// UpsertEdge inserts or updates one dependency edge.
	UpsertEdge(ctx context.Context, edge EdgeRecord) error

	// GetPlan retrieves a plan by ID; nil without error when absent.
	GetPlan(ctx context.Context, id string) (*PlanRecord, error)

	// ListPlans returns plans matching the given filter.
	ListPlans(ctx context.Context, filter PlanFilter) ([]PlanRecord, error)

	// ListChanges returns changes matching the given filter.
	ListChanges(ctx context.Context, filter ChangeFilter) ([]ChangeRecord, error)

	// ListEdges returns the dependency edges of one plan.
	ListEdges(ctx context.Context, planID string) ([]EdgeRecord, error)

	// DeletePlan removes a plan with its changes and edges.
	DeletePlan(ctx context.Context, id string) error

	// CountPlansBySource returns plan counts grouped by source format.
	CountPlansBySource(ctx context.Context) (map[string]int, error)

	// CountChangesByType returns change counts grouped by type.
	CountChangesByType(ctx context.Context) (map[string]int, error)

	// RecordIngest records an ingest run and returns its ID.
	RecordIngest(ctx context.Context, ing Ingest) (int64, error)

	// UpdateIngest finalizes an ingest record.
	UpdateIngest(ctx context.Context, id int64, status, errMsg string, plans, changes int) error

	// ListIngests returns recent ingest records.
	ListIngests(ctx context.Context, limit int) ([]Ingest, error)

	// Stats returns aggregate counts over the whole store.
	Stats(ctx context.Context) (*Stats, error)
}

// PlanFilter specifies criteria for listing plans.
type PlanFilter struct {
	SourceFormat string
	StackName    string
	Region       string
}

// ChangeFilter specifies criteria for listing changes.
type ChangeFilter struct {
	PlanID  string
	Type    string
	Action  string
	Address string
}

// PlanRecord is one ingested plan's header row.
type PlanRecord struct {
	ID              string            `json:"id"`
	SourceFormat    string            `json:"source_format"`
	SourceFile      string            `json:"source_file,omitempty"`
	StackName       string            `json:"stack_name,omitempty"`
	Region          string            `json:"region,omitempty"`
	TemplateVersion string            `json:"template_version,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
	ResourceCount   int               `json:"resource_count"`
	IngestedAt      time.Time         `json:"ingested_at"`
}

// ChangeRecord is one normalized resource change row. After keeps the
// resolved property document as raw JSON so numeric literals survive
// storage untouched.
type ChangeRecord struct {
	ID       string            `json:"id"`
	PlanID   string            `json:"plan_id"`
	Address  string            `json:"address"`
	Mode     string            `json:"mode"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Actions  []string          `json:"actions"`
	After    json.RawMessage   `json:"after,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EdgeRecord is one plan-scoped dependency edge between two change
// addresses.
type EdgeRecord struct {
	ID          string `json:"id"`
	PlanID      string `json:"plan_id"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
}

// Ingest represents one ingest run record.
type Ingest struct {
	ID         int64      `json:"id"`
	Source     string     `json:"source"`
	Path       string     `json:"path"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Plans      int        `json:"plans"`
	Changes    int        `json:"changes"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stats aggregates store-wide counts.
type Stats struct {
	Plans         int            `json:"plans"`
	Changes       int            `json:"changes"`
	Edges         int            `json:"edges"`
	PlansBySource map[string]int `json:"plans_by_source"`
	ChangesByType map[string]int `json:"changes_by_type"`
}

// PlanRecordFrom builds the header row for a normalized plan.
func PlanRecordFrom(id, sourceFile string, p *model.NormalizedPlan, now time.Time) PlanRecord {
	return PlanRecord{
		ID:              id,
		SourceFormat:    string(p.SourceFormat),
		SourceFile:      sourceFile,
		StackName:       p.Metadata.StackName,
		Region:          p.Metadata.Region,
		TemplateVersion: p.Metadata.TemplateVersion,
		Tags:            p.Metadata.Tags,
		ResourceCount:   len(p.ResourceChanges),
		IngestedAt:      now,
	}
}

// ChangeRecordsFrom flattens a normalized plan's changes into rows
// keyed by plan-scoped address.
func ChangeRecordsFrom(planID string, p *model.NormalizedPlan) ([]ChangeRecord, error) {
	records := make([]ChangeRecord, 0, len(p.ResourceChanges))
	for _, rc := range p.ResourceChanges {
		after, err := json.Marshal(rc.Change.After)
		if err != nil {
			return nil, err
		}
		records = append(records, ChangeRecord{
			ID:       planID + "/" + rc.Address,
			PlanID:   planID,
			Address:  rc.Address,
			Mode:     rc.Mode,
			Type:     rc.Type,
			Name:     rc.Name,
			Actions:  rc.Change.Actions,
			After:    after,
			Metadata: rc.Metadata,
		})
	}
	return records, nil
}

// EdgeID builds the deterministic primary key for a dependency edge.
func EdgeID(planID, from, to string) string {
	return planID + "/" + from + "->" + to
}
