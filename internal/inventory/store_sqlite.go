package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS plans (
    id               TEXT PRIMARY KEY,
    source_format    TEXT NOT NULL,
    source_file      TEXT,
    stack_name       TEXT,
    region           TEXT,
    template_version TEXT,
    tags             TEXT,
    resource_count   INTEGER DEFAULT 0,
    ingested_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS changes (
    id       TEXT PRIMARY KEY,
    plan_id  TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    address  TEXT NOT NULL,
    mode     TEXT NOT NULL,
    type     TEXT NOT NULL,
    name     TEXT NOT NULL,
    actions  TEXT NOT NULL,
    after    TEXT,
    metadata TEXT,
    UNIQUE(plan_id, address)
);

CREATE TABLE IF NOT EXISTS edges (
    id           TEXT PRIMARY KEY,
    plan_id      TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    from_address TEXT NOT NULL,
    to_address   TEXT NOT NULL,
    UNIQUE(plan_id, from_address, to_address)
);

CREATE INDEX IF NOT EXISTS idx_plans_format ON plans(source_format);
CREATE INDEX IF NOT EXISTS idx_changes_plan ON changes(plan_id);
CREATE INDEX IF NOT EXISTS idx_changes_type ON changes(type);
CREATE INDEX IF NOT EXISTS idx_edges_plan ON edges(plan_id);

CREATE TABLE IF NOT EXISTS ingests (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT NOT NULL,
    path        TEXT NOT NULL,
    status      TEXT DEFAULT 'running',
    error       TEXT,
    plans       INTEGER DEFAULT 0,
    changes     INTEGER DEFAULT 0,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME
);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Init creates the database schema if it doesn't exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertPlan inserts or updates a plan header.
func (s *SQLiteStore) UpsertPlan(ctx context.Context, plan PlanRecord) error {
	tags, err := json.Marshal(plan.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, source_format, source_file, stack_name, region, template_version, tags, resource_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_format = excluded.source_format,
			source_file = excluded.source_file,
			stack_name = excluded.stack_name,
			region = excluded.region,
			template_version = excluded.template_version,
			tags = excluded.tags,
			resource_count = excluded.resource_count,
			ingested_at = excluded.ingested_at
	`, plan.ID, plan.SourceFormat, plan.SourceFile, plan.StackName, plan.Region,
		plan.TemplateVersion, string(tags), plan.ResourceCount,
		plan.IngestedAt.Format(time.RFC3339))
	return err
}

// UpsertChange inserts or updates one resource change.
func (s *SQLiteStore) UpsertChange(ctx context.Context, change ChangeRecord) error {
	meta, err := json.Marshal(change.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO changes (id, plan_id, address, mode, type, name, actions, after, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, address) DO UPDATE SET
			mode = excluded.mode,
			type = excluded.type,
			name = excluded.name,
			actions = excluded.actions,
			after = excluded.after,
			metadata = excluded.metadata
	`, change.ID, change.PlanID, change.Address, change.Mode, change.Type, change.Name,
		strings.Join(change.Actions, ","), string(change.After), string(meta))
	return err
}

// UpsertEdge inserts or updates one dependency edge.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, edge EdgeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (id, plan_id, from_address, to_address)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id, from_address, to_address) DO NOTHING
	`, edge.ID, edge.PlanID, edge.FromAddress, edge.ToAddress)
	return err
}

// GetPlan retrieves a single plan by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_format, source_file, stack_name, region, template_version, tags, resource_count, ingested_at
		FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

func scanPlan(row interface{ Scan(dest ...any) error }) (*PlanRecord, error) {
	var p PlanRecord
	var sourceFile, stackName, region, templateVersion, tags sql.NullString
	var ingestedAt string

	err := row.Scan(&p.ID, &p.SourceFormat, &sourceFile, &stackName, &region,
		&templateVersion, &tags, &p.ResourceCount, &ingestedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	p.SourceFile = sourceFile.String
	p.StackName = stackName.String
	p.Region = region.String
	p.TemplateVersion = templateVersion.String

	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &p.Tags)
	}
	if p.Tags == nil {
		p.Tags = make(map[string]string)
	}

	p.IngestedAt, _ = time.Parse(time.RFC3339, ingestedAt)

	return &p, nil
}

// ListPlans returns plans matching the given filter.
func (s *SQLiteStore) ListPlans(ctx context.Context, filter PlanFilter) ([]PlanRecord, error) {
	query := `SELECT id, source_format, source_file, stack_name, region, template_version, tags, resource_count, ingested_at FROM plans WHERE 1=1`
	var args []any

	if filter.SourceFormat != "" {
		query += ` AND source_format = ?`
		args = append(args, filter.SourceFormat)
	}
	if filter.StackName != "" {
		query += ` AND stack_name = ?`
		args = append(args, filter.StackName)
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}

	query += ` ORDER BY ingested_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var plans []PlanRecord
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// ListChanges returns changes matching the given filter.
func (s *SQLiteStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]ChangeRecord, error) {
	query := `SELECT id, plan_id, address, mode, type, name, actions, after, metadata FROM changes WHERE 1=1`
	var args []any

	if filter.PlanID != "" {
		query += ` AND plan_id = ?`
		args = append(args, filter.PlanID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.Address != "" {
		query += ` AND address = ?`
		args = append(args, filter.Address)
	}
	if filter.Action != "" {
		query += ` AND (',' || actions || ',') LIKE ('%,' || ? || ',%')`
		args = append(args, filter.Action)
	}

	query += ` ORDER BY plan_id, address`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var changes []ChangeRecord
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *c)
	}
	return changes, rows.Err()
}

func scanChange(row interface{ Scan(dest ...any) error }) (*ChangeRecord, error) {
	var c ChangeRecord
	var actions string
	var after, meta sql.NullString

	err := row.Scan(&c.ID, &c.PlanID, &c.Address, &c.Mode, &c.Type, &c.Name, &actions, &after, &meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if actions != "" {
		c.Actions = strings.Split(actions, ",")
	}
	if after.Valid && after.String != "" {
		c.After = json.RawMessage(after.String)
	}
	if meta.Valid {
		_ = json.Unmarshal([]byte(meta.String), &c.Metadata)
	}

	return &c, nil
}

// ListEdges returns the dependency edges of one plan.
func (s *SQLiteStore) ListEdges(ctx context.Context, planID string) ([]EdgeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, from_address, to_address
		FROM edges WHERE plan_id = ? ORDER BY from_address, to_address
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var edges []EdgeRecord
	for rows.Next() {
		var e EdgeRecord
		if err := rows.Scan(&e.ID, &e.PlanID, &e.FromAddress, &e.ToAddress); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// DeletePlan removes a plan; its changes and edges cascade.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	return err
}

// CountPlansBySource returns plan counts grouped by source format.
func (s *SQLiteStore) CountPlansBySource(ctx context.Context) (map[string]int, error) {
	return s.countGrouped(ctx, `SELECT source_format, COUNT(*) FROM plans GROUP BY source_format ORDER BY source_format`)
}

// CountChangesByType returns change counts grouped by normalized type.
func (s *SQLiteStore) CountChangesByType(ctx context.Context) (map[string]int, error) {
	return s.countGrouped(ctx, `SELECT type, COUNT(*) FROM changes GROUP BY type ORDER BY type`)
}

func (s *SQLiteStore) countGrouped(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	counts := make(map[string]int)
	for rows.Next() {
		var k string
		var c int
		if err := rows.Scan(&k, &c); err != nil {
			return nil, err
		}
		counts[k] = c
	}
	return counts, rows.Err()
}

// RecordIngest inserts a new ingest record and returns its ID.
func (s *SQLiteStore) RecordIngest(ctx context.Context, ing Ingest) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingests (source, path, status, started_at) VALUES (?, ?, ?, ?)
	`, ing.Source, ing.Path, ing.Status, ing.StartedAt.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateIngest finalizes an ingest record with status and counts.
func (s *SQLiteStore) UpdateIngest(ctx context.Context, id int64, status, errMsg string, plans, changes int) error {
	now := time.Now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingests SET status = ?, error = ?, plans = ?, changes = ?, finished_at = ? WHERE id = ?
	`, status, errMsg, plans, changes, now, id)
	return err
}

// ListIngests returns the most recent ingest records, up to limit.
func (s *SQLiteStore) ListIngests(ctx context.Context, limit int) ([]Ingest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, path, status, error, plans, changes, started_at, finished_at
		FROM ingests ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var ingests []Ingest
	for rows.Next() {
		var ing Ingest
		var errMsg, finishedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&ing.ID, &ing.Source, &ing.Path, &ing.Status, &errMsg,
			&ing.Plans, &ing.Changes, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		ing.Error = errMsg.String
		ing.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAt.String)
			ing.FinishedAt = &t
		}
		ingests = append(ingests, ing)
	}
	return ingests, rows.Err()
}

// Stats returns aggregate counts over the whole store.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans`).Scan(&st.Plans); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes`).Scan(&st.Changes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&st.Edges); err != nil {
		return nil, err
	}

	var err error
	if st.PlansBySource, err = s.CountPlansBySource(ctx); err != nil {
		return nil, err
	}
	if st.ChangesByType, err = s.CountChangesByType(ctx); err != nil {
		return nil, err
	}
	return &st, nil
}
