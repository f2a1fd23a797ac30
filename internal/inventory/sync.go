package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const syncBatchSize = 500

// SyncToGraph performs a full synchronization of the inventory into a
// Neo4j-compatible graph database. It wipes the graph and re-creates
// one Plan node per plan, one Change node per resource change, and a
// DEPENDS_ON relationship per dependency edge.
func SyncToGraph(ctx context.Context, store Store, driver neo4j.DriverWithContext, logger *slog.Logger) error {
	return syncToGraph(ctx, store, newNeo4jSessionFactory(driver), logger)
}

func syncToGraph(ctx context.Context, store Store, newSession sessionFactory, logger *slog.Logger) error {
	session := newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	logger.Info("clearing graph data")
	if _, err := session.Run(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		return fmt.Errorf("clearing graph: %w", err)
	}

	logger.Info("creating graph indexes")
	for _, cypher := range []string{
		"CREATE INDEX ON :Plan(id)",
		"CREATE INDEX ON :Change(address)",
		"CREATE INDEX ON :Change(type)",
	} {
		if _, err := session.Run(ctx, cypher, nil); err != nil {
			logger.Warn("creating index (may already exist)", "error", err)
		}
	}

	plans, err := store.ListPlans(ctx, PlanFilter{})
	if err != nil {
		return fmt.Errorf("listing plans: %w", err)
	}

	logger.Info("syncing plans to graph", "count", len(plans))
	for start := 0; start < len(plans); start += syncBatchSize {
		batch := plans[start:min(start+syncBatchSize, len(plans))]
		params := make([]map[string]any, len(batch))
		for i, p := range batch {
			params[i] = planToParams(p)
		}
		cypher := `
			UNWIND $plans AS p
			CREATE (:Plan {
				id: p.id, source_format: p.sourceFormat,
				stack_name: p.stackName, region: p.region,
				resource_count: p.resourceCount, ingested_at: p.ingestedAt
			})
		`
		if _, err := session.Run(ctx, cypher, map[string]any{"plans": params}); err != nil {
			return fmt.Errorf("syncing plan batch at %d: %w", start, err)
		}
	}

	changes, err := store.ListChanges(ctx, ChangeFilter{})
	if err != nil {
		return fmt.Errorf("listing changes: %w", err)
	}

	logger.Info("syncing changes to graph", "count", len(changes))
	for start := 0; start < len(changes); start += syncBatchSize {
		batch := changes[start:min(start+syncBatchSize, len(changes))]
		params := make([]map[string]any, len(batch))
		for i, c := range batch {
			params[i] = changeToParams(c)
		}
		cypher := `
			UNWIND $changes AS c
			MATCH (p:Plan {id: c.planID})
			CREATE (ch:Change {
				id: c.id, address: c.address, plan_id: c.planID,
				mode: c.mode, type: c.type, name: c.name,
				actions: c.actions, metadata: c.metadata
			})-[:PART_OF]->(p)
		`
		if _, err := session.Run(ctx, cypher, map[string]any{"changes": params}); err != nil {
			return fmt.Errorf("syncing change batch at %d: %w", start, err)
		}
	}

	edgeCount := 0
	for _, p := range plans {
		edges, err := store.ListEdges(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("listing edges for %s: %w", p.ID, err)
		}
		for start := 0; start < len(edges); start += syncBatchSize {
			batch := edges[start:min(start+syncBatchSize, len(edges))]
			params := make([]map[string]any, len(batch))
			for i, e := range batch {
				params[i] = edgeToParams(e)
			}
			cypher := `
				UNWIND $edges AS e
				MATCH (from:Change {plan_id: e.planID, address: e.fromAddress})
				MATCH (to:Change {plan_id: e.planID, address: e.toAddress})
				CREATE (from)-[:DEPENDS_ON {id: e.id}]->(to)
			`
			if _, err := session.Run(ctx, cypher, map[string]any{"edges": params}); err != nil {
				return fmt.Errorf("syncing edge batch at %d for %s: %w", start, p.ID, err)
			}
		}
		edgeCount += len(edges)
	}

	logger.Info("graph sync complete", "plans", len(plans), "changes", len(changes), "edges", edgeCount)
	return nil
}

func planToParams(p PlanRecord) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"sourceFormat":  p.SourceFormat,
		"stackName":     p.StackName,
		"region":        p.Region,
		"resourceCount": p.ResourceCount,
		"ingestedAt":    p.IngestedAt.Format(time.RFC3339),
	}
}

func changeToParams(c ChangeRecord) map[string]any {
	meta, _ := json.Marshal(c.Metadata)
	return map[string]any{
		"id":       c.ID,
		"planID":   c.PlanID,
		"address":  c.Address,
		"mode":     c.Mode,
		"type":     c.Type,
		"name":     c.Name,
		"actions":  strings.Join(c.Actions, ","),
		"metadata": string(meta),
	}
}

func edgeToParams(e EdgeRecord) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"planID":      e.PlanID,
		"fromAddress": e.FromAddress,
		"toAddress":   e.ToAddress,
	}
}
