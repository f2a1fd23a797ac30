package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// InventoryData holds a full inventory snapshot for export.
type InventoryData struct {
	Plans   []PlanRecord   `json:"plans"`
	Changes []ChangeRecord `json:"changes"`
	Edges   []EdgeRecord   `json:"edges"`
}

// collect gathers the export data set; planID narrows it to one plan,
// "" takes everything.
func collect(ctx context.Context, store Store, planID string) (*InventoryData, error) {
	var filter PlanFilter
	plans, err := store.ListPlans(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	if planID != "" {
		kept := plans[:0]
		for _, p := range plans {
			if p.ID == planID {
				kept = append(kept, p)
			}
		}
		plans = kept
	}

	changes, err := store.ListChanges(ctx, ChangeFilter{PlanID: planID})
	if err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}

	var edges []EdgeRecord
	for _, p := range plans {
		es, err := store.ListEdges(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("listing edges: %w", err)
		}
		edges = append(edges, es...)
	}

	data := &InventoryData{Plans: plans, Changes: changes, Edges: edges}
	if data.Plans == nil {
		data.Plans = []PlanRecord{}
	}
	if data.Changes == nil {
		data.Changes = []ChangeRecord{}
	}
	if data.Edges == nil {
		data.Edges = []EdgeRecord{}
	}
	return data, nil
}

// ExportJSON returns the inventory as a JSON string.
func ExportJSON(ctx context.Context, store Store, planID string) (string, error) {
	data, err := collect(ctx, store, planID)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// yamlChange mirrors ChangeRecord with the after document decoded, so
// the YAML rendering shows structured properties instead of raw JSON
// bytes.
type yamlChange struct {
	ID       string            `yaml:"id"`
	PlanID   string            `yaml:"plan_id"`
	Address  string            `yaml:"address"`
	Mode     string            `yaml:"mode"`
	Type     string            `yaml:"type"`
	Name     string            `yaml:"name"`
	Actions  []string          `yaml:"actions"`
	After    any               `yaml:"after,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

type yamlPlan struct {
	ID              string            `yaml:"id"`
	SourceFormat    string            `yaml:"source_format"`
	SourceFile      string            `yaml:"source_file,omitempty"`
	StackName       string            `yaml:"stack_name,omitempty"`
	Region          string            `yaml:"region,omitempty"`
	TemplateVersion string            `yaml:"template_version,omitempty"`
	Tags            map[string]string `yaml:"tags,omitempty"`
	ResourceCount   int               `yaml:"resource_count"`
	IngestedAt      string            `yaml:"ingested_at"`
}

type yamlEdge struct {
	PlanID      string `yaml:"plan_id"`
	FromAddress string `yaml:"from_address"`
	ToAddress   string `yaml:"to_address"`
}

// ExportYAML returns the inventory as a YAML string.
func ExportYAML(ctx context.Context, store Store, planID string) (string, error) {
	data, err := collect(ctx, store, planID)
	if err != nil {
		return "", err
	}

	doc := struct {
		Plans   []yamlPlan   `yaml:"plans"`
		Changes []yamlChange `yaml:"changes"`
		Edges   []yamlEdge   `yaml:"edges"`
	}{
		Plans:   make([]yamlPlan, 0, len(data.Plans)),
		Changes: make([]yamlChange, 0, len(data.Changes)),
		Edges:   make([]yamlEdge, 0, len(data.Edges)),
	}

	for _, p := range data.Plans {
		doc.Plans = append(doc.Plans, yamlPlan{
			ID:              p.ID,
			SourceFormat:    p.SourceFormat,
			SourceFile:      p.SourceFile,
			StackName:       p.StackName,
			Region:          p.Region,
			TemplateVersion: p.TemplateVersion,
			Tags:            p.Tags,
			ResourceCount:   p.ResourceCount,
			IngestedAt:      p.IngestedAt.Format(time.RFC3339),
		})
	}
	for _, c := range data.Changes {
		yc := yamlChange{
			ID:       c.ID,
			PlanID:   c.PlanID,
			Address:  c.Address,
			Mode:     c.Mode,
			Type:     c.Type,
			Name:     c.Name,
			Actions:  c.Actions,
			Metadata: c.Metadata,
		}
		if len(c.After) > 0 {
			var after any
			if err := json.Unmarshal(c.After, &after); err == nil {
				yc.After = after
			}
		}
		doc.Changes = append(doc.Changes, yc)
	}
	for _, e := range data.Edges {
		doc.Edges = append(doc.Edges, yamlEdge{PlanID: e.PlanID, FromAddress: e.FromAddress, ToAddress: e.ToAddress})
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExportDOT returns the dependency graph in Graphviz DOT format,
// nodes colored by their change action.
func ExportDOT(ctx context.Context, store Store, planID string) (string, error) {
	data, err := collect(ctx, store, planID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("digraph planbridge {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled];\n\n")

	for _, c := range data.Changes {
		label := fmt.Sprintf("%s\\n(%s)", c.Name, c.Type)
		b.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q];\n", c.Address, label, actionColor(c.Actions)))
	}

	b.WriteString("\n")

	for _, e := range data.Edges {
		b.WriteString(fmt.Sprintf("  %q -> %q [label=\"depends_on\"];\n", e.FromAddress, e.ToAddress))
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// ExportMermaid returns the dependency graph in Mermaid format.
func ExportMermaid(ctx context.Context, store Store, planID string) (string, error) {
	data, err := collect(ctx, store, planID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("graph LR\n")

	for _, c := range data.Changes {
		b.WriteString(fmt.Sprintf("  %s[\"%s (%s)\"]\n", mermaidSafeID(c.Address), c.Name, c.Type))
	}

	for _, e := range data.Edges {
		b.WriteString(fmt.Sprintf("  %s -->|depends_on| %s\n", mermaidSafeID(e.FromAddress), mermaidSafeID(e.ToAddress)))
	}

	return b.String(), nil
}

func actionColor(actions []string) string {
	switch strings.Join(actions, "|") {
	case "create":
		return "#A3E4D7"
	case "update":
		return "#F9E79F"
	case "delete":
		return "#F1948A"
	case "delete|create", "create|delete":
		return "#F5CBA7"
	default:
		return "#D5D8DC"
	}
}

func mermaidSafeID(id string) string {
	r := strings.NewReplacer(":", "_", ".", "_", "-", "_", "/", "_")
	return r.Replace(id)
}
