package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/inventory"
	"github.com/planbridge/planbridge/pkg/model"
)

const tfPlan = `{
  "format_version": "1.2",
  "terraform_version": "1.7.0",
  "resource_changes": [
    {
      "address": "aws_instance.web",
      "mode": "managed",
      "type": "aws_instance",
      "provider_name": "registry.terraform.io/hashicorp/aws",
      "change": {"actions": ["create"], "after": {"ami": "ami-123"}}
    },
    {
      "address": "aws_vpc.main",
      "mode": "managed",
      "type": "aws_vpc",
      "provider_name": "registry.terraform.io/hashicorp/aws",
      "change": {"actions": ["create"], "after": {"cidr_block": "10.0.0.0/16"}}
    }
  ]
}`

const cfnTemplate = `{
  "AWSTemplateFormatVersion": "2010-09-09",
  "Resources": {
    "Main": {"Type": "AWS::EC2::VPC", "Properties": {"CidrBlock": "10.0.0.0/16"}},
    "Web": {"Type": "AWS::EC2::Instance", "DependsOn": "Main", "Properties": {"ImageId": "ami-123"}}
  }
}`

func newTestStore(t *testing.T) *inventory.SQLiteStore {
	t.Helper()
	store, err := inventory.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestIngestor(t *testing.T) (*Ingestor, *inventory.SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store, &config.Config{}, logger), store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSync_TerraformPlan(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "network.tfplan.json", tfPlan)

	result := ing.RunSync(ctx, Request{Path: path})
	if result.Err != nil {
		t.Fatalf("RunSync error: %v", result.Err)
	}
	if result.IngestID <= 0 {
		t.Error("expected positive ingest ID")
	}
	if result.Plans != 1 {
		t.Errorf("Plans = %d, want 1", result.Plans)
	}
	if result.Changes != 2 {
		t.Errorf("Changes = %d, want 2", result.Changes)
	}

	plan, err := store.GetPlan(ctx, "network_tfplan")
	if err != nil {
		t.Fatal(err)
	}
	if plan == nil {
		t.Fatal("expected plan network_tfplan")
	}
	if plan.SourceFormat != "terraform" {
		t.Errorf("SourceFormat = %q, want terraform", plan.SourceFormat)
	}
	if plan.ResourceCount != 2 {
		t.Errorf("ResourceCount = %d, want 2", plan.ResourceCount)
	}
	if !strings.HasSuffix(plan.SourceFile, "network.tfplan.json") {
		t.Errorf("SourceFile = %q", plan.SourceFile)
	}

	changes, _ := store.ListChanges(ctx, inventory.ChangeFilter{PlanID: "network_tfplan"})
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	// Terraform addresses are kept verbatim.
	if changes[0].Address != "aws_instance.web" {
		t.Errorf("first address = %q", changes[0].Address)
	}

	ingests, _ := store.ListIngests(ctx, 10)
	if len(ingests) != 1 {
		t.Fatalf("expected 1 ingest record, got %d", len(ingests))
	}
	if ingests[0].Status != "completed" {
		t.Errorf("ingest status = %q, want completed", ingests[0].Status)
	}
	if ingests[0].Source != "adhoc" {
		t.Errorf("ingest source = %q, want adhoc", ingests[0].Source)
	}
	if ingests[0].Plans != 1 || ingests[0].Changes != 2 {
		t.Errorf("ingest counts = %d/%d, want 1/2", ingests[0].Plans, ingests[0].Changes)
	}
}

func TestRunSync_CloudFormationEdges(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "stack.json", cfnTemplate)

	result := ing.RunSync(ctx, Request{Path: path})
	if result.Err != nil {
		t.Fatalf("RunSync error: %v", result.Err)
	}

	changes, _ := store.ListChanges(ctx, inventory.ChangeFilter{PlanID: "stack"})
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}

	edges, err := store.ListEdges(ctx, "stack")
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].FromAddress != "aws_ec2_instance.web" {
		t.Errorf("FromAddress = %q, want aws_ec2_instance.web", edges[0].FromAddress)
	}
	if edges[0].ToAddress != "aws_ec2_vpc.main" {
		t.Errorf("ToAddress = %q, want aws_ec2_vpc.main", edges[0].ToAddress)
	}
}

func TestRunSync_Assembly(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, dir, "manifest.json", `{
  "version": "36.0.0",
  "artifacts": {
    "WebStack": {
      "type": "aws:cloudformation:stack",
      "environment": "aws://123456789012/eu-west-1",
      "properties": {"templateFile": "WebStack.template.json"}
    },
    "ApiStack": {
      "type": "aws:cloudformation:stack",
      "environment": "aws://123456789012/eu-west-1",
      "properties": {"templateFile": "ApiStack.template.json"}
    }
  }
}`)
	writeFile(t, dir, "WebStack.template.json", cfnTemplate)
	writeFile(t, dir, "ApiStack.template.json", cfnTemplate)

	result := ing.RunSync(ctx, Request{Path: dir})
	if result.Err != nil {
		t.Fatalf("RunSync error: %v", result.Err)
	}
	if result.Plans != 2 {
		t.Errorf("Plans = %d, want 2", result.Plans)
	}
	if result.Changes != 4 {
		t.Errorf("Changes = %d, want 4", result.Changes)
	}

	// Plan IDs come from stack names.
	plan, _ := store.GetPlan(ctx, "webstack")
	if plan == nil {
		t.Fatal("expected plan webstack")
	}
	if plan.SourceFormat != "cdk" {
		t.Errorf("SourceFormat = %q, want cdk", plan.SourceFormat)
	}
	if plan.StackName != "WebStack" {
		t.Errorf("StackName = %q, want WebStack", plan.StackName)
	}
	if plan.Region != "eu-west-1" {
		t.Errorf("Region = %q, want eu-west-1", plan.Region)
	}
}

func TestRunSync_TemplateDirWarnings(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, dir, "good.template.json", cfnTemplate)
	writeFile(t, dir, "bad.template.json", "{oops")

	result := ing.RunSync(ctx, Request{Path: dir})
	if result.Err != nil {
		t.Fatalf("RunSync error: %v", result.Err)
	}
	if result.Plans != 1 {
		t.Errorf("Plans = %d, want 1", result.Plans)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want 1 note", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0], "bad.template.json") {
		t.Errorf("warning = %q", result.Warnings[0])
	}

	plan, _ := store.GetPlan(ctx, "good_template")
	if plan == nil {
		t.Fatal("expected plan good_template")
	}
	if !strings.HasSuffix(plan.SourceFile, "good.template.json") {
		t.Errorf("SourceFile = %q", plan.SourceFile)
	}
}

func TestRunSync_MissingPath(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	result := ing.RunSync(ctx, Request{Path: "/nonexistent/plan.tfplan.json"})
	if result.Err == nil {
		t.Fatal("expected error for missing path")
	}
	if !errors.Is(result.Err, model.ErrIO) {
		t.Errorf("err = %v, want ErrIO", result.Err)
	}

	ingests, _ := store.ListIngests(ctx, 10)
	if len(ingests) != 1 {
		t.Fatalf("expected 1 ingest, got %d", len(ingests))
	}
	if ingests[0].Status != "failed" {
		t.Errorf("ingest status = %q, want failed", ingests[0].Status)
	}
	if ingests[0].Error == "" {
		t.Error("ingest error should be recorded")
	}
}

func TestRunSync_SourceName(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "network.tfplan.json", tfPlan)
	_ = ing.RunSync(ctx, Request{Source: "prod-network", Path: path})

	ingests, _ := store.ListIngests(ctx, 10)
	if ingests[0].Source != "prod-network" {
		t.Errorf("source = %q, want prod-network", ingests[0].Source)
	}
}

func TestRunSync_Reingest(t *testing.T) {
	ing, store := newTestIngestor(t)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "network.tfplan.json", tfPlan)

	_ = ing.RunSync(ctx, Request{Path: path})
	_ = ing.RunSync(ctx, Request{Path: path})

	// Same input upserts into the same plan, nothing duplicates.
	plans, _ := store.ListPlans(ctx, inventory.PlanFilter{})
	if len(plans) != 1 {
		t.Errorf("expected 1 plan after re-ingest, got %d", len(plans))
	}
	changes, _ := store.ListChanges(ctx, inventory.ChangeFilter{})
	if len(changes) != 2 {
		t.Errorf("expected 2 changes after re-ingest, got %d", len(changes))
	}
}

func TestRunAllConfigured(t *testing.T) {
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	path := writeFile(t, t.TempDir(), "network.tfplan.json", tfPlan)
	cfg := &config.Config{Sources: map[string]string{
		"b-network": path,
		"a-broken":  "/nonexistent/path",
	}}
	ing := New(store, cfg, logger)

	results := ing.RunAllConfigured(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Sources run sorted by name.
	if results[0].Err == nil {
		t.Error("a-broken should fail")
	}
	if results[1].Err != nil {
		t.Errorf("b-network failed: %v", results[1].Err)
	}
	if results[1].Plans != 1 {
		t.Errorf("b-network plans = %d, want 1", results[1].Plans)
	}
}

func TestRunAsync(t *testing.T) {
	ing, store := newTestIngestor(t)

	path := writeFile(t, t.TempDir(), "network.tfplan.json", tfPlan)

	ingestID, err := ing.RunAsync(context.Background(), Request{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if ingestID <= 0 {
		t.Error("expected positive ingest ID")
	}

	// Wait for the async ingest to complete (poll with sleep)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		ingests, _ := store.ListIngests(ctx, 10)
		if len(ingests) > 0 && ingests[0].Status != "running" {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for async ingest to complete")
		case <-time.After(50 * time.Millisecond):
		}
	}

	ingests, _ := store.ListIngests(ctx, 10)
	found := false
	for _, rec := range ingests {
		if rec.ID == ingestID {
			found = true
			if rec.Status != "completed" {
				t.Errorf("async ingest status = %q, want completed", rec.Status)
			}
			if rec.Plans != 1 || rec.Changes != 2 {
				t.Errorf("async ingest counts = %d/%d, want 1/2", rec.Plans, rec.Changes)
			}
		}
	}
	if !found {
		t.Error("ingest record not found")
	}
}

func TestIsRunning(t *testing.T) {
	ing, _ := newTestIngestor(t)

	if ing.IsRunning() {
		t.Error("ingestor should not be running initially")
	}
	if len(ing.Running()) != 0 {
		t.Errorf("Running() = %v, want empty", ing.Running())
	}
}

func TestCancelNotRunning(t *testing.T) {
	ing, _ := newTestIngestor(t)

	if ing.Cancel(42) {
		t.Error("Cancel of unknown id should report false")
	}
}

func TestDerivePlanID(t *testing.T) {
	tests := []struct {
		name     string
		art      model.Artifact
		fallback string
		want     string
	}{
		{
			name: "stack name wins",
			art:  model.Artifact{Metadata: model.Metadata{StackName: "WebStack"}},
			want: "webstack",
		},
		{
			name:     "file name fallback",
			art:      model.Artifact{},
			fallback: "/work/plan.tfplan.json",
			want:     "plan_tfplan",
		},
		{
			name: "source file tag preferred over fallback",
			art: model.Artifact{Metadata: model.Metadata{
				Tags: map[string]string{"source_file": "/work/out/web.template.json"},
			}},
			fallback: "/work/out",
			want:     "web_template",
		},
		{
			name: "odd characters sanitized",
			art:  model.Artifact{Metadata: model.Metadata{StackName: "Web Stack!"}},
			want: "web_stack_",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := make(map[string]bool)
			if got := derivePlanID(used, &tt.art, tt.fallback); got != tt.want {
				t.Errorf("derivePlanID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDerivePlanIDCollision(t *testing.T) {
	used := make(map[string]bool)
	art := model.Artifact{Metadata: model.Metadata{StackName: "Web"}}

	first := derivePlanID(used, &art, "")
	second := derivePlanID(used, &art, "")
	third := derivePlanID(used, &art, "")

	if first != "web" || second != "web-2" || third != "web-3" {
		t.Errorf("ids = %q, %q, %q", first, second, third)
	}
}

func TestDependencyEdges(t *testing.T) {
	art := &model.Artifact{
		Format: model.FormatCloudFormation,
		Resources: []model.Resource{
			{ID: "Main", Type: "AWS::EC2::VPC"},
			{ID: "Web", Type: "AWS::EC2::Instance", DependsOn: []string{"Main", "Ghost"}},
		},
	}

	edges := dependencyEdges("p1", art)
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge (dangling dep skipped), got %d", len(edges))
	}
	if edges[0].FromAddress != "aws_ec2_instance.web" || edges[0].ToAddress != "aws_ec2_vpc.main" {
		t.Errorf("edge = %s -> %s", edges[0].FromAddress, edges[0].ToAddress)
	}
	if edges[0].ID != "p1/aws_ec2_instance.web->aws_ec2_vpc.main" {
		t.Errorf("edge id = %q", edges[0].ID)
	}
}
