package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/ingest"
	"github.com/planbridge/planbridge/internal/inventory"
)

const tfPlanBody = `{
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

const cfnBody = `{
  "AWSTemplateFormatVersion": "2010-09-09",
  "Resources": {
    "Main": {"Type": "AWS::EC2::VPC", "Properties": {"CidrBlock": "10.0.0.0/16"}},
    "Web": {"Type": "AWS::EC2::Instance", "DependsOn": "Main", "Properties": {"ImageId": "ami-123"}}
  }
}`

func newServerWithConfig(t *testing.T, cfg *config.Config) (*httptest.Server, *inventory.SQLiteStore) {
	t.Helper()
	store, err := inventory.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ingestor := ingest.New(store, cfg, logger)
	s := New(store, ingestor, cfg, logger)

	mux := http.NewServeMux()
	RegisterRoutes(mux, s)

	ts := httptest.NewServer(s.authMiddleware(mux))
	t.Cleanup(ts.Close)

	return ts, store
}

func newTestServer(t *testing.T, authToken string) (*httptest.Server, *inventory.SQLiteStore) {
	t.Helper()
	return newServerWithConfig(t, &config.Config{
		Server: config.ServerConfig{Listen: ":0", AuthToken: authToken},
	})
}

func seedInventory(t *testing.T, store *inventory.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	plans := []inventory.PlanRecord{
		{ID: "p1", SourceFormat: "terraform", SourceFile: "/srv/p1.tfplan.json",
			TemplateVersion: "1.2", Tags: map[string]string{}, ResourceCount: 2, IngestedAt: now},
		{ID: "p2", SourceFormat: "cloudformation", SourceFile: "/srv/stack.json",
			StackName: "WebStack", Region: "eu-west-1", Tags: map[string]string{}, ResourceCount: 1, IngestedAt: now},
	}
	changes := []inventory.ChangeRecord{
		{ID: "p1/aws_instance.web", PlanID: "p1", Address: "aws_instance.web", Mode: "managed",
			Type: "aws_instance", Name: "web", Actions: []string{"create"}, After: json.RawMessage(`{"ami":"ami-123"}`)},
		{ID: "p1/aws_vpc.main", PlanID: "p1", Address: "aws_vpc.main", Mode: "managed",
			Type: "aws_vpc", Name: "main", Actions: []string{"create"}, After: json.RawMessage(`{}`)},
		{ID: "p2/aws_s3_bucket.logs", PlanID: "p2", Address: "aws_s3_bucket.logs", Mode: "managed",
			Type: "aws_s3_bucket", Name: "logs", Actions: []string{"create"}, After: json.RawMessage(`{}`)},
	}
	edges := []inventory.EdgeRecord{
		{ID: "p1/aws_instance.web->aws_vpc.main", PlanID: "p1",
			FromAddress: "aws_instance.web", ToAddress: "aws_vpc.main"},
	}

	for _, p := range plans {
		if err := store.UpsertPlan(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range changes {
		if err := store.UpsertChange(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range edges {
		if err := store.UpsertEdge(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestNormalize_Terraform(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/v1/normalize?filename=plan.tfplan.json",
		"application/json", strings.NewReader(tfPlanBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var plan struct {
		FormatVersion    string            `json:"format_version"`
		TerraformVersion string            `json:"terraform_version"`
		ResourceChanges  []json.RawMessage `json:"resource_changes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		t.Fatal(err)
	}
	if plan.FormatVersion != "1.0" {
		t.Errorf("format_version = %q, want 1.0", plan.FormatVersion)
	}
	if plan.TerraformVersion != "1.5.0" {
		t.Errorf("terraform_version = %q, want 1.5.0", plan.TerraformVersion)
	}
	if len(plan.ResourceChanges) != 2 {
		t.Errorf("resource_changes = %d, want 2", len(plan.ResourceChanges))
	}
}

func TestNormalize_CloudFormationSniffed(t *testing.T) {
	ts, _ := newTestServer(t, "")

	// No filename hint: dispatch sniffs the version field.
	resp, err := http.Post(ts.URL+"/api/v1/normalize", "application/json", strings.NewReader(cfnBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var plan struct {
		SourceFormat    string `json:"source_format"`
		ResourceChanges []struct {
			Address string `json:"address"`
		} `json:"resource_changes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		t.Fatal(err)
	}
	if plan.SourceFormat != "cloudformation" {
		t.Errorf("source_format = %q, want cloudformation", plan.SourceFormat)
	}
	if len(plan.ResourceChanges) != 2 {
		t.Fatalf("resource_changes = %d, want 2", len(plan.ResourceChanges))
	}
	if plan.ResourceChanges[1].Address != "aws_ec2_instance.web" {
		t.Errorf("address = %q, want aws_ec2_instance.web", plan.ResourceChanges[1].Address)
	}
}

func TestNormalize_EmptyBody(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/v1/normalize", "application/json", strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestNormalize_ParseError(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/v1/normalize?filename=stack.yaml",
		"application/yaml", strings.NewReader("Resources: [unclosed"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var payload map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload["class"] != "parse_error" {
		t.Errorf("class = %q, want parse_error", payload["class"])
	}
}

func TestNormalize_UnsupportedFormat(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/v1/normalize", "text/plain", strings.NewReader("plain text"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var payload map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload["class"] != "unsupported_format" {
		t.Errorf("class = %q, want unsupported_format", payload["class"])
	}
}

func TestGetPlans(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/plans")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var plans []inventory.PlanRecord
	if err := json.NewDecoder(resp.Body).Decode(&plans); err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 {
		t.Errorf("plans = %d, want 2", len(plans))
	}
}

func TestGetPlans_FilterByFormat(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/plans?format=terraform")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var plans []inventory.PlanRecord
	_ = json.NewDecoder(resp.Body).Decode(&plans)
	if len(plans) != 1 {
		t.Fatalf("terraform plans = %d, want 1", len(plans))
	}
	if plans[0].ID != "p1" {
		t.Errorf("plan id = %q, want p1", plans[0].ID)
	}
}

func TestGetPlanByID(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/plans/p2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var plan inventory.PlanRecord
	_ = json.NewDecoder(resp.Body).Decode(&plan)
	if plan.ID != "p2" || plan.StackName != "WebStack" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestGetPlanByID_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/api/v1/plans/nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeletePlan(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/plans/p1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	plan, _ := store.GetPlan(context.Background(), "p1")
	if plan != nil {
		t.Error("plan p1 should be deleted")
	}
	changes, _ := store.ListChanges(context.Background(), inventory.ChangeFilter{PlanID: "p1"})
	if len(changes) != 0 {
		t.Errorf("changes should cascade, got %d", len(changes))
	}
}

func TestDeletePlan_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, "")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/plans/ghost", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetChanges(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/changes?plan=p1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var changes []inventory.ChangeRecord
	_ = json.NewDecoder(resp.Body).Decode(&changes)
	if len(changes) != 2 {
		t.Errorf("p1 changes = %d, want 2", len(changes))
	}
}

func TestGetChanges_FilterByType(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/changes?type=aws_vpc")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var changes []inventory.ChangeRecord
	_ = json.NewDecoder(resp.Body).Decode(&changes)
	if len(changes) != 1 {
		t.Fatalf("aws_vpc changes = %d, want 1", len(changes))
	}
	if changes[0].Address != "aws_vpc.main" {
		t.Errorf("address = %q", changes[0].Address)
	}
}

func TestGetEdges(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/edges?plan=p1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var edges []inventory.EdgeRecord
	_ = json.NewDecoder(resp.Body).Decode(&edges)
	if len(edges) != 1 {
		t.Errorf("edges = %d, want 1", len(edges))
	}
}

func TestGetEdges_MissingPlanParam(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/v1/edges")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetStats(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var stats map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&stats)
	if stats["plans"].(float64) != 2 {
		t.Errorf("plans = %v, want 2", stats["plans"])
	}
	if stats["changes"].(float64) != 3 {
		t.Errorf("changes = %v, want 3", stats["changes"])
	}
	if stats["edges"].(float64) != 1 {
		t.Errorf("edges = %v, want 1", stats["edges"])
	}
}

func TestGetIngests_Empty(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/v1/ingests")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var ingests []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&ingests); err != nil {
		t.Fatalf("expected JSON array, got decode error: %v", err)
	}
	if len(ingests) != 0 {
		t.Errorf("ingests = %d, want 0", len(ingests))
	}
}

func TestGetIngestStatus(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/v1/ingest/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var status map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&status)
	if status["running"] != false {
		t.Errorf("running = %v, want false", status["running"])
	}
}

func TestTriggerIngest_AdHocPath(t *testing.T) {
	ts, store := newTestServer(t, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "network.tfplan.json")
	if err := os.WriteFile(path, []byte(tfPlanBody), 0o600); err != nil {
		t.Fatal(err)
	}

	body := strings.NewReader(`{"path":"` + path + `"}`)
	resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var trigger map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&trigger)
	if trigger["ingest_id"].(float64) <= 0 {
		t.Errorf("ingest_id = %v, want > 0", trigger["ingest_id"])
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
			t.Fatal("timed out waiting for async ingest")
		case <-time.After(50 * time.Millisecond):
		}
	}

	plan, _ := store.GetPlan(context.Background(), "network_tfplan")
	if plan == nil {
		t.Error("expected plan network_tfplan after ingest")
	}
}

func TestTriggerIngest_Validation(t *testing.T) {
	ts, _ := newTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"both source and path", `{"source":"x","path":"/srv/plan.json"}`},
		{"relative path", `{"path":"relative/plan.json"}`},
		{"unknown source", `{"source":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close() //nolint:errcheck // test cleanup

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestTriggerIngest_BadJSON(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReadOnlyMode(t *testing.T) {
	ts, store := newServerWithConfig(t, &config.Config{
		Server: config.ServerConfig{Listen: ":0", ReadOnly: true},
	})
	seedInventory(t, store)

	// Reads still work.
	resp, err := http.Get(ts.URL + "/api/v1/plans")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close() //nolint:errcheck // test cleanup
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET plans status = %d, want 200", resp.StatusCode)
	}

	// The ingest route is not registered at all.
	resp, err = http.Post(ts.URL+"/api/v1/ingest", "application/json", strings.NewReader(`{"source":"all"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close() //nolint:errcheck // test cleanup
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST ingest status = %d, want 404", resp.StatusCode)
	}

	// The plans path exists for GET, so DELETE yields 405.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/plans/p1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close() //nolint:errcheck // test cleanup
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("DELETE plan status = %d, want 405", resp.StatusCode)
	}
}

func TestExportJSONEndpoint(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/export/json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "planbridge-plans.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["plans"]; !ok {
		t.Error("missing plans key in export")
	}
}

func TestExportYAMLEndpoint(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/export/yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "planbridge-plans.yaml") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestExportDOTEndpoint(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/export/dot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "planbridge-plans.dot") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestExportMermaidEndpoint(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/export/mermaid")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "planbridge-plans.mmd") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

// Auth middleware tests

func TestAuth_NoTokenConfigured(t *testing.T) {
	ts, store := newTestServer(t, "")
	seedInventory(t, store)

	// No token = open access
	resp, err := http.Get(ts.URL + "/api/v1/plans")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (no auth required)", resp.StatusCode)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	ts, store := newTestServer(t, "secret-token-123")
	seedInventory(t, store)

	req, _ := http.NewRequest("GET", ts.URL+"/api/v1/plans", nil)
	req.Header.Set("Authorization", "Bearer secret-token-123")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	ts, _ := newTestServer(t, "secret-token-123")

	req, _ := http.NewRequest("GET", ts.URL+"/api/v1/plans", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	ts, _ := newTestServer(t, "secret-token-123")

	resp, err := http.Get(ts.URL + "/api/v1/plans")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuth_HealthzBypassesAuth(t *testing.T) {
	ts, _ := newTestServer(t, "secret-token-123")

	// healthz is not under /api/ so it should not require auth
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (healthz bypasses auth)", resp.StatusCode)
	}
}
