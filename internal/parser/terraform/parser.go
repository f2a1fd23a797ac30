package terraform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/planbridge/planbridge/pkg/model"
)

// Parser reads Terraform plan JSON as emitted by `terraform show -json`.
// Plans already carry explicit change actions, so unlike the template
// parsers this one records what the plan intends to do: the real
// actions ride along in resource metadata while the artifact itself
// stays a plain resource inventory.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() string {
	return "terraform"
}

// Supported claims plan files by name or by shape. The plan envelope
// is stable across plan format majors: format_version always appears
// next to resource_changes or planned_values.
func (p *Parser) Supported(hint string, content []byte) bool {
	if strings.HasSuffix(hint, ".tfplan.json") {
		return true
	}
	return bytes.Contains(content, []byte(`"format_version"`)) &&
		(bytes.Contains(content, []byte(`"resource_changes"`)) ||
			bytes.Contains(content, []byte(`"planned_values"`)))
}

// tfPlan mirrors the subset of the plan representation we consume.
// Values under change.after are kept raw so numeric literals survive
// untouched.
type tfPlan struct {
	FormatVersion    string             `json:"format_version"`
	TerraformVersion string             `json:"terraform_version"`
	ResourceChanges  []tfResourceChange `json:"resource_changes"`
	PlannedValues    tfPlannedValues    `json:"planned_values"`
}

type tfResourceChange struct {
	Address      string   `json:"address"`
	Mode         string   `json:"mode"`
	Type         string   `json:"type"`
	ProviderName string   `json:"provider_name"`
	Change       tfChange `json:"change"`
}

type tfChange struct {
	Actions []string        `json:"actions"`
	After   json.RawMessage `json:"after"`
}

type tfPlannedValues struct {
	Outputs map[string]tfOutput `json:"outputs"`
}

type tfOutput struct {
	Value     json.RawMessage `json:"value"`
	Sensitive bool            `json:"sensitive"`
}

// Parse decodes one plan document. The root must be a JSON object,
// format_version is required and its major must be 0 or 1. Entries
// whose only action is no-op are dropped; everything else becomes a
// resource keyed by its address with the type prefix trimmed.
func (p *Parser) Parse(content []byte) (*model.Artifact, error) {
	trimmed := bytes.TrimLeftFunc(content, unicode.IsSpace)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: plan root is not a JSON object", model.ErrParse)
	}

	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var plan tfPlan
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after plan", model.ErrParse)
	}

	if plan.FormatVersion == "" {
		return nil, fmt.Errorf("%w: plan has no format_version", model.ErrMissingField)
	}
	if major, _, _ := strings.Cut(plan.FormatVersion, "."); major != "0" && major != "1" {
		return nil, fmt.Errorf("%w: plan format_version %s is not supported", model.ErrInvalidVersion, plan.FormatVersion)
	}

	resources := make([]model.Resource, 0, len(plan.ResourceChanges))
	for _, rc := range plan.ResourceChanges {
		if isNoOp(rc.Change.Actions) {
			continue
		}
		r, err := parseChange(rc)
		if err != nil {
			return nil, err
		}
		resources = append(resources, *r)
	}

	var outputs map[string]model.Output
	if len(plan.PlannedValues.Outputs) > 0 {
		outputs = make(map[string]model.Output, len(plan.PlannedValues.Outputs))
		for name, out := range plan.PlannedValues.Outputs {
			val, err := rawValue(out.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: output %q value: %v", model.ErrParse, name, err)
			}
			outputs[name] = model.Output{Value: val}
		}
	}

	tags := map[string]string{"format": "json"}
	if plan.TerraformVersion != "" {
		tags["terraform_version"] = plan.TerraformVersion
	}

	art := &model.Artifact{
		Format: model.FormatTerraform,
		Metadata: model.Metadata{
			Source:          "terraform",
			TemplateVersion: plan.FormatVersion,
			Tags:            tags,
		},
		Resources: resources,
		Outputs:   outputs,
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	return art, nil
}

// ParseFile reads a plan from disk and parses it.
func (p *Parser) ParseFile(path string) (*model.Artifact, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- callers resolve paths via parser.SafeResolvePath
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrIO, path, err)
	}
	return p.Parse(content)
}

func parseChange(rc tfResourceChange) (*model.Resource, error) {
	props, err := afterObject(rc.Change.After)
	if err != nil {
		return nil, fmt.Errorf("%w: change %s: %v", model.ErrParse, rc.Address, err)
	}

	meta := map[string]string{
		"actions": strings.Join(rc.Change.Actions, "|"),
	}
	if rc.ProviderName != "" {
		meta["provider"] = rc.ProviderName
	}
	if rc.Mode != "" {
		meta["mode"] = rc.Mode
	}

	return &model.Resource{
		ID:         strings.TrimPrefix(rc.Address, rc.Type+"."),
		Type:       rc.Type,
		Properties: props,
		Metadata:   meta,
	}, nil
}

// afterObject parses change.after, which is null for deletions and an
// object otherwise.
func afterObject(raw json.RawMessage) (model.Object, error) {
	if len(raw) == 0 {
		return model.Object{}, nil
	}
	v, err := model.FromJSON(raw)
	if err != nil {
		return nil, err
	}
	switch after := v.(type) {
	case model.Object:
		return after, nil
	case model.Null:
		return model.Object{}, nil
	default:
		return nil, fmt.Errorf("after is %T, not an object", v)
	}
}

func rawValue(raw json.RawMessage) (model.Value, error) {
	if len(raw) == 0 {
		return model.Null{}, nil
	}
	return model.FromJSON(raw)
}

func isNoOp(actions []string) bool {
	return len(actions) == 1 && actions[0] == "no-op"
}
