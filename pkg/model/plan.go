package model

import "encoding/json"

// Envelope literals for the normalized plan and its terraform-style
// projection. Template formats declare desired state only, so the
// projection carries a fixed pseudo terraform_version.
const (
	PlanFormatVersion    = "1.0"
	PlanTerraformVersion = "1.5.0"
)

// ModeManaged is the only resource mode the normalizer emits.
const ModeManaged = "managed"

// Change actions as they appear in Terraform plan JSON.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionRead   = "read"
	ActionNoop   = "no-op"
)

// NormalizedPlan is the canonical target representation every source
// format translates into. Downstream engines consume this and never
// see the source format's own schema.
type NormalizedPlan struct {
	FormatVersion   string           `json:"format_version"`
	SourceFormat    Format           `json:"source_format"`
	Metadata        Metadata         `json:"metadata"`
	ResourceChanges []ResourceChange `json:"resource_changes"`
}

// ResourceChange is one resource in a normalized plan. Address is a
// deterministic function of the resource id, its normalized type and
// the source format; Name keeps the id verbatim.
type ResourceChange struct {
	Address  string            `json:"address"`
	Mode     string            `json:"mode"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Change   ChangeAction      `json:"change"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChangeAction holds the planned actions and resulting state. The
// normalizer models a single point-in-time artifact, not a diff, so
// Actions is always the synthetic create with a null before.
type ChangeAction struct {
	Actions      []string `json:"actions"`
	Before       Value    `json:"before"`
	After        Object   `json:"after"`
	AfterUnknown Object   `json:"after_unknown"`
}

type tfPlanEnvelope struct {
	FormatVersion    string           `json:"format_version"`
	TerraformVersion string           `json:"terraform_version"`
	ResourceChanges  []ResourceChange `json:"resource_changes"`
	SourceFormat     Format           `json:"source_format"`
}

// ToTerraformJSON renders the fixed Terraform-plan-style envelope:
// format version literal, fixed tool version literal, resource
// changes, source format.
func (p *NormalizedPlan) ToTerraformJSON() ([]byte, error) {
	env := tfPlanEnvelope{
		FormatVersion:    p.FormatVersion,
		TerraformVersion: PlanTerraformVersion,
		ResourceChanges:  p.ResourceChanges,
		SourceFormat:     p.SourceFormat,
	}
	if env.ResourceChanges == nil {
		env.ResourceChanges = []ResourceChange{}
	}
	return json.Marshal(env)
}

// CreatedResources returns the changes whose actions include create.
func (p *NormalizedPlan) CreatedResources() []ResourceChange {
	var out []ResourceChange
	for _, rc := range p.ResourceChanges {
		for _, a := range rc.Change.Actions {
			if a == ActionCreate {
				out = append(out, rc)
				break
			}
		}
	}
	return out
}

// CountByType returns a frequency map over normalized type strings.
func (p *NormalizedPlan) CountByType() map[string]int {
	out := make(map[string]int, len(p.ResourceChanges))
	for _, rc := range p.ResourceChanges {
		out[rc.Type]++
	}
	return out
}
