package normalizer

import (
	"strings"

	"github.com/planbridge/planbridge/pkg/model"
)

// Normalizer folds parsed artifacts into the canonical plan shape.
// It is stateless: one instance may be shared across goroutines, and
// the produced plan shares no mutable state with its source artifact.
type Normalizer struct{}

func New() *Normalizer {
	return &Normalizer{}
}

// Normalize is total: it never fails, and a resource it cannot fully
// resolve is still emitted best-effort. The plan models a single
// point-in-time artifact rather than a diff, so every change carries
// a synthetic create with a null before state; real plan actions, if
// the source had any, stay in change metadata.
func (n *Normalizer) Normalize(a *model.Artifact) *model.NormalizedPlan {
	plan := &model.NormalizedPlan{
		FormatVersion:   model.PlanFormatVersion,
		SourceFormat:    a.Format,
		Metadata:        copyMetadata(a.Metadata),
		ResourceChanges: make([]model.ResourceChange, 0, len(a.Resources)),
	}
	for _, r := range a.Resources {
		plan.ResourceChanges = append(plan.ResourceChanges, n.normalizeResource(a.Format, r))
	}
	return plan
}

func (n *Normalizer) normalizeResource(format model.Format, r model.Resource) model.ResourceChange {
	ntype := r.NormalizedType()

	after := make(model.Object, len(r.Properties))
	for key, val := range r.Properties {
		after[NormalizeKey(ntype, key)] = ResolveValue(val)
	}

	return model.ResourceChange{
		Address: Address(format, ntype, r.ID),
		Mode:    model.ModeManaged,
		Type:    ntype,
		Name:    r.ID,
		Change: model.ChangeAction{
			Actions:      []string{model.ActionCreate},
			Before:       model.Null{},
			After:        after,
			AfterUnknown: model.Object{},
		},
		Metadata: copyStringMap(r.Metadata),
	}
}

// Address derives the stable change address. Terraform and Pulumi ids
// are already machine names and pass through verbatim; template
// logical ids are sanitized first.
func Address(format model.Format, ntype, id string) string {
	if format == model.FormatTerraform || format == model.FormatPulumi {
		return ntype + "." + id
	}
	return ntype + "." + Sanitize(id)
}

// Sanitize lowercases id and replaces every rune outside [a-z0-9_-]
// with _. Total, deterministic, idempotent.
func Sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func copyMetadata(m model.Metadata) model.Metadata {
	out := m
	out.Tags = copyStringMap(m.Tags)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
