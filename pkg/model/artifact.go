package model

import (
	"fmt"
	"strings"
)

// Format identifies the ecosystem an artifact was parsed from.
type Format string

// Source formats. FormatPulumi is reserved: the model carries it but
// no parser produces it yet.
const (
	FormatTerraform      Format = "terraform"
	FormatCloudFormation Format = "cloudformation"
	FormatCDK            Format = "cdk"
	FormatPulumi         Format = "pulumi"
)

// Artifact is the canonical in-memory form of one parsed IaC input.
// Parsers build it incrementally, validate it exactly once, and hand
// it to the normalizer as an immutable value.
type Artifact struct {
	Format     Format               `json:"format"`
	Metadata   Metadata             `json:"metadata"`
	Resources  []Resource           `json:"resources"`
	Outputs    map[string]Output    `json:"outputs,omitempty"`
	Parameters map[string]Parameter `json:"parameters,omitempty"`
}

// Resource is one declared resource. ID is unique within the artifact
// and DependsOn entries reference sibling IDs. Properties are kept
// verbatim and unresolved; intrinsic resolution happens in the
// normalizer.
type Resource struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Properties Object            `json:"properties,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Metadata records artifact provenance.
type Metadata struct {
	Source          string            `json:"source,omitempty"`
	TemplateVersion string            `json:"template_version,omitempty"`
	StackName       string            `json:"stack_name,omitempty"`
	Region          string            `json:"region,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// Output is a named artifact output. Export reports whether the
// template declared an export block for it.
type Output struct {
	Value       Value  `json:"value"`
	Description string `json:"description,omitempty"`
	Export      bool   `json:"export,omitempty"`
}

// Parameter is a named template parameter.
type Parameter struct {
	Type          string  `json:"type"`
	Default       Value   `json:"default,omitempty"`
	Description   string  `json:"description,omitempty"`
	AllowedValues []Value `json:"allowed_values,omitempty"`
}

// NormalizedType rewrites the resource's vendor type to its canonical
// form.
func (r Resource) NormalizedType() string {
	return NormalizeType(r.Type)
}

// NormalizeType rewrites a type matching exactly Vendor::Service::Resource
// (two :: delimiters, three non-empty segments) to
// vendor_service_resource, all lowercase. Any other shape passes
// through unchanged, so the rewrite is idempotent on already-canonical
// types. Semantic renames live in the normalizer's override table,
// not here.
func NormalizeType(t string) string {
	parts := strings.Split(t, "::")
	if len(parts) != 3 {
		return t
	}
	for _, p := range parts {
		if p == "" {
			return t
		}
	}
	return strings.ToLower(strings.Join(parts, "_"))
}

// Validate rejects duplicate resource ids and dangling DependsOn
// references. Parsers run it exactly once, after building the
// artifact and before handing it over.
func (a *Artifact) Validate() error {
	ids := make(map[string]struct{}, len(a.Resources))
	for _, r := range a.Resources {
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("%w: duplicate resource id %q", ErrInvalidResource, r.ID)
		}
		ids[r.ID] = struct{}{}
	}
	for _, r := range a.Resources {
		for _, dep := range r.DependsOn {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: resource %q depends on unknown id %q", ErrInvalidResource, r.ID, dep)
			}
		}
	}
	return nil
}

// GetResource returns the resource with the given id.
func (a *Artifact) GetResource(id string) (*Resource, bool) {
	for i := range a.Resources {
		if a.Resources[i].ID == id {
			return &a.Resources[i], true
		}
	}
	return nil, false
}

// ResourcesByType returns the resources whose raw or normalized type
// matches t.
func (a *Artifact) ResourcesByType(t string) []Resource {
	var out []Resource
	for _, r := range a.Resources {
		if r.Type == t || r.NormalizedType() == t {
			out = append(out, r)
		}
	}
	return out
}

// CountByType returns a frequency map over normalized types.
func (a *Artifact) CountByType() map[string]int {
	out := make(map[string]int, len(a.Resources))
	for _, r := range a.Resources {
		out[r.NormalizedType()]++
	}
	return out
}

// Retag returns a copy of the artifact with Format replaced. Wrapping
// parsers re-tag by producing a new value; the parsed artifact is
// never mutated in place.
func (a *Artifact) Retag(f Format) *Artifact {
	out := *a
	out.Format = f
	return &out
}
