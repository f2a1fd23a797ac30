package cloudformation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/planbridge/planbridge/pkg/model"
)

// AcceptedTemplateVersion is the only template format version the
// parser accepts when one is declared.
const AcceptedTemplateVersion = "2010-09-09"

const versionField = "AWSTemplateFormatVersion"

// Parser parses raw CloudFormation JSON templates into Artifacts.
// Templates are decoded strictly as JSON; YAML templates are
// unsupported and fail here regardless of how they were dispatched.
// The zero value is ready to use and safe for concurrent reuse.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Name() string {
	return "cloudformation"
}

// Supported claims YAML-suffixed hints (the parse then fails inside
// Parse, dispatch only selects the format) and any content whose
// first document key is the template version field.
func (p *Parser) Supported(hint string, content []byte) bool {
	switch strings.ToLower(filepath.Ext(hint)) {
	case ".yaml", ".yml":
		return true
	}
	return startsWithVersionField(content)
}

// startsWithVersionField reports whether the first key of the
// document is AWSTemplateFormatVersion.
func startsWithVersionField(content []byte) bool {
	s := bytes.TrimLeft(content, " \t\r\n")
	if len(s) > 0 && s[0] == '{' {
		s = bytes.TrimLeft(s[1:], " \t\r\n")
	}
	if len(s) > 0 && s[0] == '"' {
		s = s[1:]
	}
	return bytes.HasPrefix(s, []byte(versionField))
}

type template struct {
	AWSTemplateFormatVersion json.RawMessage            `json:"AWSTemplateFormatVersion"`
	Description              string                     `json:"Description"`
	Resources                map[string]json.RawMessage `json:"Resources"`
	Outputs                  map[string]json.RawMessage `json:"Outputs"`
	Parameters               map[string]json.RawMessage `json:"Parameters"`
}

type templateResource struct {
	Type       string                     `json:"Type"`
	Properties json.RawMessage            `json:"Properties"`
	DependsOn  dependsOn                  `json:"DependsOn"`
	Metadata   map[string]json.RawMessage `json:"Metadata"`
	Condition  string                     `json:"Condition"`
}

type templateOutput struct {
	Value       json.RawMessage `json:"Value"`
	Description string          `json:"Description"`
	Export      json.RawMessage `json:"Export"`
}

type templateParameter struct {
	Type          string          `json:"Type"`
	Default       json.RawMessage `json:"Default"`
	Description   string          `json:"Description"`
	AllowedValues json.RawMessage `json:"AllowedValues"`
}

// dependsOn accepts both the single-string and the list form of a
// DependsOn declaration and flattens to an ordered id list.
type dependsOn []string

func (d *dependsOn) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*d = dependsOn{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*d = many
	return nil
}

// Parse converts one raw JSON template into a validated Artifact. It
// is pure: no I/O, no panics on malformed input, every failure is a
// typed error.
func (p *Parser) Parse(content []byte) (*model.Artifact, error) {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: template root is not a JSON object", model.ErrParse)
	}

	var tpl template
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&tpl); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after template", model.ErrParse)
	}

	version, err := parseVersion(tpl.AWSTemplateFormatVersion)
	if err != nil {
		return nil, err
	}

	resources := make([]model.Resource, 0, len(tpl.Resources))
	for _, id := range sortedKeys(tpl.Resources) {
		r, err := parseResource(id, tpl.Resources[id])
		if err != nil {
			return nil, err
		}
		resources = append(resources, *r)
	}

	outputs := make(map[string]model.Output, len(tpl.Outputs))
	for _, name := range sortedKeys(tpl.Outputs) {
		o, err := parseOutput(name, tpl.Outputs[name])
		if err != nil {
			return nil, err
		}
		outputs[name] = *o
	}

	params := make(map[string]model.Parameter, len(tpl.Parameters))
	for _, name := range sortedKeys(tpl.Parameters) {
		prm, err := parseParameter(name, tpl.Parameters[name])
		if err != nil {
			return nil, err
		}
		params[name] = *prm
	}

	tags := map[string]string{"format": "json"}
	meta := model.Metadata{TemplateVersion: version, Tags: tags}
	if tpl.Description != "" {
		meta.Source = tpl.Description
		tags["description"] = tpl.Description
	}

	art := &model.Artifact{
		Format:     model.FormatCloudFormation,
		Metadata:   meta,
		Resources:  resources,
		Outputs:    outputs,
		Parameters: params,
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	return art, nil
}

// ParseFile reads a template from disk and parses it.
func (p *Parser) ParseFile(path string) (*model.Artifact, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- callers resolve paths via parser.SafeResolvePath
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrIO, path, err)
	}
	return p.Parse(content)
}

func parseVersion(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v != AcceptedTemplateVersion {
		return "", fmt.Errorf("%w: template version %s is not %q", model.ErrInvalidVersion, raw, AcceptedTemplateVersion)
	}
	return v, nil
}

func parseResource(id string, raw json.RawMessage) (*model.Resource, error) {
	var tr templateResource
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: resource %q: %v", model.ErrParse, id, err)
	}
	if tr.Type == "" {
		return nil, fmt.Errorf("%w: resource %q has no Type", model.ErrMissingField, id)
	}

	props := model.Object{}
	if len(tr.Properties) > 0 {
		v, err := model.FromJSON(tr.Properties)
		if err != nil {
			return nil, fmt.Errorf("%w: resource %q properties: %v", model.ErrParse, id, err)
		}
		switch t := v.(type) {
		case model.Object:
			props = t
		case model.Null:
			// tolerated, same as absent
		default:
			return nil, fmt.Errorf("%w: resource %q properties must be an object", model.ErrParse, id)
		}
	}

	meta := make(map[string]string, len(tr.Metadata)+1)
	for _, k := range sortedKeys(tr.Metadata) {
		meta[k] = stringifyMeta(tr.Metadata[k])
	}
	if tr.Condition != "" {
		meta["condition"] = tr.Condition
	}

	return &model.Resource{
		ID:         id,
		Type:       tr.Type,
		Properties: props,
		DependsOn:  tr.DependsOn,
		Metadata:   meta,
	}, nil
}

func parseOutput(name string, raw json.RawMessage) (*model.Output, error) {
	var to templateOutput
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&to); err != nil {
		return nil, fmt.Errorf("%w: output %q: %v", model.ErrParse, name, err)
	}
	if len(to.Value) == 0 {
		return nil, fmt.Errorf("%w: output %q has no Value", model.ErrMissingField, name)
	}
	val, err := model.FromJSON(to.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: output %q value: %v", model.ErrParse, name, err)
	}
	return &model.Output{
		Value:       val,
		Description: to.Description,
		Export:      blockPresent(to.Export),
	}, nil
}

func parseParameter(name string, raw json.RawMessage) (*model.Parameter, error) {
	var tp templateParameter
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tp); err != nil {
		return nil, fmt.Errorf("%w: parameter %q: %v", model.ErrParse, name, err)
	}
	if tp.Type == "" {
		return nil, fmt.Errorf("%w: parameter %q has no Type", model.ErrMissingField, name)
	}

	prm := &model.Parameter{Type: tp.Type, Description: tp.Description}
	if len(tp.Default) > 0 {
		v, err := model.FromJSON(tp.Default)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q default: %v", model.ErrParse, name, err)
		}
		prm.Default = v
	}
	if len(tp.AllowedValues) > 0 {
		v, err := model.FromJSON(tp.AllowedValues)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q allowed values: %v", model.ErrParse, name, err)
		}
		arr, ok := v.(model.Array)
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q allowed values must be an array", model.ErrParse, name)
		}
		prm.AllowedValues = arr
	}
	return prm, nil
}

// blockPresent reports whether an optional block was declared, with
// any value other than null.
func blockPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// stringifyMeta flattens a metadata value to a string: strings keep
// their value, everything else keeps its compact JSON text.
func stringifyMeta(raw json.RawMessage) string {
	v, err := model.FromJSON(raw)
	if err != nil {
		return string(raw)
	}
	if s, ok := v.(model.String); ok {
		return string(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// sortedKeys keeps resource, output and parameter handling
// deterministic; JSON object order is not preserved by the decoder.
func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
