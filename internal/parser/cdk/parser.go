package cdk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/planbridge/planbridge/internal/parser/cloudformation"
	"github.com/planbridge/planbridge/pkg/model"
)

// StackArtifactType is the manifest artifact type marking a
// synthesized stack.
const StackArtifactType = "aws:cloudformation:stack"

// Resource metadata markers stamped by the CDK synthesizer.
const (
	constructPathKey = "aws:cdk:path"
	logicalIDKey     = "aws:cdk:logicalId"
)

// manifestName is the single file that makes a directory a cloud
// assembly.
const manifestName = "manifest.json"

// Parser handles synthesized CDK output: single stack templates and
// whole cloud assemblies. It wraps the CloudFormation parser and
// re-tags its results, adding construct metadata where the assembly
// provides it. Instances are stateless and safe for concurrent reuse.
type Parser struct {
	cfn *cloudformation.Parser
}

func New() *Parser {
	return &Parser{cfn: cloudformation.New()}
}

func (p *Parser) Name() string {
	return "cdk"
}

// Supported claims hints that point into a cloud assembly or at a
// per-stack template.
func (p *Parser) Supported(hint string, content []byte) bool {
	return strings.Contains(hint, "cdk.out") || strings.HasSuffix(hint, ".template.json")
}

// Parse treats content as one synthesized stack template. CDK always
// emits CloudFormation-compatible JSON, so parsing delegates entirely
// to the CloudFormation parser; only the format tag changes. Errors
// propagate unchanged.
func (p *Parser) Parse(content []byte) (*model.Artifact, error) {
	art, err := p.cfn.Parse(content)
	if err != nil {
		return nil, err
	}
	return art.Retag(model.FormatCDK), nil
}

// ParseFile reads one synthesized template from disk and parses it.
func (p *Parser) ParseFile(path string) (*model.Artifact, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- callers resolve paths via parser.SafeResolvePath
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrIO, path, err)
	}
	return p.Parse(content)
}

type manifest struct {
	Version   string                      `json:"version"`
	Artifacts map[string]manifestArtifact `json:"artifacts"`
	Runtime   manifestRuntime             `json:"runtime"`
}

type manifestArtifact struct {
	Type        string             `json:"type"`
	Environment string             `json:"environment"`
	Properties  manifestProperties `json:"properties"`
}

type manifestProperties struct {
	TemplateFile string         `json:"templateFile"`
	Tags         map[string]any `json:"tags"`
}

type manifestRuntime struct {
	Libraries map[string]string `json:"libraries"`
}

// ParseOutput reads the cloud assembly at dir and parses every stack
// it declares. A stack that fails resolution is skipped and noted in
// the second return value, never propagated: one malformed stack must
// not block extraction of the others. The artifact list may
// legitimately be empty with a nil error; only an unreadable or
// undecodable manifest fails the whole call.
func (p *Parser) ParseOutput(dir string) ([]model.Artifact, []string, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(m.Artifacts))
	for k := range m.Artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var artifacts []model.Artifact
	var skipped []string
	for _, key := range keys {
		entry := m.Artifacts[key]
		if entry.Type != StackArtifactType {
			continue
		}
		art, err := p.resolveStack(dir, key, entry)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("stack %s: %v", key, err))
			continue
		}
		artifacts = append(artifacts, *art)
	}
	return artifacts, skipped, nil
}

// resolveStack loads and enriches one declared stack. Every failure
// here is recoverable from the caller's point of view.
func (p *Parser) resolveStack(dir, key string, entry manifestArtifact) (*model.Artifact, error) {
	if entry.Properties.TemplateFile == "" {
		return nil, fmt.Errorf("no templateFile declared")
	}

	art, err := p.cfn.ParseFile(filepath.Join(dir, entry.Properties.TemplateFile))
	if err != nil {
		return nil, err
	}
	out := art.Retag(model.FormatCDK)

	meta := out.Metadata
	tags := make(map[string]string, len(meta.Tags)+1+len(entry.Properties.Tags))
	for k, v := range meta.Tags {
		tags[k] = v
	}
	tags["stack-id"] = key
	for k, v := range entry.Properties.Tags {
		if s, ok := v.(string); ok {
			tags["tag:"+k] = s
		}
	}
	meta.Tags = tags
	meta.StackName = key
	if region, ok := environmentRegion(entry.Environment); ok {
		meta.Region = region
	}
	out.Metadata = meta

	resources := make([]model.Resource, len(out.Resources))
	copy(resources, out.Resources)
	for i := range resources {
		md := make(map[string]string, len(resources[i].Metadata)+2)
		for k, v := range resources[i].Metadata {
			md[k] = v
		}
		if path, ok := md[constructPathKey]; ok {
			md["construct_path"] = path
		}
		if lid, ok := md[logicalIDKey]; ok {
			md["logical_id"] = lid
		}
		resources[i].Metadata = md
	}
	out.Resources = resources
	return out, nil
}

// environmentRegion extracts the region segment from an environment
// string of the form aws://<account>/<region>.
func environmentRegion(env string) (string, bool) {
	rest, ok := strings.CutPrefix(env, "aws://")
	if !ok {
		return "", false
	}
	account, region, ok := strings.Cut(rest, "/")
	if !ok || account == "" || region == "" || strings.Contains(region, "/") {
		return "", false
	}
	return region, true
}

func readManifest(dir string) (*manifest, error) {
	path := filepath.Join(dir, manifestName)
	data, err := os.ReadFile(path) // #nosec G304 -- callers resolve paths via parser.SafeResolvePath
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrIO, path, err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", model.ErrParse, path, err)
	}
	return &m, nil
}
