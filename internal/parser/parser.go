package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/planbridge/planbridge/internal/parser/cdk"
	"github.com/planbridge/planbridge/internal/parser/cloudformation"
	"github.com/planbridge/planbridge/internal/parser/terraform"
	"github.com/planbridge/planbridge/pkg/model"
)

// Parser turns raw artifact content into the common model.
type Parser interface {
	// Name returns the parser identifier (e.g. "cloudformation").
	Name() string

	// Supported reports whether this parser claims the input. hint is
	// usually a file path; content may be nil when only a name is
	// known.
	Supported(hint string, content []byte) bool

	// Parse decodes one artifact. The returned artifact has already
	// passed Validate.
	Parse(content []byte) (*model.Artifact, error)
}

// defaultParsers in dispatch order. CDK claims assembly paths before
// the CloudFormation parser sees their template files, and the
// Terraform sniff runs before the bare-.json retry below so plan JSON
// is not mistaken for an empty template.
func defaultParsers() []Parser {
	return []Parser{cdk.New(), cloudformation.New(), terraform.New()}
}

// ParseArtifact dispatches content to the first parser that claims
// it. The chosen parser's errors propagate as-is: dispatch selects a
// format, it does not guarantee the content is well-formed. A bare
// .json hint that no parser claims gets one CloudFormation attempt;
// if that fails too the input is unsupported.
func ParseArtifact(content []byte, hint string) (*model.Artifact, error) {
	for _, p := range defaultParsers() {
		if p.Supported(hint, content) {
			return p.Parse(content)
		}
	}

	if strings.HasSuffix(hint, ".json") {
		if art, err := cloudformation.New().Parse(content); err == nil {
			return art, nil
		}
	}

	return nil, fmt.Errorf("%w: no parser for input (hint %q)", model.ErrUnsupportedFormat, hint)
}

// ParseArtifactFile reads path and dispatches on its content with the
// path itself as hint.
func ParseArtifactFile(path string) (*model.Artifact, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- callers resolve paths via SafeResolvePath
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrIO, path, err)
	}
	return ParseArtifact(content, path)
}

// LoadPath parses whatever lives at path: a single artifact file, a
// CDK cloud assembly, or a directory of synthesized templates.
// Directory loads are best-effort: per-file failures land in the
// second return value while the rest of the directory still parses.
func LoadPath(path string) ([]model.Artifact, []string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stat %s: %v", model.ErrIO, path, err)
	}

	if !info.IsDir() {
		art, err := ParseArtifactFile(path)
		if err != nil {
			return nil, nil, err
		}
		return []model.Artifact{*art}, nil, nil
	}

	if cdk.IsOutputDir(path) {
		return cdk.New().ParseOutput(path)
	}

	templates, err := cdk.FindTemplates(path)
	if err != nil {
		return nil, nil, err
	}
	if len(templates) == 0 {
		return nil, nil, fmt.Errorf("%w: no templates under %s", model.ErrUnsupportedFormat, path)
	}

	var artifacts []model.Artifact
	var skipped []string
	for _, tpl := range templates {
		art, err := ParseArtifactFile(tpl)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("template %s: %v", filepath.Base(tpl), err))
			continue
		}
		// Several templates land in one load, so each artifact keeps
		// its own file as a provenance tag.
		if art.Metadata.Tags == nil {
			art.Metadata.Tags = make(map[string]string)
		}
		art.Metadata.Tags["source_file"] = tpl
		artifacts = append(artifacts, *art)
	}
	return artifacts, skipped, nil
}

// SafeResolvePath resolves a user-provided path to an absolute path
// and ensures it doesn't escape via symlinks or ".." components.
func SafeResolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %v", model.ErrIO, path, err)
	}

	// EvalSymlinks resolves symlinks and cleans ".." components against
	// the real filesystem.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %v", model.ErrIO, path, err)
	}

	return resolved, nil
}
