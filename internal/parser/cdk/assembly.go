package cdk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/planbridge/planbridge/pkg/model"
)

// Template suffixes a cloud assembly may contain. CDK emits JSON; the
// YAML suffix is recognized for listing but such templates do not
// parse.
var templateSuffixes = []string{".template.json", ".template.yaml"}

// RuntimeUnknown is the placeholder summary for assemblies that
// declare no runtime libraries.
const RuntimeUnknown = "unknown"

// AssemblyInfo describes a cloud assembly without parsing its stacks.
type AssemblyInfo struct {
	Version        string `json:"version"`
	RuntimeSummary string `json:"runtime_summary"`
}

// AssemblyMetadata reads the manifest at dir and reports its schema
// version and a human-readable summary of the declared runtime
// libraries.
func (p *Parser) AssemblyMetadata(dir string) (*AssemblyInfo, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	return &AssemblyInfo{
		Version:        m.Version,
		RuntimeSummary: runtimeSummary(m.Runtime.Libraries),
	}, nil
}

func runtimeSummary(libs map[string]string) string {
	if len(libs) == 0 {
		return RuntimeUnknown
	}
	names := make([]string, 0, len(libs))
	for name := range libs {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, fmt.Sprintf("%s@%s", name, libs[name]))
	}
	return strings.Join(pairs, ", ")
}

// IsOutputDir reports whether dir looks like a cloud assembly: an
// existence check of manifest.json, nothing more.
func IsOutputDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifestName))
	return err == nil
}

// FindTemplates lists the template files in dir by suffix, sorted,
// without parsing them.
func FindTemplates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", model.ErrIO, dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, suffix := range templateSuffixes {
			if strings.HasSuffix(e.Name(), suffix) {
				out = append(out, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
