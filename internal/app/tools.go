package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	yaml "gopkg.in/yaml.v3"
)

// ToolSpec is one function exposed to the model, as written in a tools file.
// Parameters must be a JSON Schema object.
type ToolSpec struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
}

type toolsFile struct {
	Tools []ToolSpec `yaml:"tools" json:"tools"`
}

var toolNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// LoadTools reads tool definitions from a YAML or JSON file. The file is
// either a list of specs or an object with a "tools" list.
func LoadTools(path string) ([]openai.Tool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	specs, err := parseTools(b, filepath.Ext(path) == ".json")
	if err != nil {
		return nil, fmt.Errorf("tools %s: %w", path, err)
	}
	seen := map[string]bool{}
	for _, s := range specs {
		if !toolNameRe.MatchString(s.Name) {
			return nil, fmt.Errorf("tools %s: invalid name %q", path, s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("tools %s: duplicate name %q", path, s.Name)
		}
		seen[s.Name] = true
	}
	return EncodeTools(specs), nil
}

func parseTools(b []byte, isJSON bool) ([]ToolSpec, error) {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, nil
	}
	unmarshal := yaml.Unmarshal
	if isJSON {
		unmarshal = json.Unmarshal
	}
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "-") {
		var list []ToolSpec
		if err := unmarshal(b, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var f toolsFile
	if err := unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f.Tools, nil
}

// EncodeTools converts ToolSpec entries into OpenAI-compatible tools, sorted
// by name for reproducible requests.
func EncodeTools(specs []ToolSpec) []openai.Tool {
	sorted := append([]ToolSpec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	out := make([]openai.Tool, 0, len(sorted))
	for _, s := range sorted {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// ParseToolChoice maps a --tool-choice value onto the request field:
// "", "auto", "none" and "required" pass through as strings, anything else
// names a function to force.
func ParseToolChoice(v string) any {
	switch v = strings.TrimSpace(v); v {
	case "":
		return nil
	case "auto", "none", "required":
		return v
	}
	return openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: v}}
}
