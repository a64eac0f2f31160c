package skills

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
)

// ManifestName is the file each skill directory must contain.
const ManifestName = "skill.json"

// Manifest describes one executable skill. Args elements may embed
// {placeholder} references resolved from the model-supplied arguments;
// an element whose placeholder has no value is dropped from the argv,
// which is how optional flags stay optional.
type Manifest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Command     string                 `json:"command"`
	Args        []string               `json:"args,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Sensitive   bool                   `json:"sensitive,omitempty"`
	TimeoutSec  int                    `json:"timeout_sec,omitempty"`
}

var reSkillName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func loadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Name == "" {
		return Manifest{}, fmt.Errorf("%s: name is required", path)
	}
	if !reSkillName.MatchString(m.Name) {
		return Manifest{}, fmt.Errorf("%s: invalid skill name %q", path, m.Name)
	}
	if m.Command == "" {
		return Manifest{}, fmt.Errorf("%s: command is required", path)
	}
	return m, nil
}

// requiredParams reads the "required" list out of the JSON-schema
// parameters block. Both []string and the []interface{} a json.Unmarshal
// produces are accepted.
func (m Manifest) requiredParams() []string {
	if m.Parameters == nil {
		return nil
	}
	switch req := m.Parameters["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var rePlaceholder = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// expandArgs substitutes {placeholder} references in the argv template.
// Elements with an unresolved placeholder are dropped entirely.
func expandArgs(tmpl []string, args map[string]interface{}) []string {
	out := make([]string, 0, len(tmpl))
	for _, elem := range tmpl {
		dropped := false
		expanded := rePlaceholder.ReplaceAllStringFunc(elem, func(ph string) string {
			key := ph[1 : len(ph)-1]
			v, ok := args[key]
			if !ok || v == nil {
				dropped = true
				return ""
			}
			return stringifyArg(v)
		})
		if dropped {
			continue
		}
		out = append(out, expanded)
	}
	return out
}

func stringifyArg(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
