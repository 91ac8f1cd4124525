package corpus

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Velocidex/yaml/v2"
)

var (
	name_regex = regexp.MustCompile(`(?m)^name:\s*"?([^"\r\n]+?)"?\s*$`)
	type_regex = regexp.MustCompile(`(?m)^type:\s*"?([^"\r\n]+?)"?\s*$`)

	// Within a tools block entries start a new tool with "- name:" or
	// are just a bare tool name.
	tool_name_regex = regexp.MustCompile(`^\s*-\s+name:\s*"?([^"\r\n]+?)"?\s*$`)
	tool_bare_regex = regexp.MustCompile(`^\s*-\s+"?([^:"\r\n]+?)"?\s*$`)
	tool_url_regex  = regexp.MustCompile(`^\s+url:\s*"?([^"\r\n]+?)"?\s*$`)
	tools_start     = regexp.MustCompile(`^tools:\s*$`)
	top_level_key   = regexp.MustCompile(`^[a-zA-Z_]+:`)
)

// parseArtifact decodes one artifact definition. Returns the record
// and a warning string - a nil record means the document was skipped
// entirely and the warning says why. A non empty warning with a non
// nil record means the document was only partially understood.
func parseArtifact(data []byte, path string) (*ArtifactRecord, string) {
	record := &ArtifactRecord{}

	err := yaml.Unmarshal(data, record)
	if err == nil && record.Name != "" {
		record.Path = path
		record.Raw = data
		record.Type = normalizeType(record.Type)
		return record, ""
	}

	// The document is not well formed YAML (or hides its name in a
	// way the decoder does not understand). Fall back to pattern
	// matching - many real world definitions are hand written and
	// merely YAML-ish.
	record = &ArtifactRecord{
		Path: path,
		Raw:  data,
	}

	text := string(data)
	m := name_regex.FindStringSubmatch(text)
	if m == nil {
		reason := "no name field found"
		if err != nil {
			reason = err.Error()
		}
		return nil, fmt.Sprintf("%v: unparsable artifact: %v", path, reason)
	}
	record.Name = strings.TrimSpace(m[1])

	m = type_regex.FindStringSubmatch(text)
	if m != nil {
		record.Type = m[1]
	}
	record.Type = normalizeType(record.Type)

	record.Tools = scanToolsBlock(text)

	return record, fmt.Sprintf(
		"%v: recovered by pattern matching: %v", path, err)
}

// scanToolsBlock extracts tool references from the tools: section of
// a document that failed structured decoding.
func scanToolsBlock(text string) []ToolReference {
	var result []ToolReference
	in_tools := false

	for _, line := range strings.Split(text, "\n") {
		if tools_start.MatchString(line) {
			in_tools = true
			continue
		}

		if !in_tools {
			continue
		}

		// A new top level key ends the tools block.
		if top_level_key.MatchString(line) {
			break
		}

		m := tool_name_regex.FindStringSubmatch(line)
		if m == nil {
			m = tool_bare_regex.FindStringSubmatch(line)
		}
		if m != nil {
			name := strings.TrimSpace(m[1])
			if name != "" {
				result = append(result, ToolReference{Name: name})
			}
			continue
		}

		// A url line belongs to the most recent tool.
		if m := tool_url_regex.FindStringSubmatch(line); m != nil &&
			len(result) > 0 {
			result[len(result)-1].Url = strings.TrimSpace(m[1])
		}
	}

	return result
}

// The platform treats artifact types case insensitively with client
// as the default.
func normalizeType(artifact_type string) string {
	artifact_type = strings.ToLower(strings.TrimSpace(artifact_type))
	if artifact_type == "" {
		return "client"
	}
	return artifact_type
}
