package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Marker delimits the final one-sentence answer in the damage and threat
// scenario templates.
const Marker = "!!!!"

var (
	fencedJSONPattern  = regexp.MustCompile("(?is)```json\\s*(\\{.*?\\})\\s*```")
	genericJSONPattern = regexp.MustCompile(`(?s)(\{.*\})`)
)

// ExtractBetweenMarkers pulls the text between the first and second
// occurrence of marker. No opening marker returns the whole trimmed text;
// no closing marker returns everything after the opening one. The model
// forgetting a marker should degrade output quality, not lose the record.
func ExtractBetweenMarkers(text, marker string) string {
	start := strings.Index(text, marker)
	if start == -1 {
		return strings.TrimSpace(text)
	}
	start += len(marker)
	end := strings.Index(text[start:], marker)
	if end == -1 {
		return strings.TrimSpace(text[start:])
	}
	return strings.TrimSpace(text[start : start+end])
}

// ExtractJSONBlock pulls a JSON object out of mixed model output.
//
// Strategy, in order:
//  1. fenced ```json ... ``` block
//  2. first { ... } span
//  3. the whole text as JSON
func ExtractJSONBlock(text string) (map[string]any, error) {
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		var out map[string]any
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, nil
		}
	}

	if m := genericJSONPattern.FindStringSubmatch(text); m != nil {
		var out map[string]any
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, nil
		}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err == nil {
		return out, nil
	}

	return nil, fmt.Errorf("could not extract a valid JSON block from model output")
}

// Accessors over the loosely typed maps ExtractJSONBlock produces. Models
// are inconsistent about types, so numbers accept both float64 and string
// digits, and lists accept both []any and a single string.

func GetString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func GetInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func GetStringList(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

func GetMap(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func GetMapList(m map[string]any, key string) []map[string]any {
	v, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(v))
	for _, item := range v {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}

// GetIntMap converts a {"safety": 2, ...} style score object into
// map[string]int, dropping entries that are not numeric.
func GetIntMap(m map[string]any, key string) map[string]int {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(v))
	for name, raw := range v {
		if f, ok := raw.(float64); ok {
			out[name] = int(f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
