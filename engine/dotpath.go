package engine

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MemoryGet resolves a dot-path (e.g. "user.profile.name") against a
// map[string]interface{} using gjson, the same dot-path addressing
// §3's "memory: map<string, any> ... dot-path addressable" calls for.
func MemoryGet(m map[string]interface{}, path string) (interface{}, bool) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// MemorySet writes value at a dot-path inside m, creating intermediate
// objects as needed, and returns the updated map.
func MemorySet(m map[string]interface{}, path string, value interface{}) map[string]interface{} {
	raw, err := json.Marshal(m)
	if err != nil {
		raw = []byte("{}")
	}
	updated, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		out := make(map[string]interface{}, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[path] = value
		return out
	}
	var out map[string]interface{}
	if err := json.Unmarshal(updated, &out); err != nil {
		return m
	}
	return out
}

// Interpolate resolves `{{path.to.value}}` references inside a template
// string against data, leaving unresolved references as literal text,
// per §4.5's template interpolation rule.
func Interpolate(template string, data map[string]interface{}) string {
	var out []byte
	raw, _ := json.Marshal(data)
	i := 0
	for i < len(template) {
		if i+1 < len(template) && template[i] == '{' && template[i+1] == '{' {
			end := indexFrom(template, "}}", i+2)
			if end == -1 {
				out = append(out, template[i:]...)
				break
			}
			path := trimSpace(template[i+2 : end])
			res := gjson.GetBytes(raw, path)
			if res.Exists() {
				out = append(out, res.String()...)
			} else {
				out = append(out, template[i:end+2]...)
			}
			i = end + 2
			continue
		}
		out = append(out, template[i])
		i++
	}
	return string(out)
}

func indexFrom(s, sub string, from int) int {
	if from > len(s) {
		return -1
	}
	idx := -1
	for j := from; j+len(sub) <= len(s); j++ {
		if s[j:j+len(sub)] == sub {
			idx = j
			break
		}
	}
	return idx
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
