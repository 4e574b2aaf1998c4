package nodes

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/flowforge/workflow-engine/engine"
)

// dataCleanerNode applies a declared list of text-cleaning operations
// to every string field in the input, in the order configured.
type dataCleanerNode struct{}

func (n *dataCleanerNode) Type() string { return "data-cleaner" }

var dataCleanerOps = map[string]bool{
	"trim": true, "normalize-case": true, "remove-special-chars": true,
	"remove-duplicates": true, "validate-json": true, "mask-pii": true,
}

func (n *dataCleanerNode) Validate(config map[string]interface{}) engine.ValidationResult {
	ops, _ := config["operations"].([]interface{})
	var errs []string
	for _, o := range ops {
		s, ok := o.(string)
		if !ok || !dataCleanerOps[s] {
			errs = append(errs, fmt.Sprintf("unknown data-cleaner operation %v", o))
		}
	}
	if len(errs) > 0 {
		return engine.ValidationResult{Errors: errs}
	}
	return engine.ValidationResult{Valid: true}
}

var piiPattern = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b|\b\d{3}-\d{2}-\d{4}\b`)
var specialCharsPattern = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

func (n *dataCleanerNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	rawOps, _ := input.Metadata.NodeConfig["operations"].([]interface{})
	caseType, _ := input.Metadata.NodeConfig["caseType"].(string)

	cleaned := map[string]interface{}{}
	var piiFound []string
	var applied []string
	seen := map[string]bool{}

	for k, v := range input.Data {
		s, isString := v.(string)
		if !isString {
			cleaned[k] = v
			continue
		}
		for _, o := range rawOps {
			op, _ := o.(string)
			switch op {
			case "trim":
				s = strings.TrimSpace(s)
			case "normalize-case":
				if caseType == "upper" {
					s = strings.ToUpper(s)
				} else {
					s = strings.ToLower(s)
				}
			case "remove-special-chars":
				s = specialCharsPattern.ReplaceAllString(s, "")
			case "remove-duplicates":
				if seen[s] {
					s = ""
				}
				seen[s] = true
			case "validate-json":
				var js interface{}
				if err := json.Unmarshal([]byte(s), &js); err != nil {
					return engine.NodeOutput{}, fmt.Errorf("data-cleaner: field %q is not valid JSON: %w", k, err)
				}
			case "mask-pii":
				if piiPattern.MatchString(s) {
					piiFound = append(piiFound, k)
					s = piiPattern.ReplaceAllString(s, "[REDACTED]")
				}
			}
			if !containsStr(applied, op) {
				applied = append(applied, op)
			}
		}
		cleaned[k] = s
	}

	return engine.NodeOutput{Data: map[string]interface{}{
		"cleaned":          cleaned,
		"operationsApplied": applied,
		"piiFound":         piiFound,
	}}, nil
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// jsonValidatorNode checks required fields and field types against the
// input, annotating or rejecting it.
type jsonValidatorNode struct{}

func (n *jsonValidatorNode) Type() string { return "json-validator" }

func (n *jsonValidatorNode) Validate(config map[string]interface{}) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}

func (n *jsonValidatorNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	strict, _ := cfg["strict"].(bool)
	required, _ := cfg["requiredFields"].([]interface{})
	fieldTypes, _ := cfg["fieldTypes"].(map[string]interface{})

	var errs []string
	for _, f := range required {
		name, _ := f.(string)
		if _, ok := input.Data[name]; !ok {
			errs = append(errs, fmt.Sprintf("missing required field %q", name))
		}
	}
	for name, wantType := range fieldTypes {
		val, ok := input.Data[name]
		if !ok {
			continue
		}
		want, _ := wantType.(string)
		if !jsonTypeMatches(val, want) {
			errs = append(errs, fmt.Sprintf("field %q expected type %q", name, want))
		}
	}

	valid := len(errs) == 0
	if strict && !valid {
		return engine.NodeOutput{}, fmt.Errorf("json-validator: %s", strings.Join(errs, "; "))
	}

	out := make(map[string]interface{}, len(input.Data)+1)
	for k, v := range input.Data {
		out[k] = v
	}
	out["_validation"] = map[string]interface{}{"valid": valid, "errors": errs}
	return engine.NodeOutput{Data: out}, nil
}

func jsonTypeMatches(v interface{}, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// transformerNode remaps input fields into a new object shape via a
// dot-path mapping table, or, without mappings, interpolates the
// {{...}} placeholders of an expression string into {"result": ...}.
// No other expression language is evaluated.
type transformerNode struct{}

func (n *transformerNode) Type() string { return "transformer" }

func (n *transformerNode) Validate(config map[string]interface{}) engine.ValidationResult {
	_, hasMappings := config["mappings"].(map[string]interface{})
	_, hasExpr := config["expression"].(string)
	if !hasMappings && !hasExpr {
		return engine.ValidationResult{Errors: []string{"transformer requires mappings or expression"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *transformerNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	if mappings, ok := cfg["mappings"].(map[string]interface{}); ok {
		out := map[string]interface{}{}
		for outKey, pathVal := range mappings {
			path, _ := pathVal.(string)
			if v, ok := engine.MemoryGet(input.Data, path); ok {
				out[outKey] = v
			}
		}
		return engine.NodeOutput{Data: out}, nil
	}
	expr, _ := cfg["expression"].(string)
	resolved := engine.Interpolate(expr, input.Data)
	return engine.NodeOutput{Data: map[string]interface{}{"result": resolved}}, nil
}

// fileUploadNode parses an inline file payload (csv/json/txt) into a
// structured preview. PDF content is passed through as opaque text,
// matching the reference's lack of a real PDF parser.
type fileUploadNode struct{}

func (n *fileUploadNode) Type() string { return "file-upload" }

var fileUploadFormats = map[string]bool{"csv": true, "json": true, "txt": true, "pdf": true}

func (n *fileUploadNode) Validate(config map[string]interface{}) engine.ValidationResult {
	format, _ := config["fileFormat"].(string)
	if !fileUploadFormats[format] {
		return engine.ValidationResult{Errors: []string{fmt.Sprintf("unsupported fileFormat %q", format)}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *fileUploadNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	content, _ := cfg["fileContent"].(string)
	name, _ := cfg["fileName"].(string)
	format, _ := cfg["fileFormat"].(string)

	var parsed interface{}
	var err error
	switch format {
	case "json":
		var v interface{}
		err = json.Unmarshal([]byte(content), &v)
		parsed = v
	case "csv":
		r := csv.NewReader(strings.NewReader(content))
		rows, rerr := r.ReadAll()
		err = rerr
		parsed = rows
	default:
		parsed = content
	}
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("file-upload: parse %q as %s: %w", name, format, err)
	}

	preview := content
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return engine.NodeOutput{Data: map[string]interface{}{
		"fileName": name,
		"parsed":   parsed,
		"preview":  preview,
	}}, nil
}
