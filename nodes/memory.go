package nodes

import (
	"context"
	"fmt"

	"github.com/flowforge/workflow-engine/engine"
)

// memoryWriteNode sets, appends to, or increments a dot-path addressed
// memory value.
type memoryWriteNode struct{}

func (n *memoryWriteNode) Type() string { return "memory-write" }

var memoryWriteOps = map[string]bool{"set": true, "append": true, "increment": true}

func (n *memoryWriteNode) Validate(config map[string]interface{}) engine.ValidationResult {
	key, _ := config["memoryKey"].(string)
	if key == "" {
		return engine.ValidationResult{Errors: []string{"memory-write requires memoryKey"}}
	}
	op, _ := config["operation"].(string)
	if !memoryWriteOps[op] {
		return engine.ValidationResult{Errors: []string{fmt.Sprintf("unknown memory-write operation %q", op)}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *memoryWriteNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	key, _ := cfg["memoryKey"].(string)
	op, _ := cfg["operation"].(string)
	includeInOutput, _ := cfg["includeInOutput"].(bool)

	value := resolveWriteValue(cfg, input.Data)

	var result interface{}
	switch op {
	case "set":
		result = value
	case "append":
		existing, _ := nctx.GetMemory(key)
		list, _ := existing.([]interface{})
		result = append(list, value)
	case "increment":
		by := 1.0
		if v, ok := cfg["incrementBy"].(float64); ok {
			by = v
		}
		existing, _ := nctx.GetMemory(key)
		cur, _ := existing.(float64)
		result = cur + by
	}

	if nctx.SetMemory != nil {
		nctx.SetMemory(key, result)
	}

	out := make(map[string]interface{}, len(input.Data)+1)
	for k, v := range input.Data {
		out[k] = v
	}
	out["_memoryWrite"] = map[string]interface{}{"memoryKey": key, "operation": op, "value": result}
	if includeInOutput {
		out[key] = result
	}
	return engine.NodeOutput{Data: out}, nil
}

func resolveWriteValue(cfg map[string]interface{}, data map[string]interface{}) interface{} {
	if v, ok := cfg["value"]; ok {
		return v
	}
	if path, ok := cfg["valuePath"].(string); ok && path != "" {
		v, _ := engine.MemoryGet(data, path)
		return v
	}
	if tmpl, ok := cfg["valueTemplate"].(string); ok && tmpl != "" {
		return engine.Interpolate(tmpl, data)
	}
	return nil
}

// memoryReadNode reads a dot-path addressed memory value into the
// node's output, optionally requiring it to exist.
type memoryReadNode struct{}

func (n *memoryReadNode) Type() string { return "memory-read" }

func (n *memoryReadNode) Validate(config map[string]interface{}) engine.ValidationResult {
	key, _ := config["memoryKey"].(string)
	if key == "" {
		return engine.ValidationResult{Errors: []string{"memory-read requires memoryKey"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *memoryReadNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	key, _ := cfg["memoryKey"].(string)
	outputKey, _ := cfg["outputKey"].(string)
	if outputKey == "" {
		outputKey = key
	}
	required, _ := cfg["required"].(bool)
	defaultValue := cfg["defaultValue"]

	value, found := nctx.GetMemory(key)
	if !found {
		if required {
			return engine.NodeOutput{}, fmt.Errorf("memory-read: required key %q not found", key)
		}
		value = defaultValue
	}

	out := make(map[string]interface{}, len(input.Data)+1)
	for k, v := range input.Data {
		out[k] = v
	}
	out[outputKey] = value
	out["_memoryRead"] = map[string]interface{}{"memoryKey": key, "found": found}
	return engine.NodeOutput{Data: out}, nil
}
