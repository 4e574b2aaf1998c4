package nodes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowforge/workflow-engine/engine"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// codeNode runs tenant-authored code inside a Starlark interpreter: no
// filesystem, network, or process access is ever exposed to the
// script, per §9's deny-by-default capability surface. The script
// receives its node input as a global `input` dict and must assign a
// global `output` dict; anything else it leaves behind is discarded.
type codeNode struct{}

func (n *codeNode) Type() string { return "code" }

func (n *codeNode) Validate(config map[string]interface{}) engine.ValidationResult {
	code, _ := config["code"].(string)
	if code == "" {
		return engine.ValidationResult{Errors: []string{"code node requires code"}}
	}
	if _, err := syntax.Parse("<node>", code, 0); err != nil {
		return engine.ValidationResult{Errors: []string{fmt.Sprintf("code node: syntax error: %v", err)}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *codeNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	code, _ := input.Metadata.NodeConfig["code"].(string)
	timeoutMs := 10000
	if v, ok := input.Metadata.NodeConfig["timeoutMs"].(float64); ok && v > 0 && int(v) < timeoutMs {
		timeoutMs = int(v)
	}

	inputVal, err := toStarlark(input.Data)
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("code node: convert input: %w", err)
	}

	thread := &starlark.Thread{Name: nctx.NodeID}
	done := make(chan struct{})
	timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		thread.Cancel("code node exceeded timeoutMs")
	})
	defer timer.Stop()

	var globals starlark.StringDict
	go func() {
		globals, err = starlark.ExecFile(thread, "<node>", code, starlark.StringDict{"input": inputVal})
		close(done)
	}()

	select {
	case <-ctx.Done():
		thread.Cancel("parent context canceled")
		<-done
		return engine.NodeOutput{}, ctx.Err()
	case <-done:
	}

	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("code node: %w", err)
	}

	outputVal, ok := globals["output"]
	if !ok {
		return engine.NodeOutput{}, fmt.Errorf("code node: script did not assign a global `output`")
	}
	out, err := fromStarlark(outputVal)
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("code node: convert output: %w", err)
	}
	outMap, ok := out.(map[string]interface{})
	if !ok {
		return engine.NodeOutput{}, fmt.Errorf("code node: output must be a dict")
	}
	return engine.NodeOutput{Data: outMap}, nil
}

// toStarlark converts a JSON-shaped Go value into its Starlark
// equivalent, the reverse of fromStarlark.
func toStarlark(v interface{}) (starlark.Value, error) {
	switch t := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(t), nil
	case string:
		return starlark.String(t), nil
	case float64:
		return starlark.Float(t), nil
	case int:
		return starlark.MakeInt(t), nil
	case []interface{}:
		elems := make([]starlark.Value, 0, len(t))
		for _, e := range t {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sv, err := toStarlark(t[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// fromStarlark converts a Starlark value back into JSON-shaped Go data.
func fromStarlark(v starlark.Value) (interface{}, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.String:
		return string(t), nil
	case starlark.Int:
		i, _ := t.Int64()
		return float64(i), nil
	case starlark.Float:
		return float64(t), nil
	case *starlark.List:
		out := make([]interface{}, 0, t.Len())
		for i := 0; i < t.Len(); i++ {
			item, err := fromStarlark(t.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := map[string]interface{}{}
		for _, item := range t.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			val, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}
