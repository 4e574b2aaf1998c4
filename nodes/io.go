package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowforge/workflow-engine/engine"
)

// storageNode persists its input under memory["storage.<key>"] when
// persistToExecutionContext is set; it always echoes the stored value
// on output so downstream nodes can chain off it directly too.
type storageNode struct{}

func (n *storageNode) Type() string { return "storage" }

func (n *storageNode) Validate(config map[string]interface{}) engine.ValidationResult {
	key, _ := config["storageKey"].(string)
	if key == "" {
		return engine.ValidationResult{Errors: []string{"storage node requires storageKey"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *storageNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	key, _ := input.Metadata.NodeConfig["storageKey"].(string)
	persist, _ := input.Metadata.NodeConfig["persistToExecutionContext"].(bool)
	if persist && nctx.SetMemory != nil {
		nctx.SetMemory("storage."+key, input.Data)
	}
	return engine.NodeOutput{Data: map[string]interface{}{"storageKey": key, "stored": input.Data}}, nil
}

// logNode writes a structured log line through the node's Logger and
// reports what it logged on output for downstream inspection/testing.
type logNode struct{}

func (n *logNode) Type() string { return "log" }

func (n *logNode) Validate(config map[string]interface{}) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}

func (n *logNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	level, _ := input.Metadata.NodeConfig["level"].(string)
	if level == "" {
		level = "info"
	}
	message, _ := input.Metadata.NodeConfig["message"].(string)
	if message == "" {
		message = "log node"
	} else {
		message = engine.Interpolate(message, input.Data)
	}
	now := time.Now().UTC()
	if nctx.Logger != nil {
		nctx.Logger.Info(message, "level", level, "nodeId", nctx.NodeID)
	}
	return engine.NodeOutput{Data: map[string]interface{}{
		"logged": true, "level": level, "message": message, "timestamp": now.Format(time.RFC3339),
	}}, nil
}

// httpRequestNode issues an outbound HTTP call built from its config,
// templating the URL and body against the node's input.
type httpRequestNode struct {
	client *http.Client
}

func (n *httpRequestNode) Type() string { return "http-request" }

var httpMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true}

func (n *httpRequestNode) Validate(config map[string]interface{}) engine.ValidationResult {
	method, _ := config["method"].(string)
	if !httpMethods[strings.ToUpper(method)] {
		return engine.ValidationResult{Errors: []string{fmt.Sprintf("unsupported http method %q", method)}}
	}
	url, _ := config["url"].(string)
	if url == "" {
		return engine.ValidationResult{Errors: []string{"http-request requires url"}}
	}
	return engine.ValidationResult{Valid: true}
}

func (n *httpRequestNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	cfg := input.Metadata.NodeConfig
	method := strings.ToUpper(cfg["method"].(string))
	url := engine.Interpolate(cfg["url"].(string), input.Data)

	var bodyReader io.Reader
	if bodyVal, ok := cfg["body"]; ok {
		switch b := bodyVal.(type) {
		case string:
			bodyReader = strings.NewReader(engine.Interpolate(b, input.Data))
		default:
			raw, _ := json.Marshal(b)
			bodyReader = bytes.NewReader(raw)
		}
	}

	timeoutMs := 30000
	if v, ok := cfg["timeoutMs"].(float64); ok {
		timeoutMs = int(v)
	}
	reqCtx, cancel := contextWithTimeoutMs(ctx, timeoutMs)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("http-request: build request: %w", err)
	}
	if headers, ok := cfg["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	client := n.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("http-request: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.NodeOutput{}, fmt.Errorf("http-request: read response: %w", err)
	}

	var parsedBody interface{} = string(respBody)
	var asJSON interface{}
	if json.Unmarshal(respBody, &asJSON) == nil {
		parsedBody = asJSON
	}

	return engine.NodeOutput{Data: map[string]interface{}{
		"status": resp.StatusCode,
		"body":   parsedBody,
	}}, nil
}

// outputNode is the conventional terminal leaf of a workflow; §4.10's
// "critical terminal node" checks look specifically for this type.
type outputNode struct{}

func (n *outputNode) Type() string { return "output" }

func (n *outputNode) Validate(config map[string]interface{}) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}

func (n *outputNode) Execute(ctx context.Context, input engine.NodeInput, nctx *engine.NodeContext) (engine.NodeOutput, error) {
	out := make(map[string]interface{}, len(input.Data)+1)
	for k, v := range input.Data {
		out[k] = v
	}
	out["_output"] = map[string]interface{}{
		"collectedAt": time.Now().UTC().Format(time.RFC3339),
		"executionId": nctx.ExecutionID,
		"workflowId":  nctx.WorkflowID,
	}
	return engine.NodeOutput{Data: out}, nil
}
