// Package nodes implements the built-in node library: the 20 node
// kinds a workflow's WorkflowNode.Type can name, each satisfying
// engine.NodeDefinition. Nodes never import each other; they depend
// only on engine and domain.
package nodes

import "github.com/flowforge/workflow-engine/engine"

// registry is the default engine.Registry, populated by NewRegistry
// with every built-in node kind.
type registry struct {
	defs map[string]engine.NodeDefinition
}

// Lookup resolves a node type name to its definition.
func (r *registry) Lookup(nodeType string) (engine.NodeDefinition, bool) {
	d, ok := r.defs[nodeType]
	return d, ok
}

// NewRegistry builds the registry of built-in node kinds. deps.LLMRegistry
// is what the llm node calls; leaving it nil disables the llm node
// (Validate still succeeds, Execute fails with a "no model registry
// configured" error).
func NewRegistry(deps Dependencies) engine.Registry {
	r := &registry{defs: map[string]engine.NodeDefinition{}}
	for _, d := range []engine.NodeDefinition{
		&webhookTriggerNode{},
		&manualTriggerNode{},
		&scheduleTriggerNode{},
		&dataCleanerNode{},
		&llmNode{deps: deps},
		&jsonValidatorNode{},
		&storageNode{},
		&logNode{},
		&httpRequestNode{client: deps.HTTPClient},
		&conditionNode{},
		&codeNode{},
		&transformerNode{},
		&outputNode{},
		&fileUploadNode{},
		&memoryWriteNode{},
		&memoryReadNode{},
		&executionControlNode{},
		&evaluationNode{},
		&knowledgeIngestNode{},
		&knowledgeRetrieveNode{},
	} {
		r.defs[d.Type()] = d
	}
	return r
}
