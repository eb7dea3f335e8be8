// Package tools owns the canonical tool set the agent can call and the
// executor that dispatches model-requested invocations to the collaborator
// clients. The executor never lets an error escape its boundary: every
// outcome is a success/error envelope.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/llm"
)

// Result is the envelope every tool execution produces.
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Ok builds a success envelope.
func Ok(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds an error envelope.
func Fail(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// JSON serializes the envelope for the tool-role observation message.
func (r *Result) JSON() string {
	out := map[string]interface{}{"success": r.Success}
	for k, v := range r.Data {
		out[k] = v
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"marshal result: %s"}`, err)
	}
	return string(data)
}

// Handler executes one tool call with its parsed-JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) *Result

// Registry holds tool definitions and their handlers.
type Registry struct {
	defs     []llm.Tool
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a tool definition and its handler.
func (r *Registry) Register(def llm.Tool, handler Handler) {
	r.defs = append(r.defs, def)
	r.handlers[def.Function.Name] = handler
}

// Definitions returns all tool definitions for the LLM request.
func (r *Registry) Definitions() []llm.Tool {
	return r.defs
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Execute runs a tool by name. Unknown tools, bad arguments, and handler
// panics all come back as error envelopes, never as a crash.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				zap.String("tool", name), zap.Any("panic", rec))
			result = Fail("tool %s panicked: %v", name, rec)
		}
	}()

	h, ok := r.handlers[name]
	if !ok {
		return Fail("unknown tool: %s", name)
	}
	return h(ctx, args)
}
