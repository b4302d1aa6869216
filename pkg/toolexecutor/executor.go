package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/diegosucaria/deedee-sub000/pkg/federation"
	"github.com/diegosucaria/deedee-sub000/pkg/provider"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputBytes = 10 * 1024
	truncationMarker      = "\n... [output truncated]"

	// SourceBuiltin marks descriptors and metrics for built-in tools.
	SourceBuiltin = "builtin"
)

var (
	// ErrNoSender is returned by ExecutionContext.Deliver when no callback was injected.
	ErrNoSender = errors.New("no send callback in execution context")
)

// PanicError is returned by Execute when a handler panics.
type PanicError struct {
	Tool  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	// Items is the element type for array parameters; defaults to string.
	Items string `json:"items,omitempty"`
}

// ToolDefinition defines a built-in tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Family      Family          `json:"family"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution. The execution
// context is reachable through ExecContextFromContext.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Descriptor is one entry of the manifest shown to the model.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	// Source is SourceBuiltin or the owning provider id.
	Source string `json:"source"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Envelope is the serializable shape returned to the model:
// {success:true, output} or {error}.
func (r ToolResult) Envelope() map[string]interface{} {
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "tool failed"
		}
		return map[string]interface{}{"error": msg}
	}
	env := map[string]interface{}{"success": true, "output": r.Output}
	if r.Truncated {
		env["truncated"] = true
	}
	return env
}

func failure(format string, args ...interface{}) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Federation is the part of the federation registry the executor needs.
type Federation interface {
	Refresh(ctx context.Context) (*federation.Manifest, error)
	Manifest() *federation.Manifest
	Dispatch(ctx context.Context, name string, args map[string]interface{}) (*provider.Result, error)
}

// Options configures a ToolExecutor.
type Options struct {
	Federation     Federation
	Policy         *ToolPolicy
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// ToolExecutor holds the built-in capability table and falls back to federation.
type ToolExecutor struct {
	tools          map[string]*ToolDefinition
	schemas        map[string]*gojsonschema.Schema
	federation     Federation
	policy         *ToolPolicy
	defaultTimeout time.Duration
	maxOutputBytes int
	mu             sync.RWMutex
}

// New creates a new ToolExecutor
func New(opts Options) *ToolExecutor {
	te := &ToolExecutor{
		tools:          make(map[string]*ToolDefinition),
		schemas:        make(map[string]*gojsonschema.Schema),
		federation:     opts.Federation,
		policy:         opts.Policy,
		defaultTimeout: opts.DefaultTimeout,
		maxOutputBytes: opts.MaxOutputBytes,
	}
	if te.defaultTimeout <= 0 {
		te.defaultTimeout = defaultTimeout
	}
	if te.maxOutputBytes <= 0 {
		te.maxOutputBytes = defaultMaxOutputBytes
	}
	return te
}

// RegisterTool registers a built-in tool. Tools denied by the policy are
// skipped without error.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	if !te.policy.IsToolAllowed(def.Name, def.Family) {
		log.Info().Str("tool", def.Name).Str("family", string(def.Family)).Msg("Tool disabled by policy")
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(parameterSchema(def.Parameters, true)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Str("family", string(def.Family)).Msg("Tool registered")
	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered built-in tool names, sorted.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetToolCount returns the number of registered built-in tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Manifest refreshes federation and returns built-in descriptors followed by
// federated ones whose names no built-in claims. A failed refresh falls back
// to the last good federated manifest.
func (te *ToolExecutor) Manifest(ctx context.Context) []Descriptor {
	te.mu.RLock()
	fed := te.federation
	builtins := make([]*ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		builtins = append(builtins, def)
	}
	te.mu.RUnlock()

	sort.Slice(builtins, func(i, j int) bool { return builtins[i].Name < builtins[j].Name })

	descriptors := make([]Descriptor, 0, len(builtins))
	claimed := make(map[string]bool, len(builtins))
	for _, def := range builtins {
		claimed[def.Name] = true
		descriptors = append(descriptors, Descriptor{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  parameterSchema(def.Parameters, false),
			Source:      SourceBuiltin,
		})
	}

	if fed == nil {
		return descriptors
	}

	manifest, err := fed.Refresh(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Federation refresh failed, using previous manifest")
		manifest = fed.Manifest()
	}
	if manifest == nil {
		return descriptors
	}

	for _, tool := range manifest.Tools() {
		if claimed[tool.Name] {
			log.Debug().Str("tool", tool.Name).Str("provider", tool.Provider).Msg("Federated tool shadowed by built-in")
			continue
		}
		if !te.policy.IsToolAllowed(tool.Name, "") {
			continue
		}
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
			Source:      tool.Provider,
		})
	}
	return descriptors
}

// Known reports whether name resolves to a built-in or a currently federated tool.
func (te *ToolExecutor) Known(name string) bool {
	te.mu.RLock()
	_, ok := te.tools[name]
	fed := te.federation
	te.mu.RUnlock()
	if ok {
		return true
	}
	if fed == nil {
		return false
	}
	if m := fed.Manifest(); m != nil {
		_, ok = m.Lookup(name)
	}
	return ok
}

// Sanitize strips hallucinated namespace prefixes against the known names.
func (te *ToolExecutor) Sanitize(name string) string {
	return SanitizeToolName(name, te.Known)
}

// Execute runs a tool call. Built-ins are matched first; anything else goes
// to federation. The error return is reserved for handler panics.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) (ToolResult, error) {
	startTime := time.Now()
	if params == nil {
		params = map[string]interface{}{}
	}

	ctx, span := tracing.StartSpan(ctx, "toolexecutor", "tool.execute", attribute.String("tool.name", toolName))
	defer span.End()

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	fed := te.federation
	te.mu.RUnlock()

	source := SourceBuiltin
	var (
		result ToolResult
		err    error
	)
	switch {
	case tool != nil:
		result, err = te.runBuiltin(ctx, tool, schema, params, execCtx)
	case fed != nil:
		source = "federated"
		result = te.runFederated(ctx, fed, toolName, params, execCtx)
	default:
		result = failure("tool not found: %s", toolName)
	}

	duration := time.Since(startTime)
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["duration"] = duration.Milliseconds()

	success := err == nil && result.Success
	span.SetAttributes(attribute.Bool("tool.success", success), attribute.String("tool.source", source))
	observability.RecordToolExecution(toolName, source, duration, success)

	chatID := ""
	if execCtx != nil {
		chatID = execCtx.ChatID
	}
	status := "success"
	if !success {
		status = "failure"
	}
	meta := map[string]interface{}{"source": source, "duration_ms": duration.Milliseconds()}
	if result.Error != "" {
		meta["error"] = result.Error
	}
	observability.RecordToolAudit(ctx, toolName, chatID, status, meta)

	if err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

func (te *ToolExecutor) timeoutFor(execCtx *ExecutionContext) time.Duration {
	if execCtx != nil && execCtx.Timeout > 0 {
		return execCtx.Timeout
	}
	return te.defaultTimeout
}

func (te *ToolExecutor) runBuiltin(ctx context.Context, tool *ToolDefinition, schema *gojsonschema.Schema, params map[string]interface{}, execCtx *ExecutionContext) (ToolResult, error) {
	if err := validateParameters(schema, params); err != nil {
		log.Warn().Str("tool", tool.Name).Err(err).Msg("Parameter validation failed")
		return failure("parameter validation failed: %v", err), nil
	}

	timeout := te.timeoutFor(execCtx)
	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
		panic *PanicError
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panic: &PanicError{Tool: tool.Name, Value: r, Stack: debug.Stack()}}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.panic != nil {
			log.Error().Str("tool", tool.Name).Interface("panic", out.panic.Value).
				Bytes("stack", out.panic.Stack).Msg("Tool handler panicked")
			return ToolResult{}, out.panic
		}
		if out.err != nil {
			log.Warn().Str("tool", tool.Name).Err(out.err).Msg("Tool execution failed")
			return ToolResult{Success: false, Error: out.err.Error()}, nil
		}
		output, truncated := te.truncateOutput(out.value)
		return ToolResult{Success: true, Output: output, Truncated: truncated}, nil

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return failure("tool execution cancelled: %v", ctx.Err()), nil
		}
		log.Warn().Str("tool", tool.Name).Dur("timeout", timeout).Msg("Tool execution timeout")
		return failure("tool execution timeout after %v", timeout), nil
	}
}

func (te *ToolExecutor) runFederated(ctx context.Context, fed Federation, name string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	if !te.policy.IsToolAllowed(name, "") {
		return failure("tool %s is disabled", name)
	}

	timeout := te.timeoutFor(execCtx)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := fed.Dispatch(callCtx, name, params)
	if err != nil {
		switch {
		case errors.Is(err, federation.ErrToolNotFound):
			return failure("tool not found: %s", name)
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return failure("tool execution timeout after %v", timeout)
		}
		log.Warn().Str("tool", name).Err(err).Msg("Federated tool call failed")
		return ToolResult{Success: false, Error: err.Error()}
	}

	if res.IsError {
		msg := res.Text
		if msg == "" {
			msg = "tool reported an error"
		}
		return ToolResult{Success: false, Error: msg}
	}

	var value interface{} = res.Text
	if res.Structured != nil {
		value = res.Structured
	}
	output, truncated := te.truncateOutput(value)
	return ToolResult{Success: true, Output: output, Truncated: truncated}
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if def.Family != "" && !def.Family.Valid() {
		return fmt.Errorf("invalid family %s for %s", def.Family, def.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// parameterSchema renders parameters as a JSON object schema. The strict form
// used for validation rejects unknown arguments; the model-facing form omits
// additionalProperties, which some model APIs refuse.
func parameterSchema(params []ToolParameter, strict bool) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			paramSchema["items"] = map[string]interface{}{"type": items}
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if strict {
		schema["additionalProperties"] = false
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := []string{}
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return fmt.Errorf("validation errors: %v", messages)
	}

	return nil
}

// truncateOutput caps the rendered output at maxOutputBytes.
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	var str string
	switch v := output.(type) {
	case nil:
		return nil, false
	case string:
		str = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(data)
		}
	}

	if len(str) <= te.maxOutputBytes {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", te.maxOutputBytes).
		Msg("Output truncated")

	cut := te.maxOutputBytes
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	return str[:cut] + truncationMarker, true
}
