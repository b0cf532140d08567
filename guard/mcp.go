package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/tamperguard/kit"
)

// RegisterMCP registers the operator tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerCheckTool(srv)
	e.registerReportTool(srv)
	e.registerRecoverTool(srv)
	e.registerSimulateTool(srv)
	e.registerStatusTool(srv)
	e.registerDebugTool(srv)
	e.registerControlTool(srv)
}

// toolChain wraps every tool endpoint: panics become tool errors and each
// call is logged at debug level.
func (e *Engine) toolChain(name string) kit.Middleware {
	return kit.Chain(e.logToolCall(name), recoverTool(name))
}

func (e *Engine) logToolCall(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			e.logger.Debug("mcp tool call", "tool", name, "duration", time.Since(start), "error", err)
			return resp, err
		}
	}
}

func recoverTool(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = engineErr(name, fmt.Errorf("panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- check ---

type checkReq struct {
	Scope     string `json:"scope"`
	ElementID string `json:"elementId"`
	Force     bool   `json:"force"`
}

func (e *Engine) registerCheckTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tamperguard_check",
		Description: "Run a tamper check now. Scope is page, element, network or all.",
		InputSchema: inputSchema(map[string]any{
			"scope":     map[string]any{"type": "string", "enum": []string{ScopePage, ScopeElement, ScopeNetwork, ScopeAll}},
			"elementId": map[string]any{"type": "string", "description": "Element id for the element scope"},
			"force":     map[string]any{"type": "boolean", "description": "Run even when paused"},
		}, []string{"scope"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*checkReq)
		return e.Check(ctx, r.Scope, r.ElementID, r.Force)
	}

	kit.RegisterMCPTool(srv, tool, e.toolChain(tool.Name)(endpoint), kit.DecodeJSON[checkReq])
}

// --- report ---

func (e *Engine) registerReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tamperguard_report",
		Description: "Send a manual tamper event to the collector.",
		InputSchema: inputSchema(map[string]any{
			"elementId":       map[string]any{"type": "string"},
			"eventType":       map[string]any{"type": "string", "description": "Defaults to manual_report"},
			"tamperType":      map[string]any{"type": "string", "enum": []string{"dom", "network", "proxy", "injection"}},
			"detectionMethod": map[string]any{"type": "string"},
			"originalContent": map[string]any{"type": "string"},
			"tamperContent":   map[string]any{"type": "string"},
			"confidence":      map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"additionalInfo":  map[string]any{"type": "object"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Report(ctx, *req.(*ReportFields))
	}

	kit.RegisterMCPTool(srv, tool, e.toolChain(tool.Name)(endpoint), kit.DecodeJSON[ReportFields])
}

// --- recover ---

type recoverReq struct {
	Kind string `json:"kind"`
}

type recoverResp struct {
	State string `json:"state"`
}

func (e *Engine) registerRecoverTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tamperguard_recover",
		Description: "Force a recovery step: soft, emergency, lockdown or exit.",
		InputSchema: inputSchema(map[string]any{
			"kind": map[string]any{"type": "string", "enum": []string{"soft", "emergency", "lockdown", "exit"}},
		}, []string{"kind"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		state, err := e.Recover(ctx, req.(*recoverReq).Kind)
		if err != nil {
			return nil, err
		}
		return recoverResp{State: state}, nil
	}

	kit.RegisterMCPTool(srv, tool, e.toolChain(tool.Name)(endpoint), kit.DecodeJSON[recoverReq])
}

// --- simulate ---

type simulateReq struct {
	Kind      string `json:"kind"`
	ElementID string `json:"elementId"`
	Content   string `json:"content"`
}

func (e *Engine) registerSimulateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tamperguard_simulate",
		Description: "Inject a synthetic incident through the detection pipeline.",
		InputSchema: inputSchema(map[string]any{
			"kind":      map[string]any{"type": "string", "enum": []string{"dom", "network", "proxy", "injection"}},
			"elementId": map[string]any{"type": "string"},
			"content":   map[string]any{"type": "string", "description": "Tampered content; a built-in sample when empty"},
		}, []string{"kind"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*simulateReq)
		return e.Simulate(ctx, r.Kind, r.ElementID, r.Content)
	}

	kit.RegisterMCPTool(srv, tool, e.toolChain(tool.Name)(endpoint), kit.DecodeJSON[simulateReq])
}

// --- status ---

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tamperguard_status",
		Description: "Report the engine phase, recovery state, counters and baseline.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return e.Status(), nil
	}

	kit.RegisterMCPTool(srv, tool, e.toolChain(tool.Name)(endpoint), kit.DecodeJSON[struct{}])
}

// --- debug ---

type debugReq struct {
	Enable bool `json:"enable"`
}

func (e *Engine) registerDebugTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tamperguard_debug",
		Description: "Switch debug logging on or off.",
		InputSchema: inputSchema(map[string]any{
			"enable": map[string]any{"type": "boolean"},
		}, []string{"enable"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		e.Debug(req.(*debugReq).Enable)
		return e.Status(), nil
	}

	kit.RegisterMCPTool(srv, tool, e.toolChain(tool.Name)(endpoint), kit.DecodeJSON[debugReq])
}

// --- control ---

type controlReq struct {
	Action string `json:"action"`
}

func (e *Engine) registerControlTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tamperguard_control",
		Description: "Apply a lifecycle action: pause, resume, disable, reset or reinit.",
		InputSchema: inputSchema(map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{ActionPause, ActionResume, ActionDisable, ActionReset, ActionReinit}},
		}, []string{"action"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		if err := e.Control(ctx, req.(*controlReq).Action); err != nil {
			return nil, err
		}
		return e.Status(), nil
	}

	kit.RegisterMCPTool(srv, tool, e.toolChain(tool.Name)(endpoint), kit.DecodeJSON[controlReq])
}
