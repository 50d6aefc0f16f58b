package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domtrack/kit"
	"github.com/hazyhaar/domtrack/mutation"
)

// MCPDeps wires the MCP tools to running trackers and an optional host.
type MCPDeps struct {
	// Lookup resolves a session ID to its tracker.
	Lookup func(sessionID string) (*Tracker, bool)
	// Scan asks the host for a fresh snapshot of a session's page. Nil
	// when no host adapter is attached; domtrack_scan then fails.
	Scan func(ctx context.Context, sessionID string) (*mutation.Snapshot, error)
}

// RegisterMCP registers the tracker tools on an MCP server.
func RegisterMCP(srv *mcp.Server, deps MCPDeps) {
	registerScanTool(srv, deps)
	registerElementsTool(srv, deps)
	registerResolveTool(srv, deps)
	registerScrollTool(srv, deps)
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

func (d MCPDeps) tracker(sessionID string) (*Tracker, error) {
	tr, ok := d.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	return tr, nil
}

var sessionProp = map[string]any{"type": "string", "description": "Session ID"}

// --- scan ---

type scanReq struct {
	SessionID string `json:"session_id"`
}

func registerScanTool(srv *mcp.Server, deps MCPDeps) {
	tool := &mcp.Tool{
		Name:        "domtrack_scan",
		Description: "Rescan the session's page and resynchronise element tracking from a full snapshot.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scanReq)
		tr, err := deps.tracker(r.SessionID)
		if err != nil {
			return nil, err
		}
		if deps.Scan == nil {
			return nil, fmt.Errorf("no host attached, scan unavailable")
		}
		snap, err := deps.Scan(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		if err := tr.Resync(snap); err != nil {
			return nil, err
		}
		return map[string]any{
			"node_count": snap.NodeCount,
			"max_depth":  snap.MaxDepth,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto(func() any { return &scanReq{} }))
}

// --- elements ---

type elementsReq struct {
	SessionID string `json:"session_id"`
}

func registerElementsTool(srv *mcp.Server, deps MCPDeps) {
	tool := &mcp.Tool{
		Name:        "domtrack_elements",
		Description: "List tracked elements of a session with their stable IDs, states and labels.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
		}, []string{"session_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*elementsReq)
		tr, err := deps.tracker(r.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"elements": tr.Elements()}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto(func() any { return &elementsReq{} }))
}

// --- resolve ---

type resolveReq struct {
	SessionID string `json:"session_id"`
	ID        string `json:"id"`
}

func registerResolveTool(srv *mcp.Server, deps MCPDeps) {
	tool := &mcp.Tool{
		Name:        "domtrack_resolve",
		Description: "Resolve a full ID, short ID or unambiguous short-ID prefix to the tracked element.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"id":         map[string]any{"type": "string", "description": "Full ID, short ID or short-ID prefix"},
		}, []string{"session_id", "id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*resolveReq)
		tr, err := deps.tracker(r.SessionID)
		if err != nil {
			return nil, err
		}
		return tr.Element(r.ID)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto(func() any { return &resolveReq{} }))
}

// --- scroll ---

type scrollReq struct {
	SessionID string `json:"session_id"`
	ID        string `json:"id"`
}

func registerScrollTool(srv *mcp.Server, deps MCPDeps) {
	tool := &mcp.Tool{
		Name:        "domtrack_scroll",
		Description: "Scroll the session's page to a tracked element.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"id":         map[string]any{"type": "string", "description": "Full ID, short ID or short-ID prefix"},
		}, []string{"session_id", "id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scrollReq)
		tr, err := deps.tracker(r.SessionID)
		if err != nil {
			return nil, err
		}
		if err := tr.ScrollTo(ctx, r.ID); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto(func() any { return &scrollReq{} }))
}

func decodeInto(alloc func() any) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r := alloc()
		if err := json.Unmarshal(req.Params.Arguments, r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
}
