package capture

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/carousel/kit"
)

// RegisterMCP registers the carousel tools on an MCP server.
func (c *Capturer) RegisterMCP(srv *mcp.Server) {
	c.registerOpenPageTool(srv)
	c.registerPrepareTool(srv)
	c.registerSelectTool(srv)
	c.registerCaptureOffsetTool(srv)
	c.registerGetPreferencesTool(srv)
	c.registerSetPreferencesTool(srv)
	c.registerHistoryTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

var (
	pageIDProp = map[string]any{"type": "string", "description": "Page ID from carousel_open_page (default: the last opened page)"}
	ratioProp  = map[string]any{"type": "string", "description": `Aspect ratio preset ("1:1", "4:5", "1.91:1", "9:16") or "W:H"`}
)

// decodeArgs unmarshals tool arguments into a fresh T.
func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

func (c *Capturer) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(kit.Logging(c.logger, tool.Name), c.toolMW...)
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

// --- open_page ---

func (c *Capturer) registerOpenPageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carousel_open_page",
		Description: "Open a URL in a new browser tab. Returns the page ID used by the other carousel tools.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*OpenPageRequest)
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		id, err := c.OpenPage(ctx, r.URL)
		if err != nil {
			return nil, err
		}
		return map[string]string{"page_id": id}, nil
	}

	c.register(srv, tool, endpoint, decodeArgs[OpenPageRequest])
}

// --- prepare ---

func (c *Capturer) registerPrepareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carousel_prepare",
		Description: "Prepare a page for capture: load lazy images, emulate a mobile device and arm the section selector. Missing values use the stored preferences.",
		InputSchema: inputSchema(map[string]any{
			"page_id":      pageIDProp,
			"aspect_ratio": ratioProp,
			"percentage":   map[string]any{"type": "integer", "minimum": 1, "maximum": 100, "description": "Share of the page below the start to capture"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		m, err := c.PrepareMessage(ctx, *req.(*PrepareRequest))
		if err != nil {
			return nil, err
		}
		if err := c.Prepare(ctx, m); err != nil {
			return nil, err
		}
		return c.Session(m.PageID)
	}

	c.register(srv, tool, endpoint, decodeArgs[PrepareRequest])
}

// --- select ---

func (c *Capturer) registerSelectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carousel_select",
		Description: "Start the capture at the section containing the first element matching a CSS selector, then wait for the archive.",
		InputSchema: inputSchema(map[string]any{
			"page_id":  pageIDProp,
			"selector": map[string]any{"type": "string", "description": "CSS selector"},
		}, []string{"selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*SelectRequest)
		if r.Selector == "" {
			return nil, errors.New("selector is required")
		}
		if err := c.SelectElement(ctx, r.PageID, r.Selector); err != nil {
			return nil, err
		}
		return c.Wait(ctx, r.PageID)
	}

	c.register(srv, tool, endpoint, decodeArgs[SelectRequest])
}

// --- capture_offset ---

func (c *Capturer) registerCaptureOffsetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carousel_capture_offset",
		Description: "Capture a prepared page from a vertical offset in CSS pixels and package the carousel images.",
		InputSchema: inputSchema(map[string]any{
			"page_id":      pageIDProp,
			"offset":       map[string]any{"type": "number", "minimum": 0, "description": "Start offset from the top of the document"},
			"aspect_ratio": ratioProp,
		}, []string{"offset"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		m, err := OffsetMessage(*req.(*OffsetRequest))
		if err != nil {
			return nil, err
		}
		return c.CaptureFromOffset(ctx, m)
	}

	c.register(srv, tool, endpoint, decodeArgs[OffsetRequest])
}

// --- preferences ---

func (c *Capturer) registerGetPreferencesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carousel_get_preferences",
		Description: "Return the stored aspect ratio and capture percentage.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return c.Preferences(ctx)
	}

	c.register(srv, tool, endpoint, decodeArgs[struct{}])
}

func (c *Capturer) registerSetPreferencesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carousel_set_preferences",
		Description: "Store the default aspect ratio and capture percentage.",
		InputSchema: inputSchema(map[string]any{
			"aspect_ratio":       ratioProp,
			"capture_percentage": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
		}, []string{"aspect_ratio", "capture_percentage"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		p := *req.(*Preferences)
		if err := c.SetPreferences(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	c.register(srv, tool, endpoint, decodeArgs[Preferences])
}

// --- history ---

func (c *Capturer) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "carousel_history",
		Description: "List finished capture sessions, newest first.",
		InputSchema: inputSchema(map[string]any{
			"status": map[string]any{"type": "string", "enum": []string{"done", "failed", "cancelled"}},
			"limit":  map[string]any{"type": "integer", "minimum": 1, "maximum": 500},
			"offset": map[string]any{"type": "integer", "minimum": 0},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		records, err := c.History(ctx, *req.(*HistoryFilter))
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []HistoryRecord{}
		}
		return map[string]any{"captures": records}, nil
	}

	c.register(srv, tool, endpoint, decodeArgs[HistoryFilter])
}
