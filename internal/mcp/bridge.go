package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
)

// bridgeTool proxies one remote tool through the server's shared client.
type bridgeTool struct {
	server    string
	tool      mcpgo.Tool
	client    *mcpclient.Client
	connected *atomic.Bool
}

// BridgeName builds the registry name for a remote tool.
func BridgeName(server, tool string) string {
	return "mcp_" + server + "_" + tool
}

func (b *bridgeTool) Name() string { return BridgeName(b.server, b.tool.Name) }

func (b *bridgeTool) Description() string {
	if b.tool.Description != "" {
		return fmt.Sprintf("[%s] %s", b.server, b.tool.Description)
	}
	return fmt.Sprintf("Tool %s on MCP server %s", b.tool.Name, b.server)
}

func (b *bridgeTool) Parameters() map[string]interface{} {
	params := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	if b.tool.InputSchema.Type != "" {
		params["type"] = b.tool.InputSchema.Type
	}
	if len(b.tool.InputSchema.Properties) > 0 {
		params["properties"] = b.tool.InputSchema.Properties
	}
	if len(b.tool.InputSchema.Required) > 0 {
		params["required"] = b.tool.InputSchema.Required
	}
	return params
}

func (b *bridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %s is not connected", b.server))
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("MCP call failed: %v", err))
	}

	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return tools.ErrorResult(text)
	}
	if text == "" {
		text = "(no content)"
	}
	return tools.SilentResult(text)
}

// flattenContent folds an MCP content list into one text block. Non-text
// items are summarized rather than dropped so the model knows they exist.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, item := range content {
		if tc, ok := mcpgo.AsTextContent(item); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if ic, ok := mcpgo.AsImageContent(item); ok {
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes base64]", ic.MIMEType, len(ic.Data)))
			continue
		}
		parts = append(parts, fmt.Sprintf("[unsupported content %T]", item))
	}
	return strings.Join(parts, "\n")
}
