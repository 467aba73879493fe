package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/msw-projects/termine/internal/resolver"
	"github.com/msw-projects/termine/internal/responder"
	"github.com/msw-projects/termine/internal/trigger"
)

// NewMCPServer creates an MCP server exposing event lookups as tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"termine",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("termine looks up upcoming company events (earnings, dividends, general meetings) by ticker symbol, ISIN or WKN."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("company_events",
			mcp.WithDescription("Look up the upcoming events of a company by ticker symbol, ISIN or WKN. Returns a markdown table."),
			mcp.WithString("identifier", mcp.Description("Ticker symbol (up to 6 characters), ISIN or WKN"), mcp.Required()),
		),
		mcpCompanyEvents(deps),
	)

	s.AddTool(
		mcp.NewTool("detect_triggers",
			mcp.WithDescription("Extract the identifiers a comment would ask the bot about (!termin / !termine commands)."),
			mcp.WithString("text", mcp.Description("Comment text"), mcp.Required()),
		),
		mcpDetectTriggers(),
	)

	s.AddResource(
		mcp.NewResource(
			"termine://companies",
			"Cached Companies",
			mcp.WithResourceDescription("Companies currently in the local cache with their event counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCompanies(deps),
	)

	return s
}

func mcpCompanyEvents(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("identifier")
		if err != nil {
			return mcpError("identifier is required"), nil
		}
		token, ok := parseToken(raw)
		if !ok {
			return mcpError(fmt.Sprintf("invalid identifier %q", raw)), nil
		}

		res := deps.Resolver.Resolve(ctx, token)
		switch res.Kind {
		case resolver.Found:
			return mcpText(responder.FormatCompany(res.Company, res.Events)), nil
		case resolver.NotFound:
			return mcpError(fmt.Sprintf("no events found for %s", token)), nil
		default:
			return mcpError(fmt.Sprintf("lookup failed (%s): %v", res.Kind, res.Err)), nil
		}
	}
}

func mcpDetectTriggers() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		tokens := trigger.Detect(text)
		if tokens == nil {
			tokens = []string{}
		}
		out, err := json.Marshal(tokens)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tokens: %v", err)), nil
		}
		return mcpText(string(out)), nil
	}
}

func mcpResourceCompanies(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		companies, err := deps.Companies.ListCompanies(defaultCompanyLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list companies: %w", err)
		}

		out := make([]CompanyJSON, len(companies))
		for i, c := range companies {
			out[i] = companyJSON(c.Company)
			count := c.EventCount
			out[i].EventCount = &count
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal companies: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
