package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/msw-projects/termine/internal/storage"
)

func newTestDeps(t *testing.T) (Deps, *storage.Store, *stubResolver) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	res := newStubResolver()
	return Deps{Companies: store, Resolver: res}, store, res
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_CompanyEvents(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := mcpCompanyEvents(deps)

	result, err := handler(context.Background(), makeCallToolRequest("company_events", map[string]any{"identifier": "AAPL"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	if !strings.HasPrefix(text, "# Apple Termine") || !strings.Contains(text, "Quartalszahlen") {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_CompanyEventsErrors(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	handler := mcpCompanyEvents(deps)

	tests := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{}, "identifier is required"},
		{map[string]any{"identifier": "not valid"}, "invalid identifier"},
		{map[string]any{"identifier": "NOPE"}, "no events found for NOPE"},
		{map[string]any{"identifier": "DOWN"}, "transport_failure"},
	}
	for _, tt := range tests {
		result, err := handler(context.Background(), makeCallToolRequest("company_events", tt.args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", tt.args)
		}
		if text := toolText(t, result); !strings.Contains(text, tt.want) {
			t.Errorf("args %v: text = %q, want it to contain %q", tt.args, text, tt.want)
		}
	}
}

func TestMCPTool_DetectTriggers(t *testing.T) {
	handler := mcpDetectTriggers()

	result, err := handler(context.Background(), makeCallToolRequest("detect_triggers", map[string]any{
		"text": "!termine AAPL\nand !termin DE0007472060 and !termin AAPL",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(toolText(t, result)), &tokens); err != nil {
		t.Fatalf("decoding tokens: %v", err)
	}
	if strings.Join(tokens, ",") != "AAPL,DE0007472060" {
		t.Errorf("tokens = %v", tokens)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("detect_triggers", map[string]any{"text": "nothing here"}))
	if got := toolText(t, result); got != "[]" {
		t.Errorf("no triggers: text = %q, want []", got)
	}
}

func TestMCPResource_Companies(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	if _, err := store.UpsertCompany(apple); err != nil {
		t.Fatalf("UpsertCompany: %v", err)
	}

	contents, err := mcpResourceCompanies(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "termine://companies"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(tc.Text, "US0378331005") {
		t.Errorf("resource text = %s", tc.Text)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	if s := NewMCPServer(deps, "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
