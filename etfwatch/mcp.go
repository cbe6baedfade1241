package etfwatch

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/etfwatch/kit"
)

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

// RegisterMCP registers the etfwatch tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	ep := s.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_list_providers",
		Description: "List ETF providers with their enabled fund pages",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.providers, kit.DecodeArgs[struct{}])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_list_funds",
		Description: "List model funds",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.funds, kit.DecodeArgs[struct{}])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_best_ideas",
		Description: "Latest ranked best ideas per provider ETF",
		InputSchema: inputSchema(map[string]any{
			"etf_id": map[string]any{"type": "integer", "description": "Provider ETF ID (all when omitted)"},
			"days":   map[string]any{"type": "integer", "description": "How many days back the latest ranking may be"},
		}, nil),
	}, ep.bestIdeas, kit.DecodeArgs[BestIdeasRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_fund_holdings",
		Description: "Current holdings and recent buys and sells of a model fund",
		InputSchema: inputSchema(map[string]any{
			"fund_id": map[string]any{"type": "integer"},
			"days":    map[string]any{"type": "integer", "description": "Change history window (default 30)"},
		}, []string{"fund_id"}),
	}, ep.fund, kit.DecodeArgs[FundRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_batch_runs",
		Description: "Recent batch runs, optionally of one process",
		InputSchema: inputSchema(map[string]any{
			"process": map[string]any{"type": "string", "description": "download, categorize, stocks, bestideas or funds"},
			"limit":   map[string]any{"type": "integer"},
		}, nil),
	}, ep.batches, kit.DecodeArgs[BatchesRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_batch_logs",
		Description: "Notes recorded by one batch run",
		InputSchema: inputSchema(map[string]any{
			"batch_id": map[string]any{"type": "string"},
		}, []string{"batch_id"}),
	}, ep.batchLogs, kit.DecodeArgs[BatchLogsRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_validate_mapping",
		Description: "Validate a holdings mapping document and describe the columns it expects",
		InputSchema: inputSchema(map[string]any{
			"mapping": map[string]any{"type": "object"},
		}, []string{"mapping"}),
	}, ep.validate, kit.DecodeArgs[ValidateRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "etfwatch_run",
		Description: "Start a batch process in the background",
		InputSchema: inputSchema(map[string]any{
			"process": map[string]any{"type": "string", "description": "download, categorize, stocks, bestideas or funds"},
		}, []string{"process"}),
	}, ep.run, kit.DecodeArgs[RunRequest])
}
