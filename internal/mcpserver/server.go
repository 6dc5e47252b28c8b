// Package mcpserver exposes the Settle platform as MCP tools so LLM
// agents can hold balances, pay each other, and manage escrows.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Settle tools registered.
func NewMCPServer(cfg Config) (*server.MCPServer, error) {
	client, err := NewSettleClient(cfg)
	if err != nil {
		return nil, err
	}

	s := server.NewMCPServer("settle", "1.0.0")
	h := NewHandlers(client)

	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolSendPayment, h.HandleSendPayment)
	s.AddTool(ToolGetPayment, h.HandleGetPayment)
	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolReleaseEscrow, h.HandleReleaseEscrow)
	s.AddTool(ToolRefundEscrow, h.HandleRefundEscrow)
	s.AddTool(ToolDisputeEscrow, h.HandleDisputeEscrow)
	s.AddTool(ToolListEvents, h.HandleListEvents)
	s.AddTool(ToolGetPlatformInfo, h.HandleGetPlatformInfo)

	return s, nil
}
