// Settle MCP Server - Exposes the payment and escrow engine as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cardlinkhq/settle/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:     envOrDefault("SETTLE_API_URL", "http://localhost:8080"),
		PrivateKey: os.Getenv("SETTLE_PRIVATE_KEY"),
		Caller:     os.Getenv("SETTLE_CALLER_ADDRESS"),
	}

	if cfg.PrivateKey == "" && cfg.Caller == "" {
		fmt.Fprintln(os.Stderr, "SETTLE_PRIVATE_KEY is required (or SETTLE_CALLER_ADDRESS against a dev server with AUTH_DISABLED)")
		os.Exit(1)
	}

	s, err := mcpserver.NewMCPServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "MCP server setup failed: %v\n", err)
		os.Exit(1)
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
