package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SettleClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SettleClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckBalance returns a wallet's custody balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		address = h.client.Caller()
	}

	raw, err := h.client.GetBalance(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleSendPayment settles a direct transfer.
func (h *Handlers) HandleSendPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payee := req.GetString("payee", "")
	if payee == "" {
		return mcp.NewToolResultError("payee is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	memo := req.GetString("memo", "")

	raw, err := h.client.CreatePayment(ctx, payee, amount, memo)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment failed: %v", err)), nil
	}

	rec, err := extractRecord(raw, "payment")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment settled.\n")
	fmt.Fprintf(&sb, "  ID: %s\n", getString(rec, "id"))
	fmt.Fprintf(&sb, "  To: %s\n", getString(rec, "payee"))
	fmt.Fprintf(&sb, "  Gross: %s\n", getString(rec, "gross"))
	fmt.Fprintf(&sb, "  Fee: %s\n", getString(rec, "fee"))
	fmt.Fprintf(&sb, "  Net to payee: %s\n", getString(rec, "net"))
	if memo != "" {
		fmt.Fprintf(&sb, "  Memo: %s\n", memo)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetPayment looks up a settled payment by ID.
func (h *Handlers) HandleGetPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("payment_id", "")
	if id == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}

	raw, err := h.client.GetPayment(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get payment: %v", err)), nil
	}

	rec, err := extractRecord(raw, "payment")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment %s:\n", getString(rec, "id"))
	fmt.Fprintf(&sb, "  Payer: %s\n", getString(rec, "payer"))
	fmt.Fprintf(&sb, "  Payee: %s\n", getString(rec, "payee"))
	fmt.Fprintf(&sb, "  Gross: %s (fee %s, net %s)\n",
		getString(rec, "gross"), getString(rec, "fee"), getString(rec, "net"))
	if v := getString(rec, "memo"); v != "" {
		fmt.Fprintf(&sb, "  Memo: %s\n", v)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCreateEscrow funds a new escrow.
func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payee := req.GetString("payee", "")
	if payee == "" {
		return mcp.NewToolResultError("payee is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	terms := req.GetString("terms", "")

	releaseTime := req.GetString("release_time", "")
	if releaseTime != "" {
		if _, err := time.Parse(time.RFC3339, releaseTime); err != nil {
			return mcp.NewToolResultError("release_time must be an RFC3339 timestamp (e.g. '2026-09-01T12:00:00Z')"), nil
		}
	}

	raw, err := h.client.CreateEscrow(ctx, payee, amount, terms, releaseTime)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Escrow creation failed: %v", err)), nil
	}

	rec, err := extractRecord(raw, "escrow")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow funded. Your %s is held by the platform.\n", getString(rec, "amount"))
	fmt.Fprintf(&sb, "  Escrow ID: %s\n", getString(rec, "id"))
	fmt.Fprintf(&sb, "  Payee: %s\n", getString(rec, "payee"))
	if terms != "" {
		fmt.Fprintf(&sb, "  Terms: %s\n", terms)
	}
	sb.WriteString("\nUse release_escrow when the payee delivers, or dispute_escrow if something goes wrong.")
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetEscrow looks up an escrow by ID.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleReleaseEscrow pays an escrow out to the payee.
func (h *Handlers) HandleReleaseEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.ReleaseEscrow(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Release failed: %v", err)), nil
	}

	rec, err := extractRecord(raw, "escrow")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s released.\n"+
			"Full amount %s paid to %s.",
		id, getString(rec, "amount"), getString(rec, "payee"))), nil
}

// HandleRefundEscrow returns an escrow to the payer.
func (h *Handlers) HandleRefundEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.RefundEscrow(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Refund failed: %v", err)), nil
	}

	rec, err := extractRecord(raw, "escrow")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s refunded.\n"+
			"Full amount %s returned to %s. No fee was charged.",
		id, getString(rec, "amount"), getString(rec, "payer"))), nil
}

// HandleDisputeEscrow freezes an escrow for arbitration.
func (h *Handlers) HandleDisputeEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("escrow_id", "")
	if id == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	_, err := h.client.DisputeEscrow(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Dispute failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s disputed.\n"+
			"Funds stay frozen until the platform arbiter resolves the dispute.",
		id)), nil
}

// HandleListEvents reads the engine event log.
func (h *Handlers) HandleListEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListEvents(ctx, address, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
	}

	text, err := formatEventList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetPlatformInfo returns the fee configuration.
func (h *Handlers) HandleGetPlatformInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetPlatform(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get platform info: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

// extractRecord pulls the named object out of a {"payment": {...}} style
// response, falling back to the top-level object.
func extractRecord(raw json.RawMessage, key string) (map[string]any, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if rec, ok := resp[key].(map[string]any); ok {
		return rec, nil
	}
	if _, ok := resp["id"]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no %s in response: %s", key, string(raw))
}

func formatBalance(raw json.RawMessage, address string) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	bal := resp
	if b, ok := resp["balance"].(map[string]any); ok {
		bal = b
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balance for %s:\n", address)
	fmt.Fprintf(&sb, "  Available: %s\n", getString(bal, "available"))
	if v := getString(bal, "held"); v != "" && v != "0" && v != "0.000000" {
		fmt.Fprintf(&sb, "  Held in escrow: %s\n", v)
	}
	fmt.Fprintf(&sb, "  Lifetime in: %s | out: %s\n", getString(bal, "totalIn"), getString(bal, "totalOut"))

	return sb.String(), nil
}

func formatEscrow(raw json.RawMessage) (string, error) {
	rec, err := extractRecord(raw, "escrow")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow %s:\n", getString(rec, "id"))
	fmt.Fprintf(&sb, "  State: %s\n", getString(rec, "state"))
	fmt.Fprintf(&sb, "  Payer: %s\n", getString(rec, "payer"))
	fmt.Fprintf(&sb, "  Payee: %s\n", getString(rec, "payee"))
	fmt.Fprintf(&sb, "  Amount: %s\n", getString(rec, "amount"))
	if v := getString(rec, "terms"); v != "" {
		fmt.Fprintf(&sb, "  Terms: %s\n", v)
	}
	if v := getString(rec, "releaseTime"); v != "" && !strings.HasPrefix(v, "0001-01-01") {
		fmt.Fprintf(&sb, "  Payee may release after: %s\n", v)
	}
	if v := getString(rec, "outcome"); v != "" {
		fmt.Fprintf(&sb, "  Outcome: %s\n", v)
	}
	return sb.String(), nil
}

func formatEventList(raw json.RawMessage) (string, error) {
	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Events == nil {
		// Try as direct array
		if err := json.Unmarshal(raw, &resp.Events); err != nil {
			return "", fmt.Errorf("unexpected events response format")
		}
	}

	if len(resp.Events) == 0 {
		return "No events found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d event(s):\n\n", len(resp.Events))
	for _, e := range resp.Events {
		seq, _ := getFloat(e, "seq")
		fmt.Fprintf(&sb, "#%.0f %s\n", seq, getString(e, "type"))
		fmt.Fprintf(&sb, "   Record: %s | %s -> %s | Amount: %s\n",
			getString(e, "recordId"), getString(e, "payer"), getString(e, "payee"), getString(e, "amount"))
		if v := getString(e, "outcome"); v != "" {
			fmt.Fprintf(&sb, "   Outcome: %s (by %s)\n", v, getString(e, "actor"))
		}
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
