package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Settle MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check a wallet's balance on the Settle ledger. "+
			"Shows available funds, amounts held in escrow, and lifetime totals. "+
			"Defaults to your own wallet."),
	mcp.WithString("address",
		mcp.Description("Wallet address to check (e.g. '0x1234...'). Defaults to your own address.")),
)

var ToolSendPayment = mcp.NewTool("send_payment",
	mcp.WithDescription(
		"Send a direct payment to another wallet. "+
			"Settles immediately: the platform fee is deducted and the net amount "+
			"is credited to the payee. This cannot be reversed."),
	mcp.WithString("payee",
		mcp.Required(),
		mcp.Description("Recipient wallet address (e.g. '0x1234...')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to send (e.g. '1.50')")),
	mcp.WithString("memo",
		mcp.Description("Optional memo or description for the payment")),
)

var ToolGetPayment = mcp.NewTool("get_payment",
	mcp.WithDescription(
		"Look up a settled payment by ID. Shows the parties, gross amount, "+
			"fee taken, and net amount the payee received."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment ID from a previous send_payment result")),
)

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Fund an escrow for another wallet. Your funds are held by the platform "+
			"until you release them, refund them, or a dispute is resolved. "+
			"Use this instead of send_payment when you want delivery protection."),
	mcp.WithString("payee",
		mcp.Required(),
		mcp.Description("Beneficiary wallet address (e.g. '0x1234...')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to hold in escrow (e.g. '10.00')")),
	mcp.WithString("terms",
		mcp.Description("Optional free-text terms describing what the payee must deliver")),
	mcp.WithString("release_time",
		mcp.Description("Optional RFC3339 timestamp after which the payee may release the escrow themselves. Omit for payer-only release.")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Look up an escrow by ID. Shows the parties, amount, current state "+
			"(funded/released/refunded/disputed/resolved), and outcome if resolved."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID from a previous create_escrow result")),
)

var ToolReleaseEscrow = mcp.NewTool("release_escrow",
	mcp.WithDescription(
		"Release an escrow, paying the full amount to the payee (escrows carry no fee). "+
			"Use this when the payee has delivered. As payer you can release at any time; "+
			"the payee can only release after the escrow's release time has passed."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to release")),
)

var ToolRefundEscrow = mcp.NewTool("refund_escrow",
	mcp.WithDescription(
		"Refund an escrow, returning the full amount to the payer. "+
			"Only the payee can refund, as a way of cancelling an escrow they will not fulfil."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to refund")),
)

var ToolDisputeEscrow = mcp.NewTool("dispute_escrow",
	mcp.WithDescription(
		"Dispute an escrow you are party to. The funds stay frozen until the "+
			"platform arbiter resolves the dispute to one side or the other. "+
			"Use this when the counterparty will not release or refund."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to dispute")),
)

var ToolListEvents = mcp.NewTool("list_events",
	mcp.WithDescription(
		"Read the engine's append-only event log. Every payment and escrow "+
			"transition is recorded here in sequence order. "+
			"Optionally filter to events involving one wallet."),
	mcp.WithString("address",
		mcp.Description("Only return events where this wallet is payer or payee")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of events to return (default 20)")),
)

var ToolGetPlatformInfo = mcp.NewTool("get_platform_info",
	mcp.WithDescription(
		"Get the platform configuration: owner, fee rate in basis points, "+
			"fee cap, and fee recipient. Use this to estimate fees before paying."),
)
