// clawd-mcp-bridge exposes the Clawd Domains broker as MCP tools, allowing
// Claude Desktop and any MCP-compatible AI host to search, buy, and manage
// domains paid for in USDC.
//
// Add to Claude Desktop (~/.claude/claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "clawd": {
//	      "command": "/path/to/clawd-mcp-bridge",
//	      "args": ["--server", "https://domains.clawd.xyz"]
//	    }
//	  }
//	}
//
// To enable buying (spends real USDC from the configured wallet):
//
//	"args": [
//	  "--server", "https://domains.clawd.xyz",
//	  "--wallet-key", "0x..."
//	]
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/clawdlabs/clawd-domains/internal/mcpbridge"
	"github.com/clawdlabs/clawd-domains/pkg/client"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	walletKey string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clawd-mcp-bridge",
	Short: "MCP bridge for the Clawd Domains broker",
	Long: `clawd-mcp-bridge is a stdio MCP server that exposes six domain tools to any
MCP-compatible AI host (Claude Desktop, Claude API, etc.):

  search_domains    — check availability and USDC pricing across TLDs
  buy_domain        — purchase a domain end to end, settled in USDC on Base
  get_purchase      — inspect a purchase's lifecycle state
  list_domains      — list domains owned by a wallet
  list_dns_records  — read a domain's DNS zone
  create_dns_record — add a DNS record to an owned domain

The bridge runs in stdio mode (the MCP standard for local servers).
All logging goes to stderr so it does not interfere with the protocol.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8402", "Clawd Domains broker URL")
	rootCmd.Flags().StringVar(&walletKey, "wallet-key", "", "Payer wallet private key hex (enables buy_domain; or set CLAWD_WALLET_KEY)")
}

func run(cmd *cobra.Command, _ []string) error {
	logger := log.New(os.Stderr, "[clawd-mcp] ", log.LstdFlags)

	key := walletKey
	if key == "" {
		key = os.Getenv("CLAWD_WALLET_KEY")
	}
	if key != "" {
		logger.Printf("wallet configured; buy_domain enabled")
	} else {
		logger.Printf("no --wallet-key provided; buy_domain tool will be unavailable")
	}

	c, err := client.New(serverURL)
	if err != nil {
		return fmt.Errorf("create broker client: %w", err)
	}

	tools, err := mcpbridge.NewToolRegistry(c, key)
	if err != nil {
		return err
	}
	server := mcpbridge.NewServer(os.Stdout, tools, logger)

	logger.Printf("Clawd Domains MCP bridge ready — server: %s", serverURL)
	logger.Printf("tools: search_domains, buy_domain, get_purchase, list_domains, list_dns_records, create_dns_record")

	return server.Serve(cmd.Context(), os.Stdin)
}
