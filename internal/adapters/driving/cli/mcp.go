package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fagdag/internal/adapters/driving/mcp"
	"github.com/custodia-labs/fagdag/internal/app"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can search the
index, ask grounded questions and ingest text.

Tools:
  search       retrieve the most relevant chunks
  ask          answer a question from the indexed documents
  ingest_text  mask, chunk, embed and index a piece of text

By default the server speaks JSON-RPC over stdio. Use --port to serve
the streamable HTTP transport instead.

Examples:
  fagdag mcp serve
  fagdag mcp serve --port 8080

Client configuration:
  {
    "mcpServers": {
      "fagdag": {
        "command": "/path/to/fagdag",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}
	if err := ensureServices(cmd, app.Options{}); err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Query:  queryService,
		Ingest: ingestService,
	})
	if err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		cmd.PrintErrf("MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}
	return server.Run(cmd.Context())
}
