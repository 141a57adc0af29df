package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fagdag/internal/app"
	"github.com/custodia-labs/fagdag/internal/core/domain"
)

var (
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed chunks",
	Long: `Runs retrieval only, without asking the language model.
Keyword (BM25) and semantic (vector) scores are fused into one ranking.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", domain.DefaultTopK, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd, app.Options{}); err != nil {
		return err
	}
	if queryService == nil {
		return errors.New("query service not configured")
	}

	results, err := queryService.Search(cmd.Context(), args[0], searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, results)
	}
	outputSearchTable(cmd, results)
	return nil
}

type searchHit struct {
	ID       string            `json:"id"`
	ParentID string            `json:"parent_id"`
	Position int               `json:"position"`
	Score    float64           `json:"score"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func outputSearchJSON(cmd *cobra.Command, results []domain.RetrievalResult) error {
	hits := make([]searchHit, len(results))
	for i := range results {
		c := results[i].Chunk
		hits[i] = searchHit{
			ID:       c.ID,
			ParentID: c.ParentID,
			Position: c.Position,
			Score:    results[i].Score,
			Content:  c.Content,
			Metadata: c.Metadata,
		}
	}
	data, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, results []domain.RetrievalResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}

	cmd.Println("Results:")
	cmd.Println()
	for i := range results {
		c := results[i].Chunk
		cmd.Printf("  [%d] %s #%d (%.2f)\n", i+1, sourceLabel(c), c.Position, results[i].Score)
		cmd.Printf("      %s\n", snippet(c.Content, snippetLen))
		cmd.Println()
	}
}

const snippetLen = 160

// snippet flattens whitespace and cuts s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
