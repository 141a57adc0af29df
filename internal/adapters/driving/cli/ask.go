package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/fagdag/internal/app"
	"github.com/custodia-labs/fagdag/internal/core/domain"
)

var (
	askTopK     int
	askNoStream bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the indexed documents",
	Long: `Retrieves the chunks most relevant to the question and streams an answer
grounded in them. The sources used are listed after the answer.

Without an argument the question is read from standard input, so it can
be piped:

  echo "What is the vacation policy?" | fagdag ask`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (default retrieval.top_k)")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "print the answer once it is complete")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question, err := readQuestion(cmd, args)
	if err != nil {
		return err
	}
	if err := ensureServices(cmd, app.Options{TopK: askTopK}); err != nil {
		return err
	}
	if queryService == nil {
		return errors.New("query service not configured")
	}

	var (
		onDelta  func(string) error
		streamed bool
	)
	if !askNoStream {
		out := cmd.OutOrStdout()
		onDelta = func(delta string) error {
			streamed = true
			_, err := io.WriteString(out, delta)
			return err
		}
	}

	answer, err := queryService.Ask(cmd.Context(), nil, question, onDelta)
	if !streamed {
		cmd.Print(answer.Text)
	}
	cmd.Println()
	if answer.Notice != "" {
		cmd.Println(answer.Notice)
	}
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	if answer.Partial {
		cmd.Println("(answer stopped early)")
	}
	printSources(cmd, answer.Contexts)
	return nil
}

// readQuestion takes the question from args, or from stdin when it is
// not a terminal.
func readQuestion(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("%w: a question is required", domain.ErrInvalidInput)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read question: %w", err)
	}
	question := strings.TrimSpace(string(data))
	if question == "" {
		return "", fmt.Errorf("%w: a question is required", domain.ErrInvalidInput)
	}
	return question, nil
}

func printSources(cmd *cobra.Command, results []domain.RetrievalResult) {
	if len(results) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i := range results {
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, sourceLabel(results[i].Chunk), results[i].Score)
	}
}

// sourceLabel names the document a chunk came from.
func sourceLabel(c domain.Chunk) string {
	if title := c.Metadata["title"]; title != "" {
		return title
	}
	if uri := c.Metadata["uri"]; uri != "" {
		return uri
	}
	return c.ParentID
}
