package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/services"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and change the settings stored in config.toml.

Use 'config set' for single keys, or 'config embedding' and 'config llm'
to choose a provider interactively.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Long: `Stores one configuration key. Run 'fagdag config keys' for the list
of known keys. Values are checked before they are written.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List known configuration keys",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, k := range services.KnownKeys() {
			cmd.Println(k)
		}
	},
}

var configEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Choose the embedding provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := ensureSettings(); err != nil {
			return err
		}
		return configureEmbeddingProvider(cmd, newReader(cmd))
	},
}

var configLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Choose the language model provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := ensureSettings(); err != nil {
			return err
		}
		return configureLLMProvider(cmd, newReader(cmd))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configKeysCmd, configEmbeddingCmd, configLLMCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if err := ensureSettings(); err != nil {
		return err
	}
	s, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("[Embedding]")
	cmd.Printf("  Provider:   %s\n", s.Embedding.Provider.Description())
	cmd.Printf("  Model:      %s\n", s.Embedding.Model)
	cmd.Printf("  Dimensions: %d\n", s.Embedding.Dimensions)
	if s.Embedding.BaseURL != "" {
		cmd.Printf("  Base URL:   %s\n", s.Embedding.BaseURL)
	}
	if s.Embedding.Provider.RequiresAPIKey() {
		cmd.Printf("  API Key:    %s\n", showKey(s.Embedding.APIKey))
	}
	cmd.Println()

	cmd.Println("[LLM]")
	cmd.Printf("  Provider:    %s\n", s.LLM.Provider.Description())
	cmd.Printf("  Model:       %s\n", s.LLM.Model)
	if s.LLM.BaseURL != "" {
		cmd.Printf("  Base URL:    %s\n", s.LLM.BaseURL)
	}
	if s.LLM.Provider.RequiresAPIKey() {
		cmd.Printf("  API Key:     %s\n", showKey(s.LLM.APIKey))
	}
	cmd.Printf("  Temperature: %.2f\n", s.LLM.Temperature)
	cmd.Printf("  Max tokens:  %d\n", s.LLM.MaxTokens)
	cmd.Println()

	cmd.Println("[Index]")
	cmd.Printf("  Backend:    %s\n", s.Index.Backend)
	cmd.Printf("  Name:       %s\n", s.Index.IndexName())
	if s.Index.Backend == domain.IndexBackendPostgres {
		cmd.Printf("  DSN:        %s\n", showDSN(s.Index.DSN))
	}
	cmd.Printf("  Batch size: %d\n", s.Index.BatchSize)
	cmd.Println()

	cmd.Println("[Pipeline]")
	cmd.Printf("  Chunks:       %d chars, %d overlap\n", s.Chunking.MaxLen, s.Chunking.Overlap)
	if s.PII.Enabled {
		model := "patterns only"
		if s.PII.ModelPath != "" {
			model = s.PII.ModelPath
		}
		cmd.Printf("  PII masking:  on (%s, min confidence %.2f)\n", model, s.PII.MinConfidence)
	} else {
		cmd.Println("  PII masking:  off")
	}
	cmd.Printf("  Top-k:        %d\n", s.Retrieval.TopK)
	cmd.Printf("  Concurrency:  %d\n", s.Ingest.Concurrency)
	if s.Content.Dir != "" {
		cmd.Printf("  Content dir:  %s\n", s.Content.Dir)
	}
	cmd.Println()

	if err := s.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'fagdag config set' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if err := ensureSettings(); err != nil {
		return err
	}
	if err := settingsService.Set(args[0], args[1]); err != nil {
		return err
	}
	cmd.Printf("Set %s.\n", args[0])
	return nil
}

//nolint:dupl // mirrors configureLLMProvider for the embedding side
func configureEmbeddingProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	cmd.Println("Select Embedding Provider")
	providers := domain.AllEmbeddingProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(providers), 1)
	provider := providers[idx-1]

	defaultModel := domain.DefaultEmbeddingModels()[provider]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	values := [][2]string{
		{"embedding.provider", string(provider)},
		{"embedding.model", model},
	}
	if dims, ok := domain.EmbeddingDimensions()[model]; ok {
		values = append(values, [2]string{"embedding.dimensions", strconv.Itoa(dims)})
	}
	if provider == domain.AIProviderAzureOpenAI {
		cmd.Print("Enter endpoint: ")
		endpoint := readLine(reader)
		if endpoint == "" {
			return errors.New("an endpoint is required for Azure OpenAI")
		}
		values = append(values, [2]string{"embedding.base_url", endpoint})
	}
	if provider.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey := readPassword(cmd, reader)
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
		values = append(values, [2]string{"embedding.api_key", apiKey})
	}
	if err := setAll(values); err != nil {
		return fmt.Errorf("failed to configure embedding provider: %w", err)
	}

	cmd.Print("Validating configuration... ")
	if err := settingsService.ValidateEmbeddingConfig(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("embedding configuration validation failed: %w", err)
	}
	cmd.Println("OK")
	cmd.Printf("Embedding provider configured: %s (%s)\n", provider.Description(), model)
	cmd.Println("Changing the embedding model needs 'fagdag ingest --recreate'.")
	return nil
}

//nolint:dupl // mirrors configureEmbeddingProvider for the completion side
func configureLLMProvider(cmd *cobra.Command, reader *bufio.Reader) error {
	cmd.Println("Select LLM Provider")
	providers := domain.AllLLMProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(providers), 1)
	provider := providers[idx-1]

	defaultModel := domain.DefaultLLMModels()[provider]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	values := [][2]string{
		{"llm.provider", string(provider)},
		{"llm.model", model},
	}
	if provider == domain.AIProviderAzureOpenAI {
		cmd.Print("Enter endpoint: ")
		endpoint := readLine(reader)
		if endpoint == "" {
			return errors.New("an endpoint is required for Azure OpenAI")
		}
		values = append(values, [2]string{"llm.base_url", endpoint})
	}
	if provider.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey := readPassword(cmd, reader)
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
		values = append(values, [2]string{"llm.api_key", apiKey})
	}
	if err := setAll(values); err != nil {
		return fmt.Errorf("failed to configure LLM provider: %w", err)
	}

	cmd.Print("Validating configuration... ")
	if err := settingsService.ValidateLLMConfig(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("LLM configuration validation failed: %w", err)
	}
	cmd.Println("OK")
	cmd.Printf("LLM provider configured: %s (%s)\n", provider.Description(), model)
	return nil
}

func setAll(values [][2]string) error {
	for _, kv := range values {
		if err := settingsService.Set(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions.

func newReader(cmd *cobra.Command) *bufio.Reader {
	return bufio.NewReader(cmd.InOrStdin())
}

//nolint:errcheck // CLI helper, a read error reads as empty input
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads without echo from a terminal, or a plain line
// otherwise.
func readPassword(cmd *cobra.Command, reader *bufio.Reader) string {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return string(password)
		}
	}
	return readLine(reader)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func showKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	return maskAPIKey(key)
}

// showDSN hides the password of a postgres URL.
func showDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":****@" + host
}
