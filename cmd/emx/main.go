package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattsoldo/email-extractor-sub001/cmd/emx/commands"
	"github.com/mattsoldo/email-extractor-sub001/logger"
)

var rootCmd = &cobra.Command{
	Use:   "emx",
	Short: "emx - Email transaction extraction",
	Long: `emx - Extract financial transactions from email with an LLM.

emx imports email files into sets, runs versioned extraction runs over a set
with a chosen model and prompt, and commits normalized transactions and
accounts to a SQLite database in batches. Runs can be paused, cancelled and
resumed; a resumed run only processes emails it has not recorded yet.

Available commands:
  am       - Show and validate configuration
  db       - Manage the emx database
  email    - Import and list emails
  prompt   - Register and list extraction prompts
  extract  - Start, watch and control extraction runs
  account  - Inspect accounts and group them into corpora
  version  - Show build information

Examples:
  emx email import --set inbox mail/*.eml
  emx prompt add prompts/brokerage.yaml
  emx extract start --set <set-id> --prompt brokerage-v1
  emx extract runs`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.InitializeWithVerbosity(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&commands.DBPath, "db", "", "Database path (overrides database.path)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.EmailCmd)
	rootCmd.AddCommand(commands.PromptCmd)
	rootCmd.AddCommand(commands.ExtractCmd)
	rootCmd.AddCommand(commands.AccountCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	// Ctrl-C cancels the running extraction so it records a resumable stop
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
