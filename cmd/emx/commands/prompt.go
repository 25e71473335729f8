package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mattsoldo/email-extractor-sub001/prompt"
)

// PromptCmd manages extraction prompts
var PromptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Register and list extraction prompts",
	Long: `prompt - Register and list extraction prompts

A prompt file is YAML with id, name, content and an optional output_schema.
Adding a file whose id already exists replaces its content; runs record the
content hash, so an edited prompt is not treated as a repeat of old runs.

Examples:
  emx prompt add prompts/brokerage.yaml
  emx prompt ls`,
}

var promptAddCmd = &cobra.Command{
	Use:   "add FILE...",
	Short: "Add or replace prompts from YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPromptAdd,
}

var promptLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List prompts",
	RunE:  runPromptLs,
}

var promptJSONFlag bool

func init() {
	PromptCmd.PersistentFlags().BoolVar(&promptJSONFlag, "json", false, "Output as JSON")

	PromptCmd.AddCommand(promptAddCmd)
	PromptCmd.AddCommand(promptLsCmd)
}

func runPromptAdd(cmd *cobra.Command, args []string) error {
	// Parse everything before touching the database
	var prompts []*prompt.Prompt
	for _, path := range args {
		p, err := prompt.LoadFile(path)
		if err != nil {
			return err
		}
		prompts = append(prompts, p)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := prompt.NewStore(database)
	for _, p := range prompts {
		if err := store.Upsert(cmd.Context(), p); err != nil {
			return err
		}
		if !promptJSONFlag {
			pterm.Success.Printfln("Saved prompt %s (hash %s)", p.ID, p.ContentHash[:12])
		}
	}
	if promptJSONFlag {
		return printJSON(prompts)
	}
	return nil
}

func runPromptLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	prompts, err := prompt.NewStore(database).List(cmd.Context())
	if err != nil {
		return err
	}
	if promptJSONFlag {
		return printJSON(prompts)
	}

	var rows [][]string
	for _, p := range prompts {
		schema := "no"
		if len(p.OutputSchema) > 0 {
			schema = "yes"
		}
		rows = append(rows, []string{p.ID, p.Name, p.ContentHash[:12], schema, formatTime(p.UpdatedAt)})
	}
	return renderTable([]string{"ID", "Name", "Hash", "Schema", "Updated"}, rows, "No prompts")
}
