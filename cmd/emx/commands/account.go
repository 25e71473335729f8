package commands

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mattsoldo/email-extractor-sub001/account"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/logger"
)

// AccountCmd groups account and corpus commands
var AccountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect accounts and group them into corpora",
	Long: `account - Inspect resolved accounts

Accounts are created and enriched by extraction commits. When two accounts look
related (shared institution or name tokens but no matching number), extraction
records a corpus suggestion; merging accepts it by grouping the accounts.

Examples:
  emx account ls
  emx account suggestions --level medium
  emx account merge ACC1 ACC2 --name "Joint brokerage"
  emx account merge ACC3 --corpus CORPUS_ID`,
}

var accountLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List accounts",
	RunE:  runAccountLs,
}

var accountSuggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "List corpus suggestions",
	RunE:  runAccountSuggestions,
}

var accountMergeCmd = &cobra.Command{
	Use:   "merge ACCOUNT_ID...",
	Short: "Group accounts into a new or existing corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAccountMerge,
}

var (
	accountJSONFlag  bool
	suggestLevelFlag string
	mergeNameFlag    string
	mergeCorpusFlag  string
)

func init() {
	AccountCmd.PersistentFlags().BoolVar(&accountJSONFlag, "json", false, "Output as JSON")

	accountSuggestionsCmd.Flags().StringVar(&suggestLevelFlag, "level", "", "Filter by level (low, medium)")

	accountMergeCmd.Flags().StringVar(&mergeNameFlag, "name", "", "Name of the new corpus")
	accountMergeCmd.Flags().StringVar(&mergeCorpusFlag, "corpus", "", "Existing corpus ID to add the accounts to")
	accountMergeCmd.MarkFlagsMutuallyExclusive("name", "corpus")

	AccountCmd.AddCommand(accountLsCmd)
	AccountCmd.AddCommand(accountSuggestionsCmd)
	AccountCmd.AddCommand(accountMergeCmd)
}

func openAccountStore() (*account.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	store := account.NewStore(database, logger.ComponentLogger("account"))
	return store, func() { database.Close() }, nil
}

func runAccountLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openAccountStore()
	if err != nil {
		return err
	}
	defer closeDB()

	accounts, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if accountJSONFlag {
		return printJSON(accounts)
	}

	var rows [][]string
	for _, a := range accounts {
		number := "-"
		switch {
		case a.AccountNumber != nil:
			number = *a.AccountNumber
		case a.MaskedNumber != nil:
			number = *a.MaskedNumber
		}
		corpus := "-"
		if a.CorpusID != nil {
			corpus = *a.CorpusID
		}
		external := ""
		if a.IsExternal {
			external = "yes"
		}
		rows = append(rows, []string{
			a.ID, a.DisplayName, orDash(a.Institution), number, orDash(a.AccountType), external, corpus,
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Institution", "Number", "Type", "External", "Corpus"},
		rows, "No accounts")
}

func runAccountSuggestions(cmd *cobra.Command, args []string) error {
	var level *account.SuggestionLevel
	if suggestLevelFlag != "" {
		l := account.SuggestionLevel(suggestLevelFlag)
		if l != account.LevelLow && l != account.LevelMedium {
			return errors.NewInvalidRequestError("unknown suggestion level %q", suggestLevelFlag)
		}
		level = &l
	}

	store, closeDB, err := openAccountStore()
	if err != nil {
		return err
	}
	defer closeDB()

	suggestions, err := store.ListSuggestions(cmd.Context(), level)
	if err != nil {
		return err
	}
	if accountJSONFlag {
		return printJSON(suggestions)
	}

	var rows [][]string
	for _, sg := range suggestions {
		rows = append(rows, []string{
			sg.AccountID,
			sg.CandidateID,
			string(sg.Level),
			sg.Confidence.StringFixed(2),
			strings.Join(sg.Reasons, "; "),
		})
	}
	return renderTable([]string{"Account", "Candidate", "Level", "Confidence", "Reasons"}, rows, "No suggestions")
}

func runAccountMerge(cmd *cobra.Command, args []string) error {
	if mergeNameFlag == "" && mergeCorpusFlag == "" {
		return errors.NewInvalidRequestError("either --name or --corpus is required")
	}

	store, closeDB, err := openAccountStore()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	if mergeCorpusFlag != "" {
		if err := store.AssignCorpus(ctx, mergeCorpusFlag, args); err != nil {
			return err
		}
		pterm.Success.Printfln("Added %d accounts to corpus %s", len(args), mergeCorpusFlag)
		return nil
	}

	corpus, err := store.CreateCorpus(ctx, mergeNameFlag, args)
	if err != nil {
		return err
	}
	if accountJSONFlag {
		return printJSON(corpus)
	}
	pterm.Success.Printfln("Created corpus %s (%s) with %d accounts", corpus.Name, corpus.ID, len(args))
	return nil
}
