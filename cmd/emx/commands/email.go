package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/logger"
)

// EmailCmd groups email import and listing
var EmailCmd = &cobra.Command{
	Use:   "email",
	Short: "Import and list emails",
	Long: `email - Import email files into named sets

Extraction runs target a set. Importing into an existing set name appends to it.

Examples:
  emx email import --set inbox mail/*.eml     # Import files into set "inbox"
  emx email sets                               # List sets with status counts
  emx email ls --set <set-id> --status failed  # List failed emails of a set`,
}

var emailImportCmd = &cobra.Command{
	Use:   "import --set NAME FILE...",
	Short: "Import email files into a set",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEmailImport,
}

var emailSetsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List email sets",
	RunE:  runEmailSets,
}

var emailLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List emails in a set",
	RunE:  runEmailLs,
}

var (
	importSetFlag string
	lsSetFlag     string
	lsStatusFlag  string
	emailJSONFlag bool
)

func init() {
	emailImportCmd.Flags().StringVar(&importSetFlag, "set", "", "Set name (created when missing)")
	_ = emailImportCmd.MarkFlagRequired("set")

	emailLsCmd.Flags().StringVar(&lsSetFlag, "set", "", "Set ID")
	emailLsCmd.Flags().StringVar(&lsStatusFlag, "status", "", "Filter by status (pending, completed, failed, informational, skipped)")
	_ = emailLsCmd.MarkFlagRequired("set")

	EmailCmd.PersistentFlags().BoolVar(&emailJSONFlag, "json", false, "Output as JSON")

	EmailCmd.AddCommand(emailImportCmd)
	EmailCmd.AddCommand(emailSetsCmd)
	EmailCmd.AddCommand(emailLsCmd)
}

func runEmailImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	store := email.NewStore(database)
	log := logger.ComponentLogger("email-import")

	set, err := store.GetSetByName(ctx, importSetFlag)
	if errors.IsNotFoundError(err) {
		set, err = store.CreateSet(ctx, importSetFlag)
	}
	if err != nil {
		return err
	}

	imported, failed := 0, 0
	for _, path := range args {
		rec, err := email.ParseFile(path)
		if err == nil {
			rec.SetID = set.ID
			err = store.AddRecord(ctx, rec)
		}
		if err != nil {
			failed++
			log.Warnw("Skipping email file", "path", path, logger.FieldError, err)
			if !emailJSONFlag {
				pterm.Warning.Printfln("%s: %v", path, err)
			}
			continue
		}
		imported++
	}

	if emailJSONFlag {
		return printJSON(map[string]interface{}{
			"set":      set,
			"imported": imported,
			"failed":   failed,
		})
	}
	pterm.Success.Printfln("Imported %d of %d files into set %s (%s)", imported, len(args), set.Name, set.ID)
	if failed > 0 {
		return errors.Newf("%d files could not be imported", failed)
	}
	return nil
}

func runEmailSets(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	store := email.NewStore(database)

	sets, err := store.ListSets(ctx)
	if err != nil {
		return err
	}
	if emailJSONFlag {
		return printJSON(sets)
	}

	var rows [][]string
	for _, set := range sets {
		counts, err := store.CountByStatus(ctx, set.ID)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		rows = append(rows, []string{
			set.ID,
			set.Name,
			fmt.Sprint(total),
			fmt.Sprint(counts[email.StatusPending]),
			fmt.Sprint(counts[email.StatusCompleted]),
			fmt.Sprint(counts[email.StatusInformational]),
			fmt.Sprint(counts[email.StatusFailed]),
			formatTime(set.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Emails", "Pending", "Completed", "Informational", "Failed", "Created"},
		rows, "No email sets")
}

func runEmailLs(cmd *cobra.Command, args []string) error {
	var status *email.Status
	if lsStatusFlag != "" {
		s := email.Status(lsStatusFlag)
		if !s.Valid() {
			return errors.NewInvalidRequestError("unknown email status %q", lsStatusFlag)
		}
		status = &s
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

	records, err := email.NewStore(database).ListBySet(cmd.Context(), lsSetFlag, status)
	if err != nil {
		return err
	}
	if emailJSONFlag {
		return printJSON(records)
	}

	var rows [][]string
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			orDash(rec.Filename),
			truncateCell(rec.Subject, 48),
			string(rec.Status),
			truncateCell(orDash(rec.Error), 40),
		})
	}
	return renderTable([]string{"ID", "File", "Subject", "Status", "Error"}, rows, "No emails")
}

func truncateCell(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
