package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the emx database",
	Long: `db - Manage the emx database

Examples:
  emx db migrate                  # Apply pending migrations
  emx db stats                    # Show row counts per table`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

// statsTables lists the tables db stats reports, in display order
var statsTables = []string{
	"email_sets",
	"emails",
	"prompts",
	"extraction_runs",
	"extraction_records",
	"extraction_logs",
	"transactions",
	"accounts",
	"account_corpora",
	"account_corpus_suggestions",
	"jobs",
}

type statusCount struct {
	status string
	n      int
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath := databasePath(cfg)
	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	defer database.Close()

	pending, err := db.PendingMigrations(cmd.Context(), database)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("✓ Database is up to date")
		return nil
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		return err
	}
	for _, m := range pending {
		fmt.Printf("  %s  %s\n", m.File, strings.Join(m.Tables, ", "))
	}
	fmt.Printf("✓ Applied %d migrations\n", len(pending))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	for _, table := range statsTables {
		var n int
		// table names come from the fixed list above
		if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", table)
		}
		fmt.Printf("%-28s %d\n", table+":", n)
	}

	var byStatus []statusCount
	rows, err := database.QueryContext(ctx, `SELECT status, COUNT(*) FROM emails GROUP BY status ORDER BY status`)
	if err != nil {
		return errors.Wrap(err, "failed to count emails by status")
	}
	defer rows.Close()
	for rows.Next() {
		var row statusCount
		if err := rows.Scan(&row.status, &row.n); err != nil {
			return errors.Wrap(err, "failed to scan email status count")
		}
		byStatus = append(byStatus, row)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to iterate email status counts")
	}

	if len(byStatus) > 0 {
		fmt.Println()
		fmt.Println("Emails by status:")
		for _, row := range byStatus {
			fmt.Printf("  %-26s %d\n", row.status+":", row.n)
		}
	}
	return nil
}
