package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nativestorage/nativestorage/internal/config"
	"github.com/nativestorage/nativestorage/internal/migrate"
	"github.com/nativestorage/nativestorage/internal/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate legacy local-storage data into native storage",
	Long: `Find the web app's legacy local-storage database and move its values
into the selected native storage suite.

This command:
- Skips everything if the suite already holds a migrated key (unless --force)
- Locates the database for the platform version (probing salted directories on 16+)
- Converts each migrated key to its declared type and writes it to the suite
- Deletes the migrated rows from the legacy database once the suite is saved
- Optionally copies the legacy database to --backup-dir first`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		force, _ := cmd.Flags().GetBool("force")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backupDir, _ := cmd.Flags().GetString("backup-dir")
		if !cmd.Flags().Changed("backup-dir") {
			backupDir = config.GetString("migrate.backup-dir")
		}

		store, err := openSuiteStore()
		if err != nil {
			return err
		}

		m := migrate.New(store, migrate.EnvironmentLocator(environment()),
			migrate.WithLogger(logger.Logger),
			migrate.WithBackup(utils.ExpandHome(backupDir)))

		var report *migrate.Report
		switch {
		case dryRun:
			report, err = m.Plan(cmd.Context())
		case force:
			report, err = m.Run(cmd.Context())
		default:
			report, err = m.RunIfNeeded(cmd.Context())
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), report)
		}
		printReport(cmd, report, store.Path())
		return nil
	},
}

func printReport(cmd *cobra.Command, report *migrate.Report, storePath string) {
	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	if report.AlreadyMigrated && !report.DryRun {
		fmt.Fprintf(out, "%s Legacy data already migrated into %s\n", green("✓"), cyan(storePath))
		return
	}

	if report.BackupPath != "" {
		fmt.Fprintf(out, "%s Created backup: %s\n", green("✓"), report.BackupPath)
	}
	if report.DryRun {
		fmt.Fprintf(out, "Dry run: would migrate %d value(s) from %s\n", report.Migrated, cyan(report.DatabasePath))
	} else {
		fmt.Fprintf(out, "%s Migrated %d value(s) from %s\n", green("✓"), report.Migrated, cyan(report.DatabasePath))
		fmt.Fprintf(out, "  Stored in: %s\n", storePath)
		fmt.Fprintf(out, "  Removed %d legacy row(s)\n", report.Deleted)
	}
	if report.Unconverted > 0 {
		fmt.Fprintf(out, "  %s %d key(s) have no type rule and were not migrated\n", yellow("⚠"), report.Unconverted)
	}
	if report.Skipped > 0 {
		fmt.Fprintf(out, "  %s %d row(s) could not be decoded and were skipped\n", yellow("⚠"), report.Skipped)
	}
	if report.CleanupErr != nil {
		fmt.Fprintf(out, "  %s %v\n", yellow("⚠"), report.CleanupErr)
	}
}

func init() {
	migrateCmd.Flags().Bool("force", false, "Migrate even if the suite already holds migrated keys")
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without writing or deleting anything")
	migrateCmd.Flags().String("backup-dir", "", "Copy the legacy database here before migrating")
	rootCmd.AddCommand(migrateCmd)
}
