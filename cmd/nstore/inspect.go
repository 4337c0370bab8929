package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nativestorage/nativestorage/internal/migrate"
	"github.com/nativestorage/nativestorage/internal/nativestorage"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the legacy data a migration would move, without changing anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		if jsonOutput {
			format = "json"
		}

		store, err := openSuiteStore()
		if err != nil {
			return err
		}
		report, err := migrate.New(store, migrate.EnvironmentLocator(environment()),
			migrate.WithLogger(logger.Logger)).Plan(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch format {
		case "json":
			return outputJSON(out, report)
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("error encoding YAML: %w", err)
			}
			return enc.Close()
		case "text", "":
		default:
			return fmt.Errorf("%w: unknown format %q (want text, json or yaml)", nativestorage.ErrWrongParameter, format)
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Fprintf(out, "Database: %s (%s layout)\n", cyan(report.DatabasePath), report.Layout)
		if report.Candidate != "" {
			fmt.Fprintf(out, "Origin directory: %s\n", report.Candidate)
		}
		if report.AlreadyMigrated {
			fmt.Fprintf(out, "%s suite already holds migrated keys; migrate will skip unless --force\n", yellow("⚠"))
		}
		fmt.Fprintf(out, "Would migrate %d value(s), %d without type rule, %d undecodable\n\n",
			report.Migrated, report.Unconverted, report.Skipped)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tTYPE\tVALUE")
		for _, e := range report.Entries {
			value := e.Value
			if e.Error != "" {
				value = yellow("not migrated")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key, e.Type, value)
		}
		return tw.Flush()
	},
}

func init() {
	inspectCmd.Flags().String("format", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(inspectCmd)
}
