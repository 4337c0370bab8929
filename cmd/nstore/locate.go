package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nativestorage/nativestorage/internal/localstorage"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Print the path of the legacy local-storage database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		showProbe, _ := cmd.Flags().GetBool("probe")
		env := environment()

		res, err := env.Resolve()

		var probe *localstorage.ProbeResult
		if showProbe && env.Layout() == localstorage.CurrentLayout {
			p, perr := localstorage.ProbeOrigin(env.ProbeRoot(), env.EffectiveOrigin())
			if perr == nil {
				probe = &p
			}
		}

		if err != nil && !(showProbe && probe != nil && errors.Is(err, localstorage.ErrIntermediateDirectoryNotFound)) {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			result := map[string]interface{}{
				"layout":   env.Layout().String(),
				"base_dir": env.BaseDir(),
			}
			if err == nil {
				result["path"] = res.Path
				result["candidate"] = res.Candidate
			}
			if probe != nil {
				result["inspected"] = probe.Inspected
			}
			return outputJSON(out, result)
		}

		if probe != nil {
			for _, c := range probe.Inspected {
				mark := color.New(color.Faint).Sprint("·")
				if c.Reason == "match" {
					mark = color.GreenString("✓")
				}
				fmt.Fprintf(out, "%s %s: %s\n", mark, c.Name, c.Reason)
			}
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Path)
		return nil
	},
}

func init() {
	locateCmd.Flags().Bool("probe", false, "List the salted directories inspected while probing (16+ layout)")
	rootCmd.AddCommand(locateCmd)
}
