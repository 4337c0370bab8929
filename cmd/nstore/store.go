package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nativestorage/nativestorage/internal/convert"
	"github.com/nativestorage/nativestorage/internal/nativestorage"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Read and write values in native storage",
}

var storeKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys of the suite",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		keys, err := svc.Keys()
		if err != nil {
			return err
		}
		if jsonOutput {
			if keys == nil {
				keys = []string{}
			}
			return outputJSON(cmd.OutOrStdout(), keys)
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		v, ok, err := svc.Lookup(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", nativestorage.ErrNotFound, args[0])
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]interface{}{
				"key":   args[0],
				"kind":  v.Kind,
				"value": v.Interface(),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
		return nil
	},
}

var storePutCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store a typed value",
	Long: `Store a value under key. --type selects how the value is parsed:
string (default), bool, int or double.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		key, raw := args[0], args[1]

		svc, err := openService()
		if err != nil {
			return err
		}

		switch kind {
		case "string":
			err = svc.PutString(key, raw)
		case "bool":
			err = svc.PutBoolean(key, convert.ParseBool(raw))
		case "int":
			i, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				return fmt.Errorf("%w: %q is not an int", nativestorage.ErrWrongParameter, raw)
			}
			err = svc.PutInt(key, i)
		case "double":
			f, perr := strconv.ParseFloat(raw, 64)
			if perr != nil {
				return fmt.Errorf("%w: %q is not a double", nativestorage.ErrWrongParameter, raw)
			}
			err = svc.PutDouble(key, f)
		default:
			return fmt.Errorf("%w: unknown type %q (want string, bool, int or double)", nativestorage.ErrWrongParameter, kind)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]string{"key": key, "suite": svc.Suite()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s\n", color.GreenString("✓"), key)
		return nil
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		if err := svc.Remove(args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]string{"removed": args[0]})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}

var storeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every key of the suite",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("%w: refusing to clear without --force", nativestorage.ErrWrongParameter)
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		if err := svc.Clear(); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]string{"cleared": svc.Suite()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared suite %s\n", color.GreenString("✓"), svc.Suite())
		return nil
	},
}

var storeWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the suite's keys whenever another process changes it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetDuration("for")

		store, err := openSuiteStore()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		out := cmd.OutOrStdout()
		logger.Info("watching store", zap.String("path", store.Path()))
		return store.Watch(ctx, func() {
			keys := store.Keys()
			if jsonOutput {
				_ = outputJSON(out, map[string]interface{}{
					"time": time.Now().UTC().Format(time.RFC3339),
					"keys": keys,
				})
				return
			}
			fmt.Fprintf(out, "%s %d key(s)\n", color.New(color.Faint).Sprint(time.Now().Format("15:04:05")), len(keys))
		})
	},
}

func init() {
	storePutCmd.Flags().String("type", "string", "Value type: string, bool, int or double")
	storeClearCmd.Flags().Bool("force", false, "Confirm clearing the suite")
	storeWatchCmd.Flags().Duration("for", 0, "Stop watching after this long (default: until interrupted)")

	storeCmd.AddCommand(storeKeysCmd, storeGetCmd, storePutCmd, storeRemoveCmd, storeClearCmd, storeWatchCmd)
	rootCmd.AddCommand(storeCmd)
}
