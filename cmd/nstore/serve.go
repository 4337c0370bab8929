package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nativestorage/nativestorage/internal/config"
	"github.com/nativestorage/nativestorage/internal/nativestorage"
	"github.com/nativestorage/nativestorage/internal/rpc"
	"github.com/nativestorage/nativestorage/internal/utils"
)

const socketName = "bridge.sock"

// socketPath returns the bridge socket: the flag, then config, then
// <store dir>/bridge.sock
func socketPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("socket")
	if path == "" {
		path = config.GetString("bridge.socket")
	}
	if path == "" {
		return filepath.Join(nativestorage.FindStoreDir(storeDir), socketName)
	}
	return utils.ExpandHome(path)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve native storage to the host app over a Unix socket",
	Long: `Start the host bridge. The service opens its default suite and
migrates legacy local-storage data first (unless --no-migrate), then answers
line-delimited JSON requests on the socket until interrupted or a client
sends "shutdown".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		backupDir := config.GetString("migrate.backup-dir")

		dir := nativestorage.FindStoreDir(storeDir)
		svc, cfg, err := nativestorage.OpenService(dir,
			nativestorage.WithLogger(logger.Logger),
			nativestorage.WithEnvironment(environment()),
			nativestorage.WithMigrationBackup(utils.ExpandHome(backupDir)))
		if err != nil {
			return fmt.Errorf("failed to open native storage: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if noMigrate {
			suite := suiteName
			if suite == "" {
				suite = cfg.DefaultSuite
			}
			if err := svc.InitWithSuiteName(suite); err != nil {
				return err
			}
		} else {
			report, err := svc.Initialize(ctx)
			if err != nil {
				return err
			}
			if report != nil {
				logger.Info("startup migration finished",
					zap.Stringer("state", report.State),
					zap.Int("migrated", report.Migrated))
			}
			if suiteName != "" {
				if err := svc.InitWithSuiteName(suiteName); err != nil {
					return err
				}
			}
		}

		server := rpc.NewServer(socketPath(cmd), svc, dir, rpc.WithLogger(logger.Logger))
		go func() {
			<-server.Ready()
			if jsonOutput {
				_ = outputJSON(cmd.OutOrStdout(), map[string]string{"socket": server.SocketPath()})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", svc.Suite(), server.SocketPath())
		}()
		return server.Start(ctx)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <operation> [args-json]",
	Short: "Send one request to a running bridge and print the response",
	Example: `  nstore call ping
  nstore call put_int '{"key":"count","value":3}'
  nstore call get_item '{"key":"rapid-username"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("%w: args must be valid JSON", nativestorage.ErrWrongParameter)
			}
			raw = json.RawMessage(args[1])
		}

		client, err := rpc.TryConnect(socketPath(cmd))
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		resp, err := client.Execute(args[0], raw)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), map[string]bool{"success": true})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}
		return outputJSON(cmd.OutOrStdout(), resp.Data)
	},
}

func init() {
	rpc.ServerVersion = Version
	rpc.ClientVersion = Version

	serveCmd.Flags().String("socket", "", "Socket path (default: <store dir>/bridge.sock)")
	serveCmd.Flags().Bool("no-migrate", false, "Skip the startup migration")
	callCmd.Flags().String("socket", "", "Socket path (default: <store dir>/bridge.sock)")
	rootCmd.AddCommand(serveCmd, callCmd)
}
