package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nativestorage/nativestorage/internal/config"
	"github.com/nativestorage/nativestorage/internal/configfile"
	"github.com/nativestorage/nativestorage/internal/kvstore"
	"github.com/nativestorage/nativestorage/internal/localstorage"
	"github.com/nativestorage/nativestorage/internal/logging"
	"github.com/nativestorage/nativestorage/internal/migrate"
	"github.com/nativestorage/nativestorage/internal/nativestorage"
	"github.com/nativestorage/nativestorage/internal/rpc"
	"github.com/nativestorage/nativestorage/internal/utils"
)

var (
	jsonOutput      bool
	verbose         bool
	libraryDir      string
	simulator       bool
	bundleID        string
	platformVersion string
	storeDir        string
	suiteName       string

	logger = logging.Nop()
)

func init() {
	// Initialize viper configuration
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Show debug logs on stderr")
	rootCmd.PersistentFlags().StringVar(&libraryDir, "library-dir", "", "Per-user library directory (default: ~/Library)")
	rootCmd.PersistentFlags().BoolVar(&simulator, "simulator", false, "Use the simulator directory layout")
	rootCmd.PersistentFlags().StringVar(&bundleID, "bundle-id", "", "App bundle identifier (required with --simulator)")
	rootCmd.PersistentFlags().StringVar(&platformVersion, "platform-version", "", "Platform version, e.g. 16.4 (selects the directory layout)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "Native storage directory (default: auto-discover)")
	rootCmd.PersistentFlags().StringVar(&suiteName, "suite", "", "Storage suite (default: from store metadata)")

	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:           "nstore",
	Short:         "nstore - typed native storage with legacy local-storage migration",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Fprintf(cmd.OutOrStdout(), "nstore version %s (%s)\n", Version, Build)
			return nil
		}
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Priority: flags > viper (config file + env vars) > defaults
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if !cmd.Flags().Changed("verbose") {
			verbose = config.GetBool("verbose")
		}
		if !cmd.Flags().Changed("simulator") {
			simulator = config.GetBool("simulator")
		}
		if !cmd.Flags().Changed("library-dir") && libraryDir == "" {
			libraryDir = config.GetString("library-dir")
		}
		if !cmd.Flags().Changed("bundle-id") && bundleID == "" {
			bundleID = config.GetString("bundle-id")
		}
		if !cmd.Flags().Changed("platform-version") && platformVersion == "" {
			platformVersion = config.GetString("platform-version")
		}
		if !cmd.Flags().Changed("store-dir") && storeDir == "" {
			storeDir = config.GetString("store.dir")
		}
		if !cmd.Flags().Changed("suite") && suiteName == "" {
			suiteName = config.GetString("store.suite")
		}

		l, err := logging.New(logging.Options{
			Verbose:    verbose,
			File:       utils.ExpandHome(config.GetString("log.file")),
			MaxSizeMB:  config.GetInt("log.max-size-mb"),
			MaxBackups: config.GetInt("log.max-backups"),
			MaxAgeDays: config.GetInt("log.max-age-days"),
			Compress:   config.GetBool("log.compress"),
			Console:    cmd.ErrOrStderr(),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
}

// environment describes the platform from flags and config
func environment() localstorage.Environment {
	lib := utils.ExpandHome(libraryDir)
	if lib == "" {
		lib = localstorage.DefaultLibraryDir()
	}
	return localstorage.Environment{
		LibraryDir:      lib,
		Simulator:       simulator,
		BundleID:        bundleID,
		PlatformVersion: platformVersion,
		Origin: localstorage.Origin{
			Scheme: config.GetString("origin.scheme"),
			Host:   config.GetString("origin.host"),
		},
	}
}

// openSuiteStore opens the file store of the selected suite
func openSuiteStore() (*kvstore.FileStore, error) {
	dir := nativestorage.FindStoreDir(storeDir)
	cfg, err := configfile.LoadOrCreate(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load store metadata: %w", err)
	}
	path, err := cfg.SuitePath(dir, suiteName)
	if err != nil {
		return nil, err
	}
	return kvstore.OpenFile(path, kvstore.WithLogger(logger.Logger))
}

// openService opens the native storage service on the selected suite
func openService() (*nativestorage.Service, error) {
	dir := nativestorage.FindStoreDir(storeDir)
	svc, cfg, err := nativestorage.OpenService(dir,
		nativestorage.WithLogger(logger.Logger),
		nativestorage.WithEnvironment(environment()))
	if err != nil {
		return nil, fmt.Errorf("failed to open native storage: %w", err)
	}
	suite := suiteName
	if suite == "" {
		suite = cfg.DefaultSuite
	}
	if err := svc.InitWithSuiteName(suite); err != nil {
		return nil, err
	}
	return svc, nil
}

// outputJSON writes v as indented JSON
func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	return nil
}

// errorCode names err for JSON error output
func errorCode(err error) string {
	switch {
	case errors.Is(err, migrate.ErrDatabaseFileNotFound):
		return "database_not_found"
	case errors.Is(err, migrate.ErrIntermediateDirectoryNotFound):
		return "intermediate_directory_not_found"
	case errors.Is(err, migrate.ErrDatabaseOpenFailed):
		return "database_open_failed"
	case errors.Is(err, migrate.ErrDestinationWrite):
		return "destination_write_failed"
	case errors.Is(err, migrate.ErrBackupFailed):
		return "backup_failed"
	case errors.Is(err, localstorage.ErrInvalidEnvironment):
		return "invalid_environment"
	case errors.Is(err, rpc.ErrAlreadyRunning):
		return "bridge_running"
	case errors.Is(err, nativestorage.ErrNotFound):
		return "not_found"
	case errors.Is(err, nativestorage.ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, nativestorage.ErrNullReference):
		return "null_reference"
	case errors.Is(err, nativestorage.ErrWrongParameter):
		return "wrong_parameter"
	}
	return "error"
}

// execute runs the CLI with args and returns the process exit code
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if closeErr := logger.Close(); closeErr != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", closeErr)
	}
	logger = logging.Nop()

	if err == nil {
		return 0
	}
	if jsonOutput {
		out := map[string]interface{}{
			"error":   errorCode(err),
			"message": err.Error(),
		}
		if code := nativestorage.Code(err); code != 0 {
			out["code"] = code
		}
		_ = outputJSON(stdout, out)
	} else {
		fmt.Fprintf(stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
	}
	return 1
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
