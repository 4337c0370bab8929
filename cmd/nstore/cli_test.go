package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nativestorage/nativestorage/internal/config"
	"github.com/nativestorage/nativestorage/internal/localstorage"
	"github.com/nativestorage/nativestorage/internal/migrate"
	"github.com/nativestorage/nativestorage/internal/nativestorage"
	"github.com/nativestorage/nativestorage/internal/rpc"
	"github.com/nativestorage/nativestorage/internal/testutil/fixtures"
)

// In-process CLI tests. rootCmd and the flag globals are shared, so every
// run holds inProcessMutex.
var inProcessMutex sync.Mutex

func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "nstore-cli-home-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, config.EnvPrefix+"_") {
			_ = os.Unsetenv(name)
		}
	}
	_ = os.Setenv("HOME", home)
	_ = os.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	if err := config.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(home)
	os.Exit(code)
}

// resetFlags restores every flag of cmd and its subcommands to its default
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// runNstore runs nstore in-process and returns its output and exit code
func runNstore(args ...string) (stdout, stderr string, code int) {
	inProcessMutex.Lock()
	defer inProcessMutex.Unlock()

	resetFlags(rootCmd)
	var outBuf, errBuf bytes.Buffer
	code = execute(args, &outBuf, &errBuf)
	rootCmd.SetArgs(nil)
	return outBuf.String(), errBuf.String(), code
}

// mustRun fails the test unless nstore exits 0
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, code := runNstore(args...)
	if code != 0 {
		t.Fatalf("nstore %v exited %d\nStdout: %s\nStderr: %s", args, code, stdout, stderr)
	}
	return stdout
}

type cliEnv struct {
	lib   string
	store string
	db    string
}

// args prefixes the environment flags for a legacy-layout run
func (e cliEnv) args(args ...string) []string {
	return append([]string{"--library-dir", e.lib, "--platform-version", "15.4", "--store-dir", e.store}, args...)
}

func setupLegacy(t *testing.T, items ...fixtures.Item) cliEnv {
	t.Helper()
	dir := t.TempDir()
	e := cliEnv{lib: filepath.Join(dir, "Library"), store: filepath.Join(dir, "store")}
	db, err := fixtures.WriteLegacyLayout(fixtures.WebsiteDataDir(e.lib, ""), items...)
	if err != nil {
		t.Fatalf("failed to create legacy database: %v", err)
	}
	e.db = db
	return e
}

func decodeJSON(t *testing.T, out string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("failed to parse JSON: %v\nOutput: %s", err, out)
	}
}

func TestCLI_MigrateLegacy(t *testing.T) {
	e := setupLegacy(t,
		fixtures.TextItem("rapid-username", "alice"),
		fixtures.TextItem("rapid-user-changed", "true"),
		fixtures.TextItem("rapid-app-paused-timestamp", "1700000000000"),
		fixtures.TextItem("other-key", "keep"),
	)

	out := mustRun(t, e.args("--json", "migrate")...)
	var report struct {
		State        string `json:"state"`
		DatabasePath string `json:"database_path"`
		Layout       string `json:"layout"`
		Migrated     int    `json:"migrated"`
		Deleted      int64  `json:"deleted"`
		RunID        string `json:"run_id"`
	}
	decodeJSON(t, out, &report)
	if report.State != "done" {
		t.Errorf("state = %q, want done", report.State)
	}
	if report.DatabasePath != e.db {
		t.Errorf("database_path = %q, want %q", report.DatabasePath, e.db)
	}
	if report.Layout != "legacy" {
		t.Errorf("layout = %q, want legacy", report.Layout)
	}
	if report.Migrated != 3 || report.Deleted != 3 {
		t.Errorf("migrated/deleted = %d/%d, want 3/3", report.Migrated, report.Deleted)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}

	rows, err := fixtures.ReadItems(e.db)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Key != "other-key" {
		t.Errorf("remaining rows = %v, want only other-key", rows)
	}

	if got := strings.TrimSpace(mustRun(t, e.args("store", "get", "rapid-username")...)); got != "alice" {
		t.Errorf("rapid-username = %q, want alice", got)
	}

	var value struct {
		Kind  string      `json:"kind"`
		Value interface{} `json:"value"`
	}
	decodeJSON(t, mustRun(t, e.args("--json", "store", "get", "rapid-user-changed")...), &value)
	if value.Kind != "bool" || value.Value != true {
		t.Errorf("rapid-user-changed = %+v, want bool true", value)
	}
	decodeJSON(t, mustRun(t, e.args("--json", "store", "get", "rapid-app-paused-timestamp")...), &value)
	if value.Kind != "double" || value.Value != float64(1700000000000) {
		t.Errorf("rapid-app-paused-timestamp = %+v, want double 1.7e12", value)
	}
}

func TestCLI_MigrateIsIdempotent(t *testing.T) {
	e := setupLegacy(t, fixtures.TextItem("rapid-username", "alice"))
	mustRun(t, e.args("migrate")...)

	// Recreate the source with a different value; the guard must skip it.
	if err := os.Remove(e.db); err != nil {
		t.Fatal(err)
	}
	if _, err := fixtures.WriteLegacyLayout(fixtures.WebsiteDataDir(e.lib, ""), fixtures.TextItem("rapid-username", "mallory")); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, e.args("migrate")...)
	if !strings.Contains(out, "already migrated") {
		t.Errorf("expected already migrated message, got: %s", out)
	}
	if got := strings.TrimSpace(mustRun(t, e.args("store", "get", "rapid-username")...)); got != "alice" {
		t.Errorf("rapid-username = %q, want alice", got)
	}

	out = mustRun(t, e.args("migrate", "--force")...)
	if !strings.Contains(out, "Migrated 1 value(s)") {
		t.Errorf("expected forced migration, got: %s", out)
	}
	if got := strings.TrimSpace(mustRun(t, e.args("store", "get", "rapid-username")...)); got != "mallory" {
		t.Errorf("rapid-username = %q, want mallory", got)
	}
}

func TestCLI_MigrateDryRunAndBackup(t *testing.T) {
	e := setupLegacy(t, fixtures.TextItem("rapid-username", "alice"))

	out := mustRun(t, e.args("migrate", "--dry-run")...)
	if !strings.Contains(out, "Dry run: would migrate 1 value(s)") {
		t.Errorf("unexpected dry run output: %s", out)
	}
	if rows, _ := fixtures.ReadItems(e.db); len(rows) != 1 {
		t.Errorf("dry run changed the source: %v", rows)
	}

	backups := filepath.Join(t.TempDir(), "backups")
	out = mustRun(t, e.args("--json", "migrate", "--backup-dir", backups)...)
	var report struct {
		BackupPath string `json:"backup_path"`
	}
	decodeJSON(t, out, &report)
	if filepath.Dir(report.BackupPath) != backups {
		t.Fatalf("backup_path = %q, want it inside %s", report.BackupPath, backups)
	}
	rows, err := fixtures.ReadItems(report.BackupPath)
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != "rapid-username" {
		t.Errorf("backup rows = %v, want the pre-migration row", rows)
	}
}

func TestCLI_Inspect(t *testing.T) {
	e := setupLegacy(t,
		fixtures.TextItem("rapid-username", "alice"),
		fixtures.TextItem("rapid-mystery", "x"),
	)

	out := mustRun(t, e.args("inspect")...)
	for _, want := range []string{"legacy layout", "Would migrate 1 value(s), 1 without type rule", "rapid-username", "not migrated"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, e.args("inspect", "--format", "yaml")...)
	if !strings.Contains(out, "dry_run: true") {
		t.Errorf("expected YAML report, got:\n%s", out)
	}

	_, _, code := runNstore(e.args("inspect", "--format", "xml")...)
	if code != 1 {
		t.Errorf("unknown format exit code = %d, want 1", code)
	}

	if rows, _ := fixtures.ReadItems(e.db); len(rows) != 2 {
		t.Errorf("inspect changed the source: %v", rows)
	}
}

func TestCLI_LocateCurrentLayout(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "Library")
	websiteData := fixtures.WebsiteDataDir(lib, "com.example.app")
	err := fixtures.WriteCurrentLayout(websiteData,
		fixtures.SaltedDir{Name: "aaa", Origin: fixtures.OriginBlob("https", "example.com")},
		fixtures.SaltedDir{Name: "bbb", Origin: fixtures.OriginBlob("ionic", "app"), Items: []fixtures.Item{}},
	)
	if err != nil {
		t.Fatal(err)
	}
	base := []string{"--library-dir", lib, "--simulator", "--bundle-id", "com.example.app", "--platform-version", "17.2"}

	out := mustRun(t, append(base, "locate")...)
	if got, want := strings.TrimSpace(out), fixtures.CurrentDatabasePath(websiteData, "bbb"); got != want {
		t.Errorf("locate = %q, want %q", got, want)
	}

	var result struct {
		Layout    string                   `json:"layout"`
		Candidate string                   `json:"candidate"`
		Inspected []localstorage.Candidate `json:"inspected"`
	}
	decodeJSON(t, mustRun(t, append(base, "--json", "locate", "--probe")...), &result)
	if result.Layout != "current" || result.Candidate != "bbb" {
		t.Errorf("result = %+v, want current layout with candidate bbb", result)
	}
	if len(result.Inspected) != 2 || result.Inspected[1].Reason != "match" {
		t.Errorf("inspected = %+v", result.Inspected)
	}
}

func TestCLI_StoreCommands(t *testing.T) {
	store := t.TempDir()
	with := func(args ...string) []string { return append([]string{"--store-dir", store}, args...) }

	mustRun(t, with("store", "put", "name", "bob")...)
	mustRun(t, with("store", "put", "count", "42", "--type", "int")...)
	mustRun(t, with("store", "put", "ratio", "0.5", "--type", "double")...)
	mustRun(t, with("store", "put", "flag", "yes", "--type", "bool")...)

	var keys []string
	decodeJSON(t, mustRun(t, with("--json", "store", "keys")...), &keys)
	if want := []string{"count", "flag", "name", "ratio"}; strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}

	if got := strings.TrimSpace(mustRun(t, with("store", "get", "count")...)); got != "42" {
		t.Errorf("count = %q, want 42", got)
	}

	mustRun(t, with("store", "remove", "name")...)
	stdout, _, code := runNstore(with("--json", "store", "get", "name")...)
	if code != 1 {
		t.Fatalf("get of removed key exit code = %d, want 1", code)
	}
	var failure struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	decodeJSON(t, stdout, &failure)
	if failure.Error != "not_found" || failure.Code != nativestorage.CodeNotFound {
		t.Errorf("failure = %+v, want not_found/%d", failure, nativestorage.CodeNotFound)
	}

	if _, _, code := runNstore(with("store", "clear")...); code != 1 {
		t.Errorf("clear without --force exit code = %d, want 1", code)
	}
	mustRun(t, with("store", "clear", "--force")...)
	if out := mustRun(t, with("store", "keys")...); out != "" {
		t.Errorf("keys after clear = %q, want none", out)
	}
}

func TestCLI_StorePutRejectsBadNumbers(t *testing.T) {
	store := t.TempDir()
	stdout, _, code := runNstore("--store-dir", store, "--json", "store", "put", "count", "many", "--type", "int")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	var failure struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	decodeJSON(t, stdout, &failure)
	if failure.Error != "wrong_parameter" || failure.Code != nativestorage.CodeWrongParameter {
		t.Errorf("failure = %+v", failure)
	}
}

func TestCLI_SuiteSelection(t *testing.T) {
	store := t.TempDir()
	mustRun(t, "--store-dir", store, "--suite", "Other", "store", "put", "k", "v")

	if out := mustRun(t, "--store-dir", store, "store", "keys"); out != "" {
		t.Errorf("default suite keys = %q, want none", out)
	}
	if out := mustRun(t, "--store-dir", store, "--suite", "Other", "store", "keys"); strings.TrimSpace(out) != "k" {
		t.Errorf("Other suite keys = %q, want k", out)
	}
	if _, _, code := runNstore("--store-dir", store, "--suite", "../escape", "store", "keys"); code != 1 {
		t.Errorf("invalid suite exit code = %d, want 1", code)
	}
}

func TestCLI_MigrateErrors(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "Library")
	store := t.TempDir()

	stdout, stderr, code := runNstore("--library-dir", lib, "--platform-version", "15.4", "--store-dir", store, "migrate")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1\nStdout: %s", code, stdout)
	}
	if !strings.Contains(stderr, "Error:") || !strings.Contains(stderr, "could not find local storage database file") {
		t.Errorf("unexpected stderr: %s", stderr)
	}

	stdout, _, code = runNstore("--library-dir", lib, "--platform-version", "17", "--store-dir", store, "--json", "migrate")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	var failure struct {
		Error string `json:"error"`
	}
	decodeJSON(t, stdout, &failure)
	if failure.Error != "intermediate_directory_not_found" {
		t.Errorf("error = %q, want intermediate_directory_not_found", failure.Error)
	}

	_, stderr, code = runNstore("--library-dir", lib, "--simulator", "--store-dir", store, "locate")
	if code != 1 || !strings.Contains(stderr, "bundle id required") {
		t.Errorf("simulator without bundle id: code %d, stderr %s", code, stderr)
	}
}

func TestCLI_ConfigFile(t *testing.T) {
	e := setupLegacy(t, fixtures.TextItem("rapid-username", "alice"))
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("library-dir: %s\nplatform-version: \"15.4\"\nstore:\n  dir: %s\n", e.lib, e.store)
	if err := os.WriteFile(cfg, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NSTORE_CONFIG", cfg)
	if err := config.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("NSTORE_CONFIG")
		_ = config.Initialize()
	})

	out := mustRun(t, "migrate")
	if !strings.Contains(out, "Migrated 1 value(s)") {
		t.Errorf("expected migration from config, got: %s", out)
	}
	if got := strings.TrimSpace(mustRun(t, "store", "get", "rapid-username")); got != "alice" {
		t.Errorf("rapid-username = %q, want alice", got)
	}
}

func TestCLI_Version(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "nstore version "+Version) {
		t.Errorf("unexpected version output: %s", out)
	}
	if out := mustRun(t, "-v"); !strings.Contains(out, Version) {
		t.Errorf("unexpected -v output: %s", out)
	}
}

func TestCLI_CallBridge(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ns-cli-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	svc, _, err := nativestorage.OpenService(filepath.Join(tmpDir, "store"))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.InitWithSuiteName("NativeStorage"); err != nil {
		t.Fatal(err)
	}
	sock := filepath.Join(tmpDir, "b.sock")
	server := rpc.NewServer(sock, svc, tmpDir)
	done := make(chan error, 1)
	go func() { done <- server.Start(context.Background()) }()
	<-server.Ready()
	t.Cleanup(func() {
		_ = server.Stop()
		<-done
	})

	var ping rpc.PingResponse
	decodeJSON(t, mustRun(t, "call", "--socket", sock, "ping"), &ping)
	if ping.Message != "pong" || ping.Version != Version {
		t.Errorf("ping = %+v", ping)
	}

	if out := mustRun(t, "call", "--socket", sock, "put_int", `{"key":"count","value":3}`); strings.TrimSpace(out) != "ok" {
		t.Errorf("put_int output = %q, want ok", out)
	}
	var value rpc.ValueResponse
	decodeJSON(t, mustRun(t, "call", "--socket", sock, "get_double", `{"key":"count"}`), &value)
	if value.Value != float64(3) {
		t.Errorf("get_double = %+v, want 3", value)
	}

	stdout, _, code := runNstore("--json", "call", "--socket", sock, "get_item", `{"key":"missing"}`)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	var failure struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	decodeJSON(t, stdout, &failure)
	if failure.Error != "not_found" || failure.Code != nativestorage.CodeNotFound {
		t.Errorf("failure = %+v", failure)
	}

	if _, _, code := runNstore("call", "--socket", sock, "put_int", "{not json"); code != 1 {
		t.Errorf("invalid args exit code = %d, want 1", code)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", migrate.ErrDatabaseFileNotFound), "database_not_found"},
		{&migrate.Error{Op: migrate.WritingDestination, Err: migrate.ErrDestinationWrite}, "destination_write_failed"},
		{fmt.Errorf("%w: nope", localstorage.ErrInvalidEnvironment), "invalid_environment"},
		{nativestorage.ErrWrongParameter, "wrong_parameter"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
