package nativestorage

import (
	"os"
	"path/filepath"

	"github.com/nativestorage/nativestorage/internal/configfile"
	"github.com/nativestorage/nativestorage/internal/utils"
)

// StoreDirEnv overrides store directory discovery
const StoreDirEnv = "NSTORE_STORE_DIR"

// FindStoreDir returns the directory holding the suite files. Order:
// explicit (e.g. from --store-dir), $NSTORE_STORE_DIR, a .nstore/store
// directory in the working directory or its ancestors, then the per-user
// default.
func FindStoreDir(explicit string) string {
	if explicit != "" {
		return utils.CanonicalizePath(explicit)
	}
	if dir := os.Getenv(StoreDirEnv); dir != "" {
		return utils.CanonicalizePath(dir)
	}

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".nstore", "store")
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return candidate
			}
			if filepath.Dir(dir) == dir {
				break
			}
		}
	}

	return configfile.DefaultStoreDir()
}

// OpenService loads the metadata of storeDir, creating it if needed, and
// returns a Service whose suites are files in that directory.
func OpenService(storeDir string, opts ...Option) (*Service, *configfile.Config, error) {
	cfg, err := configfile.LoadOrCreate(storeDir)
	if err != nil {
		return nil, nil, err
	}
	s := New(nil, opts...)
	s.open = FileOpener(storeDir, cfg, s.logger)
	s.suite = cfg.DefaultSuite
	return s, cfg, nil
}
