package localstorage

import (
	"os"
	"path/filepath"

	sqlite3 "github.com/ncruces/go-sqlite3"
	// Import SQLite driver
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// setupWASMCache configures WASM compilation caching to reduce SQLite startup time.
// Returns the cache directory path (empty string if using in-memory cache).
//
// Cache behavior:
//   - Location: <user cache dir>/nativestorage/wasm/
//   - Version management: wazero keys the cache by its own version
//   - Fallback: in-memory cache if the filesystem cache cannot be created
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "nativestorage", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}

	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)

	return cacheDir
}

func init() {
	_ = setupWASMCache()
}
