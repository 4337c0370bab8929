// Package utils provides path helpers shared by the CLI and the service.
package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// CanonicalizePath converts a path to its canonical form: ~ expanded,
// absolute, and with symlinks resolved when the path exists. It falls
// back to the cleaned absolute path (or the input) when resolution fails.
func CanonicalizePath(path string) string {
	path = ExpandHome(path)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	canonical, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return absPath
	}
	return canonical
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
