// Package localstorage locates and reads the WebKit local-storage database
// that the web app used before native storage existed.
package localstorage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	// ErrDatabaseFileNotFound is returned when the resolved database file does not exist
	ErrDatabaseFileNotFound = errors.New("could not find local storage database file")
	// ErrIntermediateDirectoryNotFound is returned when no salted directory matches the origin
	ErrIntermediateDirectoryNotFound = errors.New("could not find intermediate directory to the local storage database")
	// ErrInvalidEnvironment is returned when the environment lacks required fields
	ErrInvalidEnvironment = errors.New("invalid platform environment")
)

// On-disk names used by WebKit
const (
	webKitDir           = "WebKit"
	websiteDataDir      = "WebsiteData"
	defaultDir          = "Default"
	originFileName      = "origin"
	localStorageDir     = "LocalStorage"
	currentDatabaseName = "localstorage.sqlite3"
)

// currentLayoutMinVersion is the first platform version that stores website
// data under salted per-origin directories.
const currentLayoutMinVersion = "v16.0"

// Layout selects one of the two directory layouts
type Layout int

// Layout constants
const (
	LegacyLayout Layout = iota
	CurrentLayout
)

func (l Layout) String() string {
	if l == CurrentLayout {
		return "current"
	}
	return "legacy"
}

// SelectLayout picks the layout for a platform version such as "16.4" or
// "15". Versions that cannot be parsed select CurrentLayout.
func SelectLayout(version string) Layout {
	v := strings.TrimSpace(version)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
	v = "v" + v
	if !semver.IsValid(v) {
		return CurrentLayout
	}
	if semver.Compare(v, currentLayoutMinVersion) >= 0 {
		return CurrentLayout
	}
	return LegacyLayout
}

// Origin identifies the web app whose storage is migrated
type Origin struct {
	Scheme string
	Host   string
}

// DefaultOrigin is the custom scheme origin the web app was served from
var DefaultOrigin = Origin{Scheme: "ionic", Host: "app"}

// legacyFileName is WebKit's <scheme>_<host>_<port>.localstorage name.
func (o Origin) legacyFileName() string {
	return fmt.Sprintf("%s_%s_0.localstorage", o.Scheme, o.Host)
}

// Environment describes the host platform the migrator runs on
type Environment struct {
	// LibraryDir is the per-user library root
	LibraryDir string
	// Simulator inserts BundleID below the WebKit directory
	Simulator bool
	BundleID  string
	// PlatformVersion selects the layout, e.g. "16.4"
	PlatformVersion string
	// Origin defaults to DefaultOrigin
	Origin Origin
}

// Resolution is the outcome of a successful Resolve
type Resolution struct {
	Path   string
	Layout Layout
	// Candidate is the salted directory name (current layout only)
	Candidate string
}

// DefaultLibraryDir returns ~/Library
func DefaultLibraryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library")
}

// EffectiveOrigin returns Origin with empty fields taken from DefaultOrigin
func (e Environment) EffectiveOrigin() Origin {
	o := e.Origin
	if o.Scheme == "" {
		o.Scheme = DefaultOrigin.Scheme
	}
	if o.Host == "" {
		o.Host = DefaultOrigin.Host
	}
	return o
}

func (e Environment) validate() error {
	if e.LibraryDir == "" {
		return fmt.Errorf("%w: library directory not set", ErrInvalidEnvironment)
	}
	if e.Simulator && e.BundleID == "" {
		return fmt.Errorf("%w: bundle id required when running in a simulator", ErrInvalidEnvironment)
	}
	return nil
}

// Layout returns the layout for the environment's platform version
func (e Environment) Layout() Layout {
	return SelectLayout(e.PlatformVersion)
}

// BaseDir returns <library>/WebKit[/<bundle id>]/WebsiteData
func (e Environment) BaseDir() string {
	dir := filepath.Join(e.LibraryDir, webKitDir)
	if e.Simulator {
		dir = filepath.Join(dir, e.BundleID)
	}
	return filepath.Join(dir, websiteDataDir)
}

// ProbeRoot returns the directory holding the salted candidates of the
// current layout
func (e Environment) ProbeRoot() string {
	return filepath.Join(e.BaseDir(), defaultDir)
}

// Resolve computes the path of the legacy database and checks that it
// exists.
func (e Environment) Resolve() (Resolution, error) {
	if err := e.validate(); err != nil {
		return Resolution{}, err
	}

	res := Resolution{Layout: e.Layout()}
	base := e.BaseDir()

	switch res.Layout {
	case CurrentLayout:
		root := e.ProbeRoot()
		probe, err := ProbeOrigin(root, e.EffectiveOrigin())
		if err != nil {
			return res, err
		}
		if !probe.Found {
			return res, fmt.Errorf("%w: no origin under %s matches %s://%s",
				ErrIntermediateDirectoryNotFound, root, e.EffectiveOrigin().Scheme, e.EffectiveOrigin().Host)
		}
		res.Candidate = probe.Name
		res.Path = filepath.Join(root, probe.Name, probe.Name, localStorageDir, currentDatabaseName)
	default:
		res.Path = filepath.Join(base, localStorageDir, e.EffectiveOrigin().legacyFileName())
	}

	info, err := os.Stat(res.Path)
	if os.IsNotExist(err) {
		return res, fmt.Errorf("%w: %s", ErrDatabaseFileNotFound, res.Path)
	}
	if err != nil {
		return res, fmt.Errorf("checking database file: %w", err)
	}
	if info.IsDir() {
		return res, fmt.Errorf("%w: %s is a directory", ErrDatabaseFileNotFound, res.Path)
	}
	return res, nil
}
