package localstorage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nativestorage/nativestorage/internal/testutil/fixtures"
)

func TestSelectLayout(t *testing.T) {
	tests := []struct {
		version  string
		expected Layout
	}{
		{"16.0", CurrentLayout},
		{"16", CurrentLayout},
		{"16.4.1", CurrentLayout},
		{"17.2", CurrentLayout},
		{"v18.0", CurrentLayout},
		{"15.7", LegacyLayout},
		{"14.0", LegacyLayout},
		{" 15.0 ", LegacyLayout},
		{"", CurrentLayout},
		{"not-a-version", CurrentLayout},
	}

	for _, tt := range tests {
		if got := SelectLayout(tt.version); got != tt.expected {
			t.Errorf("SelectLayout(%q) = %s, want %s", tt.version, got, tt.expected)
		}
	}
}

func TestBaseDir(t *testing.T) {
	lib := filepath.Join("/", "var", "Library")

	device := Environment{LibraryDir: lib}
	if got, want := device.BaseDir(), filepath.Join(lib, "WebKit", "WebsiteData"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}

	sim := Environment{LibraryDir: lib, Simulator: true, BundleID: "com.example.app"}
	if got, want := sim.BaseDir(), filepath.Join(lib, "WebKit", "com.example.app", "WebsiteData"); got != want {
		t.Errorf("simulator BaseDir() = %q, want %q", got, want)
	}
}

func TestResolve_CurrentLayout(t *testing.T) {
	lib := t.TempDir()
	websiteData := fixtures.WebsiteDataDir(lib, "")
	err := fixtures.WriteCurrentLayout(websiteData,
		fixtures.SaltedDir{Name: "a1", Origin: fixtures.OriginBlob("https", "other")},
		fixtures.SaltedDir{Name: "b2", Origin: fixtures.OriginBlob("ionic", "app"), Items: []fixtures.Item{}},
	)
	if err != nil {
		t.Fatalf("fixture setup failed: %v", err)
	}

	res, err := Environment{LibraryDir: lib, PlatformVersion: "16.2"}.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Layout != CurrentLayout || res.Candidate != "b2" {
		t.Errorf("unexpected resolution: %+v", res)
	}
	if want := fixtures.CurrentDatabasePath(websiteData, "b2"); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
}

func TestResolve_Simulator(t *testing.T) {
	lib := t.TempDir()
	websiteData := fixtures.WebsiteDataDir(lib, "com.example.app")
	if _, err := fixtures.WriteLegacyLayout(websiteData); err != nil {
		t.Fatalf("fixture setup failed: %v", err)
	}

	env := Environment{LibraryDir: lib, Simulator: true, BundleID: "com.example.app", PlatformVersion: "15.5"}
	res, err := env.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if want := fixtures.LegacyDatabasePath(websiteData); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
}

func TestResolve_LegacyLayout(t *testing.T) {
	lib := t.TempDir()
	websiteData := fixtures.WebsiteDataDir(lib, "")
	path, err := fixtures.WriteLegacyLayout(websiteData)
	if err != nil {
		t.Fatalf("fixture setup failed: %v", err)
	}

	res, err := Environment{LibraryDir: lib, PlatformVersion: "14.8"}.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Layout != LegacyLayout || res.Path != path {
		t.Errorf("unexpected resolution: %+v (want path %s)", res, path)
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Run("no intermediate directory", func(t *testing.T) {
		lib := t.TempDir()
		err := fixtures.WriteCurrentLayout(fixtures.WebsiteDataDir(lib, ""),
			fixtures.SaltedDir{Name: "a1", Origin: fixtures.OriginBlob("https", "other")},
		)
		if err != nil {
			t.Fatalf("fixture setup failed: %v", err)
		}
		_, err = Environment{LibraryDir: lib, PlatformVersion: "16.0"}.Resolve()
		if !errors.Is(err, ErrIntermediateDirectoryNotFound) {
			t.Errorf("expected ErrIntermediateDirectoryNotFound, got %v", err)
		}
	})

	t.Run("default directory missing", func(t *testing.T) {
		_, err := Environment{LibraryDir: t.TempDir(), PlatformVersion: "16.0"}.Resolve()
		if !errors.Is(err, ErrIntermediateDirectoryNotFound) {
			t.Errorf("expected ErrIntermediateDirectoryNotFound, got %v", err)
		}
	})

	t.Run("matched directory without database", func(t *testing.T) {
		lib := t.TempDir()
		err := fixtures.WriteCurrentLayout(fixtures.WebsiteDataDir(lib, ""),
			fixtures.SaltedDir{Name: "a1", Origin: fixtures.OriginBlob("ionic", "app")},
		)
		if err != nil {
			t.Fatalf("fixture setup failed: %v", err)
		}
		_, err = Environment{LibraryDir: lib, PlatformVersion: "16.0"}.Resolve()
		if !errors.Is(err, ErrDatabaseFileNotFound) {
			t.Errorf("expected ErrDatabaseFileNotFound, got %v", err)
		}
	})

	t.Run("legacy database missing", func(t *testing.T) {
		_, err := Environment{LibraryDir: t.TempDir(), PlatformVersion: "15.0"}.Resolve()
		if !errors.Is(err, ErrDatabaseFileNotFound) {
			t.Errorf("expected ErrDatabaseFileNotFound, got %v", err)
		}
	})

	t.Run("legacy path is a directory", func(t *testing.T) {
		lib := t.TempDir()
		if err := os.MkdirAll(fixtures.LegacyDatabasePath(fixtures.WebsiteDataDir(lib, "")), 0o750); err != nil {
			t.Fatal(err)
		}
		_, err := Environment{LibraryDir: lib, PlatformVersion: "15.0"}.Resolve()
		if !errors.Is(err, ErrDatabaseFileNotFound) {
			t.Errorf("expected ErrDatabaseFileNotFound, got %v", err)
		}
	})

	t.Run("invalid environment", func(t *testing.T) {
		if _, err := (Environment{}).Resolve(); !errors.Is(err, ErrInvalidEnvironment) {
			t.Errorf("expected ErrInvalidEnvironment, got %v", err)
		}
		if _, err := (Environment{LibraryDir: "/x", Simulator: true}).Resolve(); !errors.Is(err, ErrInvalidEnvironment) {
			t.Errorf("expected ErrInvalidEnvironment for simulator without bundle id, got %v", err)
		}
	})
}
