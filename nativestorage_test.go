package nativestorage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nativestorage/nativestorage"
	"github.com/nativestorage/nativestorage/internal/testutil/fixtures"
)

func TestRunMigrationIfNeeded(t *testing.T) {
	lib := t.TempDir()
	_, err := fixtures.WriteLegacyLayout(fixtures.WebsiteDataDir(lib, ""),
		fixtures.TextItem("rapid-username", "alice"),
		fixtures.TextItem("rapid-user-changed", "1"),
	)
	require.NoError(t, err)

	store, err := nativestorage.OpenFileStore(filepath.Join(t.TempDir(), "NativeStorage.json"), zap.NewNop())
	require.NoError(t, err)
	env := nativestorage.Environment{LibraryDir: lib, PlatformVersion: "14.8"}

	require.False(t, nativestorage.HasMigrated(store))
	report, err := nativestorage.RunMigrationIfNeeded(context.Background(), store, env, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.True(t, nativestorage.HasMigrated(store))

	v, ok := store.Get("rapid-user-changed")
	require.True(t, ok)
	assert.Equal(t, nativestorage.KindBool, v.Kind)
	assert.True(t, v.Bool)

	report, err = nativestorage.RunMigrationIfNeeded(context.Background(), store, env, nil)
	require.NoError(t, err)
	assert.True(t, report.AlreadyMigrated)
}

func TestRunMigrationIfNeededMissingDatabase(t *testing.T) {
	store := nativestorage.NewMemoryStore()
	env := nativestorage.Environment{LibraryDir: t.TempDir(), PlatformVersion: "15"}

	_, err := nativestorage.RunMigrationIfNeeded(context.Background(), store, env, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, nativestorage.ErrDatabaseFileNotFound))
	assert.Empty(t, store.Keys())
}

func TestOpenService(t *testing.T) {
	svc, err := nativestorage.OpenService(t.TempDir(),
		nativestorage.WithEnvironment(nativestorage.Environment{LibraryDir: t.TempDir(), PlatformVersion: "17.0"}))
	require.NoError(t, err)

	_, err = svc.Initialize(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.PutDouble("ratio", 0.25))
	got, err := svc.GetDouble("ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.25, got)

	_, err = svc.GetItem("missing")
	assert.ErrorIs(t, err, nativestorage.ErrNotFound)
}
