package remote

import (
	"context"
	"testing"

	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRemote(t *testing.T) {
	fake := newFakeCapability("sftp")
	fake.files["/movies/a.mkv"] = []byte("original")

	backup, created, err := BackupRemote(context.Background(), fake, "/movies/a.mkv")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "/movies/a.bak.mkv", backup)

	assert.NotContains(t, fake.files, "/movies/a.mkv")
	assert.Equal(t, []byte("original"), fake.files["/movies/a.bak.mkv"])
}

func TestBackupRemote_MissingOriginalIsNoOp(t *testing.T) {
	fake := newFakeCapability("sftp")

	backup, created, err := BackupRemote(context.Background(), fake, "/movies/a.mkv")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "/movies/a.bak.mkv", backup)
	assert.Equal(t, []string{"exists"}, fake.calls, "nothing is renamed")
}

func TestBackupRemote_FailureCarriesBackupKind(t *testing.T) {
	fake := newFakeCapability("sftp")
	fake.files["/movies/a.mkv"] = []byte("original")
	fake.fail("rename", models.ErrorKindNetworkTransient)

	_, created, err := BackupRemote(context.Background(), fake, "/movies/a.mkv")
	require.Error(t, err)
	assert.False(t, created)
	assert.Equal(t, models.ErrorKindBackupFailed, models.KindOf(err))
}

func TestRestoreRemote(t *testing.T) {
	fake := newFakeCapability("sftp")
	fake.files["/movies/a.bak.mkv"] = []byte("original")

	require.NoError(t, RestoreRemote(context.Background(), fake, "/movies/a.mkv"))

	assert.Equal(t, []byte("original"), fake.files["/movies/a.mkv"])
	assert.NotContains(t, fake.files, "/movies/a.bak.mkv")
}

func TestRestoreRemote_NothingToRestore(t *testing.T) {
	fake := newFakeCapability("sftp")

	require.NoError(t, RestoreRemote(context.Background(), fake, "/movies/a.mkv"))
	assert.Equal(t, []string{"exists"}, fake.calls)
}

func TestRestoreRemote_FailureIsCritical(t *testing.T) {
	fake := newFakeCapability("sftp")
	fake.files["/movies/a.bak.mkv"] = []byte("original")
	fake.fail("rename", models.ErrorKindNetworkTransient)

	err := RestoreRemote(context.Background(), fake, "/movies/a.mkv")
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindRollbackFailed, models.KindOf(err))
	assert.True(t, models.KindOf(err).Critical())
}

func TestRemoveBackup(t *testing.T) {
	fake := newFakeCapability("sftp")
	fake.files["/movies/a.bak.mkv"] = []byte("original")

	require.NoError(t, RemoveBackup(context.Background(), fake, "/movies/a.mkv"))
	assert.NotContains(t, fake.files, "/movies/a.bak.mkv")

	// Deleting an already-removed backup stays quiet.
	require.NoError(t, RemoveBackup(context.Background(), fake, "/movies/a.mkv"))
}

func TestRemoveBackup_OtherErrorsSurface(t *testing.T) {
	fake := newFakeCapability("sftp")
	fake.files["/movies/a.bak.mkv"] = []byte("original")
	fake.fail("delete", models.ErrorKindNetworkTransient)

	err := RemoveBackup(context.Background(), fake, "/movies/a.mkv")
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}
