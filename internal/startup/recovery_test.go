package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/repository"
	"github.com/jmylchreest/recodarr/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testRecovery struct {
	rec     *Recovery
	jobs    repository.JobRepository
	staging *storage.Staging
}

func newTestRecovery(t *testing.T) *testRecovery {
	t.Helper()
	base := t.TempDir()

	db, err := gorm.Open(sqlite.Open(filepath.Join(base, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}))

	jobs := repository.NewJobRepository(db)
	staging := storage.NewStaging(config.StorageConfig{
		LocalTemp:   filepath.Join(base, "temp"),
		LocalBackup: filepath.Join(base, "backup"),
	}, testLogger())
	require.NoError(t, staging.EnsureLayout())

	return &testRecovery{
		rec:     New(jobs, staging, testLogger()),
		jobs:    jobs,
		staging: staging,
	}
}

func (e *testRecovery) seedJob(t *testing.T, remotePath string, status models.JobStatus) *models.Job {
	t.Helper()
	job := models.NewJob(remotePath, 1024)
	job.Status = status
	require.NoError(t, e.jobs.Create(context.Background(), job))
	return job
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
}

func TestRunCleanTree(t *testing.T) {
	env := newTestRecovery(t)

	report, err := env.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.SentinelsCleared)
	assert.Zero(t, report.JobsReset)
	assert.Zero(t, report.OrphansRemoved)
}

func TestRunClearsInterruptedEncode(t *testing.T) {
	env := newTestRecovery(t)
	ctx := context.Background()

	download := env.staging.DownloadPath("/media/show.mkv")
	writeFile(t, download)
	output := env.staging.EncodedPath("show.mkv")
	writeFile(t, output)
	require.NoError(t, ffmpeg.WriteSentinel(output))

	job := env.seedJob(t, "/media/show.mkv", models.JobStatusEncoding)
	require.NoError(t, env.jobs.Patch(ctx, job.ID, map[string]any{
		"local_download": download,
		"local_encoded":  output,
		"percent":        33.0,
	}))

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SentinelsCleared)
	assert.Zero(t, report.JobsReset, "sentinel owner already moved out of encoding")
	assert.Zero(t, report.OrphansRemoved)

	assert.NoFileExists(t, output)
	assert.NoFileExists(t, ffmpeg.SentinelPath(output))
	assert.FileExists(t, download, "source download survives for the retry")

	found, err := env.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReadyEncode, found.Status)
	assert.Empty(t, found.LocalEncoded)
	assert.Equal(t, download, found.LocalDownload)
	assert.Zero(t, found.Percent)
}

func TestRunDemotesEncodeWithoutDownload(t *testing.T) {
	env := newTestRecovery(t)
	ctx := context.Background()

	output := env.staging.EncodedPath("gone.mkv")
	writeFile(t, output)
	require.NoError(t, ffmpeg.WriteSentinel(output))

	job := env.seedJob(t, "/media/gone.mkv", models.JobStatusEncoding)
	require.NoError(t, env.jobs.Patch(ctx, job.ID, map[string]any{
		"local_download": env.staging.DownloadPath("/media/gone.mkv"),
		"local_encoded":  output,
	}))

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SentinelsCleared)

	found, err := env.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, found.Status, "download missing on disk forces a re-download")
	assert.Empty(t, found.LocalDownload)
	assert.Empty(t, found.LocalEncoded)
}

func TestRunResetsInterruptedJobs(t *testing.T) {
	env := newTestRecovery(t)
	ctx := context.Background()

	downloading := env.seedJob(t, "/media/a.mkv", models.JobStatusDownloading)
	uploading := env.seedJob(t, "/media/b.mkv", models.JobStatusUploading)
	done := env.seedJob(t, "/media/c.mkv", models.JobStatusCompleted)

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.JobsReset)

	found, err := env.jobs.GetByID(ctx, downloading.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, found.Status)

	found, err = env.jobs.GetByID(ctx, uploading.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReadyUpload, found.Status)

	found, err = env.jobs.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, found.Status)
}

func TestRunKeepsResumableDownload(t *testing.T) {
	env := newTestRecovery(t)
	ctx := context.Background()

	partial := env.staging.DownloadPath("/media/partial.mkv")
	writeFile(t, partial)

	job := env.seedJob(t, "/media/partial.mkv", models.JobStatusDownloading)
	require.NoError(t, env.jobs.Patch(ctx, job.ID, map[string]any{
		"local_download": partial,
	}))

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.JobsReset)
	assert.Zero(t, report.OrphansRemoved)

	assert.FileExists(t, partial, "partial download stays for the resume")

	found, err := env.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, found.Status)
	assert.Equal(t, partial, found.LocalDownload)
}

func TestRunRemovesOrphans(t *testing.T) {
	env := newTestRecovery(t)
	ctx := context.Background()

	orphanDownload := env.staging.DownloadPath("nobody.mkv")
	writeFile(t, orphanDownload)
	orphanEncoded := env.staging.EncodedPath("stray.mkv")
	writeFile(t, orphanEncoded)

	kept := env.staging.DownloadPath("/media/kept.mkv")
	writeFile(t, kept)
	job := env.seedJob(t, "/media/kept.mkv", models.JobStatusReadyEncode)
	require.NoError(t, env.jobs.Patch(ctx, job.ID, map[string]any{
		"local_download": kept,
	}))

	report, err := env.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrphansRemoved)

	assert.NoFileExists(t, orphanDownload)
	assert.NoFileExists(t, orphanEncoded)
	assert.FileExists(t, kept)
}

func TestRunSentinelWithoutOwner(t *testing.T) {
	env := newTestRecovery(t)

	output := env.staging.EncodedPath("abandoned.mkv")
	writeFile(t, output)
	require.NoError(t, ffmpeg.WriteSentinel(output))

	report, err := env.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SentinelsCleared)
	assert.NoFileExists(t, output)
	assert.NoFileExists(t, ffmpeg.SentinelPath(output))
}
