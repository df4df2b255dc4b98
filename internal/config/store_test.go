package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	s, err := NewStore(path)
	require.NoError(t, err)
	return s
}

func TestNewStore_MissingExplicitFile(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestStoreConfigIsSnapshot(t *testing.T) {
	s := newTestStore(t)

	snap := s.Config()
	snap.FFmpeg.CQ = 1

	assert.Equal(t, DefaultCQ, s.Config().FFmpeg.CQ)
}

func TestStoreSetPersists(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("ffmpeg.cq", 30))
	assert.Equal(t, 30, s.Config().FFmpeg.CQ)

	// A fresh store sees the persisted value.
	reopened, err := NewStore(s.path)
	require.NoError(t, err)
	assert.Equal(t, 30, reopened.Config().FFmpeg.CQ)
	assert.Equal(t, 9090, reopened.Config().Server.Port)
}

func TestStoreSetInvalidRejected(t *testing.T) {
	s := newTestStore(t)

	err := s.Set("ffmpeg.cq", 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg.cq")

	// Neither the live config nor the file changed.
	assert.Equal(t, DefaultCQ, s.Config().FFmpeg.CQ)
	reopened, err := NewStore(s.path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCQ, reopened.Config().FFmpeg.CQ)
}

func TestStoreSetUnknownKey(t *testing.T) {
	s := newTestStore(t)

	err := s.Set("ffmpeg.quality", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration key")
}

func TestStoreUpdateAtomic(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(map[string]any{
		"ffmpeg.cq":       30,
		"transfer.method": "carrier_pigeon",
	})
	require.Error(t, err)

	// The valid half of the patch must not have been applied.
	assert.Equal(t, DefaultCQ, s.Config().FFmpeg.CQ)
	assert.Equal(t, "auto", s.Config().Transfer.Method)
}

func TestStoreUpdateAppliesAll(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Update(map[string]any{
		"ffmpeg.cq":            30,
		"advanced.release_tag": "X1",
	}))

	cfg := s.Config()
	assert.Equal(t, 30, cfg.FFmpeg.CQ)
	assert.Equal(t, "X1", cfg.Advanced.ReleaseTag)
}

func TestStoreWatch(t *testing.T) {
	s := newTestStore(t)

	var got []*Config
	cancel := s.Watch(func(c *Config) { got = append(got, c) })

	require.NoError(t, s.Set("ffmpeg.cq", 30))
	require.Len(t, got, 1)
	assert.Equal(t, 30, got[0].FFmpeg.CQ)

	// No notification for rejected changes.
	_ = s.Set("ffmpeg.cq", 99)
	assert.Len(t, got, 1)

	cancel()
	require.NoError(t, s.Set("ffmpeg.cq", 31))
	assert.Len(t, got, 1)
}

func TestStoreReload(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, os.WriteFile(s.path, []byte("server:\n  port: 7070\n"), 0o600))

	notified := 0
	s.Watch(func(*Config) { notified++ })

	require.NoError(t, s.Reload())
	assert.Equal(t, 7070, s.Config().Server.Port)
	assert.Equal(t, 1, notified)
}

func TestStoreGetAndAll(t *testing.T) {
	s := newTestStore(t)

	assert.EqualValues(t, 9090, s.Get("server.port"))
	assert.Nil(t, s.Get("no.such.key"))

	all := s.All()
	assert.Contains(t, all, "server")
	assert.Contains(t, all, "ffmpeg")
}

func TestStoreKnown(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.Known("ffmpeg.cq"))
	assert.True(t, s.Known("FFMPEG.CQ"))
	assert.False(t, s.Known("ffmpeg.quality"))
	assert.False(t, s.Known(""))
}

func TestStoreValidate(t *testing.T) {
	s := newTestStore(t)
	res := s.Validate()
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestStoreSaveCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	s, err := NewStore(path)
	require.NoError(t, err)

	s.path = filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, s.Save())

	_, err = os.Stat(s.path)
	assert.NoError(t, err)
}
