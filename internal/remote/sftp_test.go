package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "media"
	testPassword = "hunter2"
)

// startSFTPServer runs a minimal SSH server with the sftp subsystem serving
// the process filesystem, so tests address absolute paths under t.TempDir().
func startSFTPServer(t *testing.T) config.RemoteConfig {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	conf := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("rejected credentials for %q", meta.User())
		},
	}
	conf.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, conf)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.RemoteConfig{
		Host:     host,
		Port:     port,
		User:     testUser,
		Password: testPassword,
	}
}

func serveSSHConn(conn net.Conn, conf *ssh.ServerConfig) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, conf)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			continue
		}

		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" &&
					len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				req.Reply(ok, nil)
			}
		}(requests)

		go func(ch ssh.Channel) {
			defer ch.Close()
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			server.Serve()
		}(channel)
	}
}

func newTestSFTPClient(t *testing.T, cfg config.RemoteConfig) *SFTPClient {
	t.Helper()
	c := NewSFTPClient(cfg, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestSFTPClient_Connect(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)

	require.False(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
}

func TestSFTPClient_ConnectBadPassword(t *testing.T) {
	cfg := startSFTPServer(t)
	cfg.Password = "wrong"
	c := newTestSFTPClient(t, cfg)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindAuthFailed, models.KindOf(err))
}

func TestSFTPClient_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := config.RemoteConfig{Host: "127.0.0.1", User: testUser, Password: testPassword}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	cfg.Port, _ = strconv.Atoi(portStr)
	ln.Close()

	c := newTestSFTPClient(t, cfg)
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindNetworkTransient, models.KindOf(err))
}

func TestSFTPClient_ConnectUnconfigured(t *testing.T) {
	c := newTestSFTPClient(t, config.RemoteConfig{})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindInvalidConfig, models.KindOf(err))
}

func TestSFTPClient_ListFiltersAndSorts(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "zulu.mkv"), []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha.mkv"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("x"), 0o644))

	entries, err := c.List(ctx, root)
	require.NoError(t, err)
	require.Len(t, entries, 3, "dot files are filtered")

	assert.Equal(t, "shows", entries[0].Name)
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "alpha.mkv", entries[1].Name)
	assert.Equal(t, "zulu.mkv", entries[2].Name)
	assert.Equal(t, filepath.Join(root, "alpha.mkv"), entries[1].Path)
	assert.Equal(t, int64(1), entries[1].Size)
}

func TestSFTPClient_StatAndExists(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	root := t.TempDir()
	target := filepath.Join(root, "movie.mkv")
	require.NoError(t, os.WriteFile(target, []byte("0123456789"), 0o644))

	entry, err := c.Stat(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", entry.Name)
	assert.Equal(t, target, entry.Path)
	assert.Equal(t, int64(10), entry.Size)
	assert.Equal(t, EntryTypeFile, entry.Type)

	_, err = c.Stat(ctx, filepath.Join(root, "missing.mkv"))
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindNotFound, models.KindOf(err))

	ok, err := c.Exists(ctx, target)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, filepath.Join(root, "missing.mkv"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSFTPClient_DownloadAndProgress(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	root := t.TempDir()
	remote := filepath.Join(root, "movie.mkv")
	content := []byte("some reasonably sized payload for a download test")
	require.NoError(t, os.WriteFile(remote, content, 0o644))

	local := filepath.Join(t.TempDir(), "staging", "movie.mkv")
	var last Progress
	require.NoError(t, c.Download(ctx, remote, local, func(p Progress) { last = p }))

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), last.Transferred)
	assert.InDelta(t, 100.0, last.Percent, 0.001)
}

func TestSFTPClient_DownloadResumesPartialFile(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	remote := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(remote, []byte("0123456789"), 0o644))

	// The marker prefix proves the first five bytes are not refetched.
	local := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(local, []byte("XXXXX"), 0o644))

	require.NoError(t, c.Download(ctx, remote, local, nil))

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "XXXXX56789", string(got))
}

func TestSFTPClient_DownloadRestartsOversizedPartial(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	remote := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(remote, []byte("0123456789"), 0o644))

	local := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(local, []byte("garbage longer than the remote file"), 0o644))

	require.NoError(t, c.Download(ctx, remote, local, nil))

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestSFTPClient_DownloadAlreadyComplete(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	remote := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(remote, []byte("0123456789"), 0o644))

	local := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(local, []byte("0123456789"), 0o644))

	var last Progress
	require.NoError(t, c.Download(ctx, remote, local, func(p Progress) { last = p }))
	assert.InDelta(t, 100.0, last.Percent, 0.001)
}

func TestSFTPClient_DownloadMissing(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)

	err := c.Download(context.Background(), filepath.Join(t.TempDir(), "nope.mkv"),
		filepath.Join(t.TempDir(), "out.mkv"), nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindNotFound, models.KindOf(err))
}

func TestSFTPClient_UploadCreatesParentsAndReplacesAtomically(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "encoded.mkv")
	require.NoError(t, os.WriteFile(local, []byte("encoded content"), 0o644))

	root := t.TempDir()
	remote := filepath.Join(root, "library", "movies", "movie.mkv")

	var last Progress
	require.NoError(t, c.Upload(ctx, local, remote, func(p Progress) { last = p }))

	got, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Equal(t, "encoded content", string(got))
	assert.InDelta(t, 100.0, last.Percent, 0.001)

	_, err = os.Stat(PartName(remote))
	assert.True(t, os.IsNotExist(err), "the part file is renamed away")

	// Uploading over an existing file replaces it.
	require.NoError(t, os.WriteFile(local, []byte("second version"), 0o644))
	require.NoError(t, c.Upload(ctx, local, remote, nil))
	got, err = os.ReadFile(remote)
	require.NoError(t, err)
	assert.Equal(t, "second version", string(got))
}

func TestSFTPClient_UploadMissingLocal(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)

	err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mkv"),
		filepath.Join(t.TempDir(), "out.mkv"), nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindNotFound, models.KindOf(err))
}

func TestSFTPClient_Rename(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	root := t.TempDir()
	src := filepath.Join(root, "a.mkv")
	dst := filepath.Join(root, "b.mkv")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	require.NoError(t, c.Rename(ctx, src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "a", string(got), "rename replaces the target")
}

func TestSFTPClient_Delete(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	root := t.TempDir()

	t.Run("file", func(t *testing.T) {
		target := filepath.Join(root, "a.mkv")
		require.NoError(t, os.WriteFile(target, []byte("a"), 0o644))
		require.NoError(t, c.Delete(ctx, target, false))
		_, err := os.Stat(target)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("non-empty directory without recursive fails", func(t *testing.T) {
		dir := filepath.Join(root, "season")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "e1.mkv"), []byte("x"), 0o644))

		require.Error(t, c.Delete(ctx, dir, false))
		_, err := os.Stat(dir)
		assert.NoError(t, err, "the directory survives")
	})

	t.Run("recursive removes the tree", func(t *testing.T) {
		dir := filepath.Join(root, "season")
		require.NoError(t, c.Delete(ctx, dir, true))
		_, err := os.Stat(dir)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing path", func(t *testing.T) {
		err := c.Delete(ctx, filepath.Join(root, "missing"), false)
		require.Error(t, err)
		assert.Equal(t, models.ErrorKindNotFound, models.KindOf(err))
	})
}

func TestSFTPClient_MkdirAll(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)

	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, c.MkdirAll(context.Background(), dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSFTPClient_ReadWriteFile(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), ".recodarr", "progress.json")
	payload := []byte(`{"meta":{"version":1}}`)

	require.NoError(t, c.WriteFile(ctx, target, payload))

	got, err := c.ReadFile(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = c.ReadFile(ctx, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindNotFound, models.KindOf(err))
}

func TestSFTPClient_DownloadCanceled(t *testing.T) {
	cfg := startSFTPServer(t)
	c := newTestSFTPClient(t, cfg)

	remote := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(remote, []byte("0123456789"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx))
	cancel()

	err := c.Download(ctx, remote, filepath.Join(t.TempDir(), "out.mkv"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, models.IsTransient(err), "canceled jobs stay retryable")
}
