package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// copyBufferSize is the chunk size for streaming transfers.
const copyBufferSize = 512 * 1024

// SFTPClient implements Capability over an SSH connection.
type SFTPClient struct {
	cfg     config.RemoteConfig
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

var _ Capability = (*SFTPClient)(nil)

// NewSFTPClient creates an SFTP capability for the configured endpoint.
// The connection is established lazily on first use.
func NewSFTPClient(cfg config.RemoteConfig, timeout time.Duration, logger *slog.Logger) *SFTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SFTPClient{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.With(slog.String("transport", "sftp")),
	}
}

// Name identifies the transport.
func (s *SFTPClient) Name() string { return "sftp" }

// Connect dials the server and starts the SFTP subsystem.
func (s *SFTPClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	if !s.cfg.Configured() {
		return models.NewPipelineError(models.ErrorKindInvalidConfig, "sftp host and user are required")
	}

	auth := s.authMethods()
	if len(auth) == 0 {
		return models.NewPipelineError(models.ErrorKindInvalidConfig, "sftp needs a password or a usable key file")
	}

	sshCfg := &ssh.ClientConfig{
		User: s.cfg.User,
		Auth: auth,
		// The target is a private NAS addressed by IP or LAN name; pinning
		// host keys across re-images created more lockouts than it prevented.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.timeout,
	}

	addr := s.cfg.Addr()
	dialer := net.Dialer{Timeout: s.timeout}
	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classify(err, "connecting to", addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcp, addr, sshCfg)
	if err != nil {
		tcp.Close()
		return classify(err, "authenticating to", addr)
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(conn,
		sftp.UseConcurrentReads(true),
		sftp.UseConcurrentWrites(true),
	)
	if err != nil {
		conn.Close()
		return classify(err, "starting sftp subsystem on", addr)
	}

	s.conn = conn
	s.client = client
	s.logger.Info("connected", slog.String("addr", addr), slog.String("user", s.cfg.User))
	return nil
}

func (s *SFTPClient) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if s.cfg.KeyFile != "" {
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			s.logger.Warn("cannot read ssh key file", slog.String("path", s.cfg.KeyFile), slog.String("error", err.Error()))
		} else if signer, err := ssh.ParsePrivateKey(key); err != nil {
			s.logger.Warn("cannot parse ssh key file", slog.String("path", s.cfg.KeyFile), slog.String("error", err.Error()))
		} else {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if s.cfg.Password != "" {
		methods = append(methods, ssh.Password(s.cfg.Password))
	}
	return methods
}

// Disconnect closes the SFTP session and the SSH connection.
func (s *SFTPClient) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	s.client = nil
	s.conn = nil
	return err
}

// IsConnected reports whether a session is established.
func (s *SFTPClient) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// session returns the live client, connecting first when needed.
func (s *SFTPClient) session(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		return client, nil
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, nil
}

// List returns the visible entries under dir.
func (s *SFTPClient) List(ctx context.Context, dir string) ([]Entry, error) {
	client, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := client.ReadDir(dir)
	if err != nil {
		return nil, classify(err, "listing", dir)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry := entryFromInfo(dir, info)
		if entry.IsHidden {
			continue
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// Stat describes a single remote path.
func (s *SFTPClient) Stat(ctx context.Context, p string) (Entry, error) {
	client, err := s.session(ctx)
	if err != nil {
		return Entry{}, err
	}
	info, err := client.Stat(p)
	if err != nil {
		return Entry{}, classify(err, "stating", p)
	}
	return entryFromInfo(path.Dir(p), info), nil
}

// Exists reports whether the path is present.
func (s *SFTPClient) Exists(ctx context.Context, p string) (bool, error) {
	return statExists(ctx, s, p)
}

// Download streams remotePath into localPath, resuming from an existing
// partial file when its length is shorter than the remote size.
func (s *SFTPClient) Download(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}

	src, err := client.Open(remotePath)
	if err != nil {
		return classify(err, "opening", remotePath)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return classify(err, "stating", remotePath)
	}
	total := info.Size()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return classify(err, "creating directory for", localPath)
	}

	var offset int64
	if local, statErr := os.Stat(localPath); statErr == nil {
		switch {
		case total > 0 && local.Size() == total:
			// Already fully present from an earlier attempt.
			tracker := NewTracker(total, onProgress)
			tracker.Resume(total)
			tracker.Finish()
			return nil
		case local.Size() > 0 && local.Size() < total:
			offset = local.Size()
		}
		// A local file larger than the remote is garbage; restart from zero.
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	dst, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		return classify(err, "creating", localPath)
	}
	defer dst.Close()

	if offset > 0 {
		if _, err := dst.Seek(offset, io.SeekStart); err != nil {
			return classify(err, "seeking", localPath)
		}
		if _, err := src.Seek(offset, io.SeekStart); err != nil {
			return classify(err, "seeking", remotePath)
		}
		s.logger.Info("resuming download",
			slog.String("path", remotePath),
			slog.Int64("offset", offset),
			slog.Int64("total", total))
	}

	tracker := NewTracker(total, onProgress)
	if offset > 0 {
		tracker.Resume(offset)
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(tracker.Writer(dst), readerWithContext(ctx, src), buf); err != nil {
		return classify(err, "downloading", remotePath)
	}
	if err := dst.Sync(); err != nil {
		return classify(err, "flushing", localPath)
	}
	tracker.Finish()
	return nil
}

// Upload streams localPath to remotePath via a ".part" sibling.
func (s *SFTPClient) Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return classify(err, "opening", localPath)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return classify(err, "stating", localPath)
	}
	total := info.Size()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return classify(err, "creating directory for", remotePath)
	}

	part := PartName(remotePath)
	dst, err := client.Create(part)
	if err != nil {
		return classify(err, "creating", part)
	}

	tracker := NewTracker(total, onProgress)
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(tracker.Writer(dst), readerWithContext(ctx, src), buf); err != nil {
		dst.Close()
		s.removeQuietly(client, part)
		return classify(err, "uploading to", part)
	}
	if err := dst.Close(); err != nil {
		s.removeQuietly(client, part)
		return classify(err, "closing", part)
	}

	if err := s.rename(client, part, remotePath); err != nil {
		s.removeQuietly(client, part)
		return err
	}
	tracker.Finish()
	return nil
}

// Rename moves src to dst, replacing an existing dst.
func (s *SFTPClient) Rename(ctx context.Context, src, dst string) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}
	return s.rename(client, src, dst)
}

// rename prefers posix-rename (atomic replace); servers without the
// extension get remove-then-rename.
func (s *SFTPClient) rename(client *sftp.Client, src, dst string) error {
	err := client.PosixRename(src, dst)
	if err == nil {
		return nil
	}
	if !isSFTPStatus(err, sftp.ErrSSHFxOpUnsupported) {
		return classify(err, "renaming to", dst)
	}

	if rmErr := client.Remove(dst); rmErr != nil && !isNotExist(rmErr) {
		return classify(rmErr, "replacing", dst)
	}
	if err := client.Rename(src, dst); err != nil {
		return classify(err, "renaming to", dst)
	}
	return nil
}

// Delete removes a file or directory.
func (s *SFTPClient) Delete(ctx context.Context, p string, recursive bool) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}
	info, err := client.Stat(p)
	if err != nil {
		return classify(err, "stating", p)
	}

	switch {
	case !info.IsDir():
		err = client.Remove(p)
	case recursive:
		err = client.RemoveAll(p)
	default:
		err = client.RemoveDirectory(p)
	}
	if err != nil {
		return classify(err, "deleting", p)
	}
	return nil
}

// MkdirAll creates the directory and any missing parents.
func (s *SFTPClient) MkdirAll(ctx context.Context, p string) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(p); err != nil {
		return classify(err, "creating directory", p)
	}
	return nil
}

// ReadFile fetches a whole control document.
func (s *SFTPClient) ReadFile(ctx context.Context, p string) ([]byte, error) {
	client, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(p)
	if err != nil {
		return nil, classify(err, "opening", p)
	}
	defer f.Close()

	data, err := io.ReadAll(readerWithContext(ctx, f))
	if err != nil {
		return nil, classify(err, "reading", p)
	}
	return data, nil
}

// WriteFile stores a whole control document.
func (s *SFTPClient) WriteFile(ctx context.Context, p string, data []byte) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(p)); err != nil {
		return classify(err, "creating directory for", p)
	}
	f, err := client.Create(p)
	if err != nil {
		return classify(err, "creating", p)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return classify(err, "writing", p)
	}
	if err := f.Close(); err != nil {
		return classify(err, "closing", p)
	}
	return nil
}

func (s *SFTPClient) removeQuietly(client *sftp.Client, p string) {
	if err := client.Remove(p); err != nil && !isNotExist(err) {
		s.logger.Warn("cannot remove partial upload", slog.String("path", p), slog.String("error", err.Error()))
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || isSFTPStatus(err, sftp.ErrSSHFxNoSuchFile)
}
