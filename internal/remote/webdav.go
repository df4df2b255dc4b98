package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/pkg/httpclient"
	"github.com/studio-b12/gowebdav"
)

// WebDAVClient implements Capability over HTTP using the shared retrying
// client as transport.
type WebDAVClient struct {
	cfg    config.WebDAVConfig
	logger *slog.Logger
	wd     *gowebdav.Client

	mu        sync.Mutex
	connected bool
}

var _ Capability = (*WebDAVClient)(nil)

// NewWebDAVClient creates a WebDAV capability for the configured endpoint.
func NewWebDAVClient(cfg config.WebDAVConfig, timeout time.Duration, logger *slog.Logger) *WebDAVClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger = logger.With(slog.String("transport", "webdav"))

	// Media transfers stream for minutes, so the overall request timeout
	// stays off; the transport bounds dialing and the wait for headers.
	base := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
	hc := httpclient.New(httpclient.Config{
		Timeout:             0,
		RetryAttempts:       httpclient.DefaultRetryAttempts,
		RetryDelay:          httpclient.DefaultRetryDelay,
		RetryMaxDelay:       httpclient.DefaultRetryMaxDelay,
		BackoffMultiplier:   httpclient.DefaultBackoffMultiplier,
		UserAgent:           httpclient.DefaultUserAgentHeader,
		Logger:              logger,
		EnableDecompression: true,
		BaseClient:          base,
	})

	wd := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	wd.SetTransport(hc.Transport())

	return &WebDAVClient{cfg: cfg, logger: logger, wd: wd}
}

// Name identifies the transport.
func (w *WebDAVClient) Name() string { return "webdav" }

// davPath maps a library path onto the server's DAV namespace. The
// configured path prefix covers exports rooted deeper than the share.
func (w *WebDAVClient) davPath(p string) string {
	return path.Join("/", w.cfg.Path, p)
}

// Connect verifies the endpoint answers DAV requests.
func (w *WebDAVClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.connected {
		return nil
	}
	if !w.cfg.Configured() {
		return models.NewPipelineError(models.ErrorKindInvalidConfig, "webdav url is required")
	}
	if err := w.wd.Connect(); err != nil {
		return classify(err, "connecting to", w.cfg.URL)
	}
	w.connected = true
	w.logger.Info("connected", slog.String("url", w.cfg.URL))
	return nil
}

// Disconnect drops the connected flag. HTTP connections are pooled by the
// transport and reaped on idle.
func (w *WebDAVClient) Disconnect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}

// IsConnected reports whether Connect succeeded this session.
func (w *WebDAVClient) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// List returns the visible entries under dir.
func (w *WebDAVClient) List(ctx context.Context, dir string) ([]Entry, error) {
	infos, err := w.wd.ReadDir(w.davPath(dir))
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
func (w *WebDAVClient) Stat(ctx context.Context, p string) (Entry, error) {
	info, err := w.wd.Stat(w.davPath(p))
	if err != nil {
		return Entry{}, classify(err, "stating", p)
	}

	// Servers without displayname leave Name empty; fall back to the path.
	name := info.Name()
	if name == "" {
		name = path.Base(p)
	}
	typ := EntryTypeFile
	if info.IsDir() {
		typ = EntryTypeDirectory
	}
	return Entry{
		Name:       NormalizeName(name),
		Path:       p,
		Type:       typ,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		IsHidden:   IsHiddenName(name),
	}, nil
}

// Exists reports whether the path is present.
func (w *WebDAVClient) Exists(ctx context.Context, p string) (bool, error) {
	return statExists(ctx, w, p)
}

// Download streams remotePath into localPath. HTTP reads always restart
// from offset zero; any partial local file is discarded.
func (w *WebDAVClient) Download(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error {
	dav := w.davPath(remotePath)
	info, err := w.wd.Stat(dav)
	if err != nil {
		return classify(err, "stating", remotePath)
	}
	total := info.Size()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return classify(err, "creating directory for", localPath)
	}

	stream, err := w.wd.ReadStream(dav)
	if err != nil {
		return classify(err, "opening", remotePath)
	}
	defer stream.Close()

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return classify(err, "creating", localPath)
	}
	defer dst.Close()

	tracker := NewTracker(total, onProgress)
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(tracker.Writer(dst), readerWithContext(ctx, stream), buf); err != nil {
		return classify(err, "downloading", remotePath)
	}
	if err := dst.Sync(); err != nil {
		return classify(err, "flushing", localPath)
	}
	tracker.Finish()
	return nil
}

// Upload streams localPath to remotePath via a ".part" sibling.
func (w *WebDAVClient) Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
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

	dav := w.davPath(remotePath)
	if err := w.wd.MkdirAll(path.Dir(dav), 0o755); err != nil {
		return classify(err, "creating directory for", remotePath)
	}

	part := PartName(dav)
	tracker := NewTracker(total, onProgress)
	// The body must stay seekable: the auth layer rewinds seekable bodies
	// for the 401 challenge and buffers everything else in memory.
	body := &uploadBody{ctx: ctx, f: src, tracker: tracker}
	if err := w.wd.WriteStream(part, body, 0o644); err != nil {
		w.removeQuietly(part)
		return classify(err, "uploading to", PartName(remotePath))
	}
	if err := w.wd.Rename(part, dav, true); err != nil {
		w.removeQuietly(part)
		return classify(err, "renaming to", remotePath)
	}
	tracker.Finish()
	return nil
}

// Rename moves src to dst, replacing an existing dst.
func (w *WebDAVClient) Rename(ctx context.Context, src, dst string) error {
	if err := w.wd.Rename(w.davPath(src), w.davPath(dst), true); err != nil {
		return classify(err, "renaming to", dst)
	}
	return nil
}

// Delete removes a file or directory. DAV DELETE on a collection is
// recursive by protocol, so the non-recursive contract needs an explicit
// emptiness check first.
func (w *WebDAVClient) Delete(ctx context.Context, p string, recursive bool) error {
	dav := w.davPath(p)
	info, err := w.wd.Stat(dav)
	if err != nil {
		return classify(err, "stating", p)
	}

	if info.IsDir() && !recursive {
		children, err := w.wd.ReadDir(dav)
		if err != nil {
			return classify(err, "listing", p)
		}
		if len(children) > 0 {
			return fmt.Errorf("deleting %s: directory not empty", p)
		}
	}

	if err := w.wd.RemoveAll(dav); err != nil {
		return classify(err, "deleting", p)
	}
	return nil
}

// MkdirAll creates the directory and any missing parents.
func (w *WebDAVClient) MkdirAll(ctx context.Context, p string) error {
	if err := w.wd.MkdirAll(w.davPath(p), 0o755); err != nil {
		return classify(err, "creating directory", p)
	}
	return nil
}

// ReadFile fetches a whole control document.
func (w *WebDAVClient) ReadFile(ctx context.Context, p string) ([]byte, error) {
	data, err := w.wd.Read(w.davPath(p))
	if err != nil {
		return nil, classify(err, "reading", p)
	}
	return data, nil
}

// WriteFile stores a whole control document.
func (w *WebDAVClient) WriteFile(ctx context.Context, p string, data []byte) error {
	dav := w.davPath(p)
	if err := w.wd.MkdirAll(path.Dir(dav), 0o755); err != nil {
		return classify(err, "creating directory for", p)
	}
	if err := w.wd.Write(dav, data, 0o644); err != nil {
		return classify(err, "writing", p)
	}
	return nil
}

func (w *WebDAVClient) removeQuietly(dav string) {
	if err := w.wd.Remove(dav); err != nil && !gowebdav.IsErrNotFound(err) {
		w.logger.Warn("cannot remove partial upload", slog.String("path", dav), slog.String("error", err.Error()))
	}
}

// uploadBody is a seekable, context-aware, progress-counting file reader.
type uploadBody struct {
	ctx     context.Context
	f       *os.File
	tracker *Tracker
}

func (b *uploadBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := b.f.Read(p)
	if n > 0 {
		b.tracker.Add(int64(n))
	}
	return n, err
}

// Seek rewinds the file; a rewind to the start also resets the byte count
// so a resent body is not counted twice.
func (b *uploadBody) Seek(offset int64, whence int) (int64, error) {
	pos, err := b.f.Seek(offset, whence)
	if err == nil && pos == 0 {
		b.tracker.Resume(0)
	}
	return pos, err
}
