package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
)

// Client routes Capability operations to the configured transports. Reads
// prefer WebDAV under the auto method because HTTP range listing is cheap;
// writes prefer SFTP because rename semantics are stronger there. A
// transport that forces a fallback, whether by missing protocol capability,
// authorisation rejection or connection failure, can be remembered as
// downgraded for the rest of the session, moving it to the back of the
// candidate order.
type Client struct {
	method Method
	logger *slog.Logger

	sftp   Capability
	webdav Capability

	remember bool

	mu         sync.Mutex
	downgraded map[string]bool
}

var _ Capability = (*Client)(nil)

// NewClient builds the transport facade from configuration. At least one
// transport usable under the configured method must be set up.
func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	method, err := ParseMethod(cfg.Transfer.Method)
	if err != nil {
		return nil, models.WrapPipelineError(models.ErrorKindInvalidConfig, err, "transfer method")
	}

	timeout := cfg.Advanced.ConnectionTimeout.Duration()

	var sftpCap, webdavCap Capability
	if cfg.Remote.Configured() {
		sftpCap = NewSFTPClient(cfg.Remote, timeout, logger)
	}
	if cfg.WebDAV.Configured() {
		webdavCap = NewWebDAVClient(cfg.WebDAV, timeout, logger)
	}

	c := newClientWith(method, sftpCap, webdavCap, cfg.Transfer.RememberCapabilityDowngrade, logger)
	if len(c.candidates(false)) == 0 || len(c.candidates(true)) == 0 {
		return nil, models.NewPipelineError(models.ErrorKindInvalidConfig,
			"transfer method %s has no configured transport", method)
	}
	return c, nil
}

// newClientWith wires explicit capabilities, mainly for tests.
func newClientWith(method Method, sftpCap, webdavCap Capability, remember bool, logger *slog.Logger) *Client {
	return &Client{
		method:     method,
		logger:     logger.With(slog.String("component", "remote")),
		sftp:       sftpCap,
		webdav:     webdavCap,
		remember:   remember,
		downgraded: make(map[string]bool),
	}
}

// Name identifies the facade by its routing method.
func (c *Client) Name() string { return string(c.method) }

// Connect establishes whichever transports the method can route to.
// It succeeds when at least one transport is reachable.
func (c *Client) Connect(ctx context.Context) error {
	cands := c.candidates(false)
	if len(cands) == 0 {
		return models.NewPipelineError(models.ErrorKindInvalidConfig,
			"transfer method %s has no configured transport", c.method)
	}

	var lastErr error
	ok := false
	for _, t := range cands {
		if err := t.Connect(ctx); err != nil {
			lastErr = err
			c.logger.Warn("transport connect failed",
				slog.String("transport", t.Name()),
				slog.String("error", err.Error()))
			continue
		}
		ok = true
	}
	if !ok {
		return lastErr
	}
	return nil
}

// Disconnect closes every transport.
func (c *Client) Disconnect() error {
	var errs []error
	for _, t := range []Capability{c.sftp, c.webdav} {
		if t == nil {
			continue
		}
		if err := t.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports whether any transport holds a live session.
func (c *Client) IsConnected() bool {
	for _, t := range []Capability{c.sftp, c.webdav} {
		if t != nil && t.IsConnected() {
			return true
		}
	}
	return false
}

// candidates returns the transports to try, in order, for a read or write
// operation. Downgraded transports go to the back instead of disappearing:
// a lone misbehaving transport is still better than none.
func (c *Client) candidates(write bool) []Capability {
	var order []Capability
	switch c.method {
	case MethodSFTP:
		order = []Capability{c.sftp}
	case MethodWebDAV:
		order = []Capability{c.webdav}
	case MethodPreferSFTP:
		order = []Capability{c.sftp, c.webdav}
	case MethodPreferWebDAV:
		order = []Capability{c.webdav, c.sftp}
	default: // MethodAuto
		if write {
			order = []Capability{c.sftp, c.webdav}
		} else {
			order = []Capability{c.webdav, c.sftp}
		}
	}

	var ready, demoted []Capability
	for _, t := range order {
		if t == nil {
			continue
		}
		if c.isDowngraded(t.Name()) {
			demoted = append(demoted, t)
			continue
		}
		ready = append(ready, t)
	}
	return append(ready, demoted...)
}

// run executes fn against each candidate until one succeeds. Only routable
// failures move on to the next transport; everything else is the caller's
// answer.
func (c *Client) run(ctx context.Context, write bool, op string, fn func(Capability) error) error {
	cands := c.candidates(write)
	if len(cands) == 0 {
		return models.NewPipelineError(models.ErrorKindInvalidConfig,
			"transfer method %s has no configured transport", c.method)
	}

	var lastErr error
	for i, t := range cands {
		err := fn(t)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := models.KindOf(err)
		if kind == models.ErrorKindProtocolCapabilityMissing {
			c.noteDowngrade(t.Name(), op)
		}
		// A canceled context classifies as transient, but there is no
		// point handing the same dead context to another transport.
		if ctx.Err() != nil {
			return err
		}
		if i == len(cands)-1 || !isRoutable(err) {
			return err
		}
		// The fallback itself is remembered: a 403 or connection failure
		// demotes the transport for the rest of the session, not just a
		// missing protocol capability.
		c.noteDowngrade(t.Name(), op)
		c.logger.Warn("transport failed, trying next",
			slog.String("op", op),
			slog.String("transport", t.Name()),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
	}
	return lastErr
}

// List returns the visible entries under dir.
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	var entries []Entry
	err := c.run(ctx, false, "list", func(t Capability) error {
		var err error
		entries, err = t.List(ctx, dir)
		return err
	})
	return entries, err
}

// Stat describes a single remote path.
func (c *Client) Stat(ctx context.Context, p string) (Entry, error) {
	var entry Entry
	err := c.run(ctx, false, "stat", func(t Capability) error {
		var err error
		entry, err = t.Stat(ctx, p)
		return err
	})
	return entry, err
}

// Exists reports whether the path is present.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	var ok bool
	err := c.run(ctx, false, "exists", func(t Capability) error {
		var err error
		ok, err = t.Exists(ctx, p)
		return err
	})
	return ok, err
}

// Download streams a remote file into localPath.
func (c *Client) Download(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error {
	return c.run(ctx, false, "download", func(t Capability) error {
		return t.Download(ctx, remotePath, localPath, onProgress)
	})
}

// Upload streams localPath to remotePath.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
	return c.run(ctx, true, "upload", func(t Capability) error {
		return t.Upload(ctx, localPath, remotePath, onProgress)
	})
}

// Rename moves src to dst, replacing an existing dst.
func (c *Client) Rename(ctx context.Context, src, dst string) error {
	return c.run(ctx, true, "rename", func(t Capability) error {
		return t.Rename(ctx, src, dst)
	})
}

// Delete removes a file or directory.
func (c *Client) Delete(ctx context.Context, p string, recursive bool) error {
	return c.run(ctx, true, "delete", func(t Capability) error {
		return t.Delete(ctx, p, recursive)
	})
}

// MkdirAll creates the directory and any missing parents.
func (c *Client) MkdirAll(ctx context.Context, p string) error {
	return c.run(ctx, true, "mkdir", func(t Capability) error {
		return t.MkdirAll(ctx, p)
	})
}

// ReadFile fetches a whole control document.
func (c *Client) ReadFile(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := c.run(ctx, false, "read_file", func(t Capability) error {
		var err error
		data, err = t.ReadFile(ctx, p)
		return err
	})
	return data, err
}

// WriteFile stores a whole control document.
func (c *Client) WriteFile(ctx context.Context, p string, data []byte) error {
	return c.run(ctx, true, "write_file", func(t Capability) error {
		return t.WriteFile(ctx, p, data)
	})
}

func (c *Client) isDowngraded(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downgraded[name]
}

func (c *Client) noteDowngrade(name, op string) {
	if !c.remember {
		return
	}
	c.mu.Lock()
	already := c.downgraded[name]
	c.downgraded[name] = true
	c.mu.Unlock()
	if !already {
		c.logger.Warn("transport downgraded for this session",
			slog.String("transport", name),
			slog.String("op", op))
	}
}

// ResetDowngrades clears the session downgrade memory, e.g. after the user
// fixed the server and retests the connection.
func (c *Client) ResetDowngrades() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.downgraded)
}

// TransportStatus describes one transport for the status API.
type TransportStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
	Downgraded bool   `json:"downgraded"`
}

// Status reports both transports regardless of configuration so the API
// can render a complete picture.
func (c *Client) Status() []TransportStatus {
	status := make([]TransportStatus, 0, 2)
	for _, t := range []struct {
		name string
		cap  Capability
	}{
		{"sftp", c.sftp},
		{"webdav", c.webdav},
	} {
		s := TransportStatus{Name: t.name, Configured: t.cap != nil}
		if t.cap != nil {
			s.Connected = t.cap.IsConnected()
			s.Downgraded = c.isDowngraded(t.name)
		}
		status = append(status, s)
	}
	return status
}
