package remote

import "context"

// Capability is the operation surface both transports implement. The facade
// Client implements it too, so callers never care which transport serves an
// operation.
type Capability interface {
	// Connect establishes the session. Calling it on a live session is a no-op.
	Connect(ctx context.Context) error
	// Disconnect tears the session down. Safe to call when not connected.
	Disconnect() error
	// IsConnected reports whether a session is currently established.
	IsConnected() bool
	// Name identifies the transport ("sftp", "webdav") in logs and errors.
	Name() string

	// List returns the entries directly under path, dot-prefixed names
	// filtered out, ordered directories first then by name.
	List(ctx context.Context, path string) ([]Entry, error)
	// Stat describes a single path. Missing paths yield a not-found error.
	Stat(ctx context.Context, path string) (Entry, error)
	// Exists reports whether the path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// Download streams a remote file to a local path. SFTP resumes from the
	// local partial length; WebDAV restarts from zero. Progress callbacks
	// arrive at most every 500ms.
	Download(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error
	// Upload streams a local file to remotePath via a ".part" sibling that is
	// renamed into place once the stream completed.
	Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error

	// Rename moves src to dst, replacing dst when it exists.
	Rename(ctx context.Context, src, dst string) error
	// Delete removes a file, or a directory when recursive is set. Deleting
	// a non-empty directory without recursive fails.
	Delete(ctx context.Context, path string, recursive bool) error
	// MkdirAll creates the directory and any missing parents.
	MkdirAll(ctx context.Context, path string) error

	// ReadFile and WriteFile move small control documents (ledger, presets)
	// whole. They are not meant for media payloads.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}
