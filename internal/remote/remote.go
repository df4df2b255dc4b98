// Package remote provides access to the media library on the remote server.
//
// Two transports implement the same Capability interface: SFTP (pkg/sftp over
// SSH) and WebDAV (gowebdav over the shared HTTP client). The Client facade
// routes each operation to one of them according to the configured transfer
// method and remembers, per session, when a transport turned out to be
// unusable.
package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmylchreest/recodarr/internal/models"
	"golang.org/x/text/unicode/norm"
)

// well-known suffixes used by the transfer layer.
const (
	// partSuffix marks an in-flight upload next to its final name.
	partSuffix = ".part"
	// backupInfix turns name.ext into name.bak.ext during safe replacement.
	backupInfix = ".bak"
)

// EntryType distinguishes files from directories in listings.
type EntryType string

const (
	EntryTypeFile      EntryType = "file"
	EntryTypeDirectory EntryType = "directory"
)

// Entry describes one remote file or directory.
//
// Path holds the server's exact byte sequence so follow-up operations address
// the entry correctly; Name is folded to NFC for display and comparison.
type Entry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Type       EntryType `json:"type"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	IsHidden   bool      `json:"is_hidden"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == EntryTypeDirectory
}

// Method selects how remote operations are routed.
type Method string

const (
	// MethodAuto reads via WebDAV when available and writes via SFTP,
	// falling back to the other transport on failure.
	MethodAuto Method = "auto"
	// MethodSFTP forces all operations over SFTP.
	MethodSFTP Method = "sftp"
	// MethodWebDAV forces all operations over WebDAV.
	MethodWebDAV Method = "webdav"
	// MethodPreferSFTP tries SFTP first and falls back to WebDAV.
	MethodPreferSFTP Method = "prefer_sftp"
	// MethodPreferWebDAV tries WebDAV first and falls back to SFTP.
	MethodPreferWebDAV Method = "prefer_webdav"
)

// ParseMethod validates a transfer method string from configuration.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodAuto, MethodSFTP, MethodWebDAV, MethodPreferSFTP, MethodPreferWebDAV:
		return Method(s), nil
	case "":
		return MethodAuto, nil
	default:
		return "", fmt.Errorf("unknown transfer method %q", s)
	}
}

// NormalizeName folds s to Unicode NFC. macOS WebDAV servers report
// decomposed names while Linux SFTP servers report composed bytes; folding
// both sides makes them compare equal.
func NormalizeName(s string) string {
	return norm.NFC.String(s)
}

// EqualNames reports whether two remote names are equal after NFC folding.
func EqualNames(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// IsHiddenName reports whether a name is hidden by dot-prefix convention.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

// videoExtensions are the container suffixes treated as video files by
// scans and the library index.
var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true,
	".ts": true, ".m2ts": true, ".vob": true, ".ogv": true, ".3gp": true,
}

// IsVideoName reports whether a file name has a known video extension.
func IsVideoName(name string) bool {
	return videoExtensions[strings.ToLower(path.Ext(name))]
}

// PartName returns the temporary upload name next to the final path.
func PartName(remotePath string) string {
	return remotePath + partSuffix
}

// BackupName returns the safe-replace backup name for a remote path:
// dir/stem.bak.ext. Files without an extension get a plain .bak suffix.
func BackupName(remotePath string) string {
	dir := path.Dir(remotePath)
	base := path.Base(remotePath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return path.Join(dir, stem+backupInfix+ext)
}

// entryFromInfo builds an Entry for a child of dir. Path keeps the server's
// raw name bytes; Name is folded for comparison.
func entryFromInfo(dir string, info fs.FileInfo) Entry {
	name := info.Name()
	typ := EntryTypeFile
	if info.IsDir() {
		typ = EntryTypeDirectory
	}
	return Entry{
		Name:       NormalizeName(name),
		Path:       path.Join(dir, name),
		Type:       typ,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		IsHidden:   IsHiddenName(name),
	}
}

// sortEntries orders listings directories-first, then by name.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})
}

// statExists maps a Stat call onto the Exists contract.
func statExists(ctx context.Context, c Capability, p string) (bool, error) {
	if _, err := c.Stat(ctx, p); err != nil {
		if models.KindOf(err) == models.ErrorKindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// readerWithContext stops a streaming copy once ctx is done. The check runs
// between reads, so an individual blocked read still lasts until the
// transport's own timeout.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}
