package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"strings"
	"syscall"

	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/pkg/sftp"
	"github.com/studio-b12/gowebdav"
)

// classify maps a raw transport error onto the pipeline error taxonomy and
// wraps it with the failing operation and path. Fatal kinds (auth, not-found,
// no space) fail fast in the queue; transient kinds go through the retry
// ladder.
func classify(err error, op, path string) error {
	if err == nil {
		return nil
	}
	return models.WrapPipelineError(classifyKind(err), err, "%s %s", op, path)
}

func classifyKind(err error) models.ErrorKind {
	// Context errors pass through the transient bucket so an aborted job
	// can resume where it left off.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindNetworkTransient
	}

	// Not found: local fs, SFTP status, WebDAV 404.
	if errors.Is(err, fs.ErrNotExist) ||
		isSFTPStatus(err, sftp.ErrSSHFxNoSuchFile) ||
		gowebdav.IsErrNotFound(err) {
		return models.ErrorKindNotFound
	}

	// Authentication and authorisation.
	if errors.Is(err, fs.ErrPermission) ||
		isSFTPStatus(err, sftp.ErrSSHFxPermissionDenied) ||
		gowebdav.IsErrCode(err, 401) ||
		gowebdav.IsErrCode(err, 403) ||
		strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "permission denied") {
		return models.ErrorKindAuthFailed
	}

	// Disk exhaustion, local or server-reported.
	if errors.Is(err, syscall.ENOSPC) ||
		gowebdav.IsErrCode(err, 507) ||
		strings.Contains(err.Error(), "no space left") {
		return models.ErrorKindInsufficientSpace
	}

	// A capability the server does not implement (e.g. posix-rename).
	if isSFTPStatus(err, sftp.ErrSSHFxOpUnsupported) ||
		gowebdav.IsErrCode(err, 405) ||
		gowebdav.IsErrCode(err, 501) {
		return models.ErrorKindProtocolCapabilityMissing
	}

	// Connection-level failures.
	if isSFTPStatus(err, sftp.ErrSSHFxConnectionLost) ||
		isSFTPStatus(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return models.ErrorKindNetworkTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.ErrorKindNetworkTransient
	}
	for _, code := range []int{429, 500, 502, 503, 504} {
		if gowebdav.IsErrCode(err, code) {
			return models.ErrorKindNetworkTransient
		}
	}

	// Remaining WebDAV status errors are deliberate server answers, not
	// connectivity problems.
	var webdavErr gowebdav.StatusError
	if errors.As(err, &webdavErr) {
		return models.ErrorKindNetworkFatal
	}

	// Unknown errors default to transient; the bounded retry ladder turns
	// persistent ones into failures anyway.
	return models.ErrorKindNetworkTransient
}

// isSFTPStatus reports whether err carries the given SFTP status, either as
// the exported sentinel or inside a server StatusError. The client library
// normalises the common codes to fs errors but hands the rest through raw.
func isSFTPStatus(err, sentinel error) bool {
	if errors.Is(err, sentinel) {
		return true
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return error(statusErr.FxCode()) == sentinel
	}
	return false
}

// isRoutable reports whether an error justifies retrying the operation on the
// other transport: rejected writes and connectivity failures. Not-found or
// space errors would fail identically everywhere.
func isRoutable(err error) bool {
	switch models.KindOf(err) {
	case models.ErrorKindAuthFailed, models.ErrorKindNetworkTransient,
		models.ErrorKindNetworkFatal, models.ErrorKindProtocolCapabilityMissing:
		return true
	default:
		return false
	}
}
