package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studio-b12/gowebdav"
)

// davError builds the error shape the WebDAV library returns for an HTTP
// status: an os.PathError wrapping a StatusError value.
func davError(op, path string, status int) error {
	return &os.PathError{Op: op, Path: path, Err: gowebdav.StatusError{Status: status}}
}

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"context canceled", context.Canceled, models.ErrorKindNetworkTransient},
		{"context deadline", context.DeadlineExceeded, models.ErrorKindNetworkTransient},

		{"fs not exist", fmt.Errorf("open: %w", fs.ErrNotExist), models.ErrorKindNotFound},
		{"webdav 404", davError("PROPFIND", "/x", 404), models.ErrorKindNotFound},

		{"fs permission", fmt.Errorf("open: %w", fs.ErrPermission), models.ErrorKindAuthFailed},
		{"webdav 401", davError("PROPFIND", "/x", 401), models.ErrorKindAuthFailed},
		{"webdav 403", davError("COPY", "/x", 403), models.ErrorKindAuthFailed},
		{"ssh auth", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"), models.ErrorKindAuthFailed},

		{"enospc", fmt.Errorf("write: %w", syscall.ENOSPC), models.ErrorKindInsufficientSpace},
		{"webdav 507", davError("PUT", "/x", 507), models.ErrorKindInsufficientSpace},
		{"enospc text", errors.New("write /tmp/x: no space left on device"), models.ErrorKindInsufficientSpace},

		{"sftp unsupported sentinel", sftp.ErrSSHFxOpUnsupported, models.ErrorKindProtocolCapabilityMissing},
		{"sftp unsupported status", &sftp.StatusError{Code: uint32(sftp.ErrSSHFxOpUnsupported)}, models.ErrorKindProtocolCapabilityMissing},
		{"webdav 405", davError("MOVE", "/x", 405), models.ErrorKindProtocolCapabilityMissing},
		{"webdav 501", davError("MOVE", "/x", 501), models.ErrorKindProtocolCapabilityMissing},

		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), models.ErrorKindNetworkTransient},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), models.ErrorKindNetworkTransient},
		{"unexpected eof", io.ErrUnexpectedEOF, models.ErrorKindNetworkTransient},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("i/o timeout")}, models.ErrorKindNetworkTransient},
		{"sftp connection lost", &sftp.StatusError{Code: uint32(sftp.ErrSSHFxConnectionLost)}, models.ErrorKindNetworkTransient},
		{"webdav 503", davError("GET", "/x", 503), models.ErrorKindNetworkTransient},
		{"webdav 429", davError("GET", "/x", 429), models.ErrorKindNetworkTransient},

		{"webdav 400", davError("PUT", "/x", 400), models.ErrorKindNetworkFatal},
		{"webdav 409", davError("MKCOL", "/x", 409), models.ErrorKindNetworkFatal},

		{"unknown", errors.New("mystery"), models.ErrorKindNetworkTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyKind(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("wraps with op and path", func(t *testing.T) {
		err := classify(fs.ErrNotExist, "stating", "/media/a.mkv")
		require.Error(t, err)
		assert.Equal(t, models.ErrorKindNotFound, models.KindOf(err))
		assert.Contains(t, err.Error(), "stating /media/a.mkv")
		assert.True(t, errors.Is(err, fs.ErrNotExist), "the cause stays reachable")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify(nil, "stating", "/x"))
	})
}

func TestIsRoutable(t *testing.T) {
	routable := []models.ErrorKind{
		models.ErrorKindAuthFailed,
		models.ErrorKindNetworkTransient,
		models.ErrorKindNetworkFatal,
		models.ErrorKindProtocolCapabilityMissing,
	}
	for _, kind := range routable {
		assert.True(t, isRoutable(models.NewPipelineError(kind, "x")), kind.String())
	}

	terminal := []models.ErrorKind{
		models.ErrorKindNotFound,
		models.ErrorKindInsufficientSpace,
		models.ErrorKindIntegrityMismatch,
		models.ErrorKindBackupFailed,
		models.ErrorKindRollbackFailed,
	}
	for _, kind := range terminal {
		assert.False(t, isRoutable(models.NewPipelineError(kind, "x")), kind.String())
	}

	assert.False(t, isRoutable(errors.New("unclassified")))
}

func TestIsSFTPStatus(t *testing.T) {
	assert.True(t, isSFTPStatus(sftp.ErrSSHFxNoSuchFile, sftp.ErrSSHFxNoSuchFile))
	assert.True(t, isSFTPStatus(&sftp.StatusError{Code: uint32(sftp.ErrSSHFxNoSuchFile)}, sftp.ErrSSHFxNoSuchFile))
	assert.False(t, isSFTPStatus(&sftp.StatusError{Code: uint32(sftp.ErrSSHFxFailure)}, sftp.ErrSSHFxNoSuchFile))
	assert.False(t, isSFTPStatus(errors.New("other"), sftp.ErrSSHFxNoSuchFile))
}
