package remote

import (
	"context"

	"github.com/jmylchreest/recodarr/internal/models"
)

// BackupRemote renames remotePath to its backup name ahead of an in-place
// replacement. It returns the backup path and whether a backup was actually
// created; a missing original is a no-op so the replacement can proceed as
// a plain upload.
func BackupRemote(ctx context.Context, c Capability, remotePath string) (string, bool, error) {
	backup := BackupName(remotePath)

	exists, err := c.Exists(ctx, remotePath)
	if err != nil {
		return backup, false, models.WrapPipelineError(models.ErrorKindBackupFailed, err, "checking %s", remotePath)
	}
	if !exists {
		return backup, false, nil
	}

	if err := c.Rename(ctx, remotePath, backup); err != nil {
		return backup, false, models.WrapPipelineError(models.ErrorKindBackupFailed, err, "backing up %s", remotePath)
	}
	return backup, true, nil
}

// RestoreRemote renames the backup back to remotePath after a failed
// replacement. A missing backup means there is nothing to restore.
//
// Any failure here leaves the remote in an uncertain state, so the error
// carries the critical rollback kind.
func RestoreRemote(ctx context.Context, c Capability, remotePath string) error {
	backup := BackupName(remotePath)

	exists, err := c.Exists(ctx, backup)
	if err != nil {
		return models.WrapPipelineError(models.ErrorKindRollbackFailed, err, "checking %s", backup)
	}
	if !exists {
		return nil
	}

	if err := c.Rename(ctx, backup, remotePath); err != nil {
		return models.WrapPipelineError(models.ErrorKindRollbackFailed, err, "restoring %s", remotePath)
	}
	return nil
}

// RemoveBackup deletes the backup after a verified replacement. A backup
// that is already gone is fine.
func RemoveBackup(ctx context.Context, c Capability, remotePath string) error {
	backup := BackupName(remotePath)
	if err := c.Delete(ctx, backup, false); err != nil && models.KindOf(err) != models.ErrorKindNotFound {
		return err
	}
	return nil
}
