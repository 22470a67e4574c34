package workflow

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
)

const backupContentType = "application/gzip"

var ErrorChecksumMismatch = errors.New("backup checksum does not match")

func backupFileName(factoryId string, at time.Time) string {
	return fmt.Sprintf("backup-%s-%s.json.gz", factoryId, at.UTC().Format("20060102-150405"))
}

// backupObjectKey is unique per record even when two backups share a file name.
func backupObjectKey(record *models.BackupRecord) string {
	return path.Join("backups", record.FactoryId, strconv.Itoa(record.ID)+"-"+record.FileName)
}

// CreateBackup writes a gzipped json export of every table to store and records it.
func CreateBackup(ctx context.Context, store utils.ObjectStore, trigger models.BackupTrigger) (*models.BackupRecord, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	tables := transferTables(nil, "")
	record, err := models.CreateBackupRecord(ctx, trigger, backupFileName(factoryId, time.Now()), TableNames())
	if err != nil {
		return nil, err
	}

	if err := writeBackup(ctx, store, factoryId, tables, record); err != nil {
		config.LogError(config.GetLogger(), "workflow", "CreateBackup", "backup failed", record.ID, err)
		if failErr := models.FailBackupRecord(ctx, record, err); failErr != nil {
			config.LogError(config.GetLogger(), "workflow", "CreateBackup", "marking backup failed", record.ID, failErr)
		}
		NotifyBackup(record)
		return record, err
	}
	config.LogInfo(config.GetLogger(), "workflow", "CreateBackup", "backup completed", map[string]any{
		"factory_id": factoryId,
		"backup_id":  record.ID,
		"rows":       record.RecordCount,
		"bytes":      record.SizeBytes,
	})
	NotifyBackup(record)
	return record, nil
}

func writeBackup(ctx context.Context, store utils.ObjectStore, factoryId string, tables []transferTable, record *models.BackupRecord) error {
	release, err := lockTransfer(ctx, factoryId, "CreateBackup")
	if err != nil {
		return err
	}
	defer release()

	var buf bytes.Buffer
	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(&buf, hash))
	summary, err := exportTables(ctx, factoryId, tables, utils.ExportFormatJSON, gz)
	if err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	key := backupObjectKey(record)
	size, err := store.Put(ctx, key, &buf, backupContentType)
	if err != nil {
		return err
	}
	record.ObjectKey = key
	record.StorageProvider = store.Provider()
	record.SizeBytes = size
	record.Checksum = hex.EncodeToString(hash.Sum(nil))
	record.RecordCount = int64(summary.Rows)
	return models.CompleteBackupRecord(ctx, record)
}

// DownloadBackup opens the stored file of a completed backup. The caller closes it.
func DownloadBackup(ctx context.Context, store utils.ObjectStore, id int) (*models.BackupRecord, io.ReadCloser, error) {
	record, err := models.GetBackup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if record.Status != models.BackupStatusCompleted {
		return nil, nil, utils.NewValidationError("backup %d is %s", id, record.Status)
	}
	if record.StorageProvider != "" && record.StorageProvider != store.Provider() {
		return nil, nil, utils.NewValidationError("backup %d is stored in %s", id, record.StorageProvider)
	}
	rc, err := store.Get(ctx, record.ObjectKey)
	if errors.Is(err, utils.ErrorObjectNotFound) {
		return nil, nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return record, rc, nil
}

// RecoverBackup verifies a backup's checksum and imports it in replace mode.
func RecoverBackup(ctx context.Context, store utils.ObjectStore, id int) (*ImportResult, error) {
	record, rc, err := DownloadBackup(ctx, store, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != record.Checksum {
		config.LogError(config.GetLogger(), "workflow", "RecoverBackup", "checksum mismatch", record.ID, ErrorChecksumMismatch)
		return nil, ErrorChecksumMismatch
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	result, err := ImportDatabase(ctx, gz, utils.ExportFormatJSON, ImportModeReplace)
	if err != nil {
		return nil, err
	}
	config.LogInfo(config.GetLogger(), "workflow", "RecoverBackup", "backup recovered", map[string]any{
		"factory_id": record.FactoryId,
		"backup_id":  record.ID,
		"rows":       result.Rows,
	})
	return result, nil
}

// DeleteBackup removes the stored file and the record.
func DeleteBackup(ctx context.Context, store utils.ObjectStore, id int) (*models.BackupRecord, error) {
	record, err := models.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := deleteBackupObject(ctx, store, record); err != nil {
		return nil, err
	}
	if err := models.DeleteBackupRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func deleteBackupObject(ctx context.Context, store utils.ObjectStore, record *models.BackupRecord) error {
	if record.ObjectKey == "" {
		return nil
	}
	err := store.Delete(ctx, record.ObjectKey)
	if err != nil && !errors.Is(err, utils.ErrorObjectNotFound) {
		return err
	}
	return nil
}

// PruneBackups deletes completed backups beyond the newest keep, oldest first.
func PruneBackups(ctx context.Context, store utils.ObjectStore, keep int) (int, error) {
	expired, err := models.ListExpiredBackups(ctx, keep)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, record := range expired {
		if err := deleteBackupObject(ctx, store, record); err != nil {
			return deleted, err
		}
		if err := models.DeleteBackupRecord(ctx, record); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
