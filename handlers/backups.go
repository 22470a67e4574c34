package handlers

import (
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/gin-gonic/gin"
)

type recoverRequest struct {
	BackupId int `json:"backup_id" binding:"required"`
}

func (h *Handler) requireStore(c *gin.Context) bool {
	if h.Store == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, Response{Error: "backup storage is not configured"})
		return false
	}
	return true
}

func (h *Handler) listBackups(c *gin.Context) {
	backups, err := models.ListBackups(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, backups)
}

func (h *Handler) getBackup(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	backup, err := models.GetBackup(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, backup)
}

func (h *Handler) createBackup(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	record, err := workflow.CreateBackup(c.Request.Context(), h.Store, models.BackupTriggerManual)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, record)
}

func (h *Handler) downloadBackup(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	id, valid := paramId(c)
	if !valid {
		return
	}
	record, rc, err := workflow.DownloadBackup(c.Request.Context(), h.Store, id)
	if err != nil {
		fail(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, record.SizeBytes, "application/gzip", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, record.FileName),
		"X-Checksum-Sha256":   record.Checksum,
	})
}

// recoverBackup replaces the factory's data with the backup after checking its checksum.
func (h *Handler) recoverBackup(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var req recoverRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := workflow.RecoverBackup(c.Request.Context(), h.Store, req.BackupId)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

func (h *Handler) deleteBackup(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	id, valid := paramId(c)
	if !valid {
		return
	}
	record, err := workflow.DeleteBackup(c.Request.Context(), h.Store, id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, record)
}

func (h *Handler) getBackupSchedule(c *gin.Context) {
	schedule, err := models.GetBackupSchedule(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, schedule)
}

func (h *Handler) updateBackupSchedule(c *gin.Context) {
	var input models.NewBackupSchedule
	if !bindJSON(c, &input) {
		return
	}
	schedule, err := models.UpdateBackupSchedule(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, schedule)
}
