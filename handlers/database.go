package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/gin-gonic/gin"
)

func queryTables(c *gin.Context) []string {
	var names []string
	for _, name := range strings.Split(c.Query("tables"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// countTables lists the exportable tables with their row counts.
func (h *Handler) countTables(c *gin.Context) {
	counts, err := workflow.CountRecords(c.Request.Context(), queryTables(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, counts)
}

func (h *Handler) exportDatabase(c *gin.Context) {
	format, err := utils.ParseExportFormat(c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	factoryId, err := utils.RequireFactoryId(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	summary, err := workflow.ExportDatabase(c.Request.Context(), queryTables(c), format, &buf)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, workflow.ExportFileName(factoryId, format, time.Now())))
	c.Header("X-Export-Rows", fmt.Sprint(summary.Rows))
	c.Data(http.StatusOK, workflow.ExportContentType(format), buf.Bytes())
}

// importDatabase takes a multipart "file" with ?format= and ?mode=merge|replace.
func (h *Handler) importDatabase(c *gin.Context) {
	format, err := utils.ParseExportFormat(c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer file.Close()

	result, err := workflow.ImportDatabase(c.Request.Context(), file, format, c.Query("mode"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}
