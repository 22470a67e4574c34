package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/gin-gonic/gin"
)

// Response is the envelope of every api reply.
type Response struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{Error: msg})
}

// ErrorStatus maps domain errors onto http status codes.
func ErrorStatus(err error) int {
	var ve *utils.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, utils.ErrorObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorDuplicate), errors.Is(err, utils.ErrorBusy):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrorChecksumMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, utils.ErrorUnauthorized), errors.Is(err, models.ErrorInvalidLogin):
		return http.StatusUnauthorized
	case errors.Is(err, utils.ErrorFactoryIdEmpty):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail replies with the mapped status. Unexpected errors are recorded for ErrorLogger
// and their text is not sent to the client.
func fail(c *gin.Context, err error) {
	status := ErrorStatus(err)
	resp := Response{Error: err.Error()}
	var ve *utils.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		resp.Error = "internal server error"
	}
	c.AbortWithStatusJSON(status, resp)
}

func paramId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryDate(c *gin.Context, name string) (*models.MyDateString, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	d, err := models.ParseDateString(raw)
	if err != nil {
		return nil, utils.NewFieldError(name, err.Error())
	}
	return &d, nil
}

// dateRange reads ?from=&to= as calendar dates.
func dateRange(c *gin.Context) (models.DateRange, error) {
	from, err := queryDate(c, "from")
	if err != nil {
		return models.DateRange{}, err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return models.DateRange{}, err
	}
	return models.DateRange{From: from, To: to}, nil
}

func queryInt(c *gin.Context, name string) (*int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, utils.NewFieldError(name, "must be a number")
	}
	return &n, nil
}

func queryBool(c *gin.Context, name string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, utils.NewFieldError(name, "must be true or false")
	}
	return &b, nil
}

// pageParams reads ?limit=&after= for cursor pagination.
func pageParams(c *gin.Context) (int, string) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return limit, c.Query("after")
}

// respondTabular sends report as json, or as a file when ?format=xlsx|csv.
func respondTabular(c *gin.Context, name string, report utils.Tabular) {
	format, err := utils.ParseExportFormat(c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	if format == utils.ExportFormatJSON {
		ok(c, report)
		return
	}

	tables := report.Tables()
	var buf bytes.Buffer
	ext := format
	contentType := utils.ExportContentType(format)
	switch {
	case format == utils.ExportFormatXLSX:
		err = utils.WriteXLSX(&buf, tables...)
	case len(tables) == 1:
		err = utils.WriteCSV(&buf, tables[0])
	default:
		ext = "zip"
		contentType = workflow.ExportContentType(format)
		err = utils.WriteCSVZip(&buf, tables...)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, ext))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
