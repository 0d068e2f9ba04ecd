package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/06benste/schoolmasterVLE-sub001/models"
	"github.com/06benste/schoolmasterVLE-sub001/services"
	"github.com/06benste/schoolmasterVLE-sub001/utils"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var allowedImportMimeTypes = map[string]string{
	xlsxContentType: ".xlsx",
	"text/csv":      ".csv",
}

var importExtensionToMime = map[string]string{
	".xlsx": xlsxContentType,
	".csv":  "text/csv",
}

var importEngine *services.UserImportService

// InitImportEngine wires the shared import service. Called once from main
// after the database connection is up.
func InitImportEngine(engine *services.UserImportService) {
	importEngine = engine
}

// canonicalMime resolves the effective content type of an upload, falling
// back to the file extension when the declared type is missing or unknown.
func canonicalMime(contentType, filename string, allowed map[string]string, extToMime map[string]string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if _, ok := allowed[ct]; ok {
		return ct, true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if mime, ok := extToMime[ext]; ok {
		return mime, true
	}
	return "", false
}

// ImportUsers accepts a tabular file of prospective students, stores it
// durably and schedules a background import job. The response returns the
// job id immediately; progress is observed by polling.
func ImportUsers(c *gin.Context) {
	roleID, ok := c.Get("roleID")
	if !ok || roleID.(int) != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Import file is required"})
		return
	}
	defer file.Close()

	ct, ok := canonicalMime(header.Header.Get("Content-Type"), header.Filename, allowedImportMimeTypes, importExtensionToMime)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File type not allowed, use .xlsx or .csv"})
		return
	}
	if header.Size > 20*1024*1024 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File size exceeds 20MB limit"})
		return
	}

	uploadDir := filepath.Join("uploads", "import_jobs")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create upload directory"})
		return
	}

	safeName := utils.GenerateUniqueFilename(uploadDir, header.Filename)
	dstPath := filepath.Join(uploadDir, safeName)
	if err := c.SaveUploadedFile(header, dstPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save import file"})
		return
	}

	// Completion notification goes to the submitting admin when the token
	// carries a usable e-mail. The mail never contains credentials.
	notifyEmail := ""
	if v, exists := c.Get("email"); exists {
		if email, isString := v.(string); isString && utils.ValidateEmail(email) {
			notifyEmail = email
		}
	}

	job := importEngine.Submit(dstPath, notifyEmail)

	c.JSON(http.StatusAccepted, gin.H{
		"success":      true,
		"job_id":       job.ID(),
		"status":       job.Status(),
		"file":         safeName,
		"content_type": ct,
	})
}

// GetImportJob returns the current snapshot of an import job for polling.
func GetImportJob(c *gin.Context) {
	snapshot, err := importEngine.Job(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Import job not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// CancelImportJob requests cooperative cancellation of a running job. The
// batch in flight finishes before the job stops.
func CancelImportJob(c *gin.Context) {
	err := importEngine.Cancel(c.Param("id"))
	switch {
	case errors.Is(err, services.ErrImportJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Import job not found"})
	case errors.Is(err, services.ErrImportJobNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "Import job can no longer be cancelled"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel import job"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Cancellation requested, the current batch will finish first",
		})
	}
}

// DownloadImportCredentials returns the generated usernames and temporary
// passwords of a completed job as an xlsx download. This is the only place
// the plaintext passwords are disclosed.
func DownloadImportCredentials(c *gin.Context) {
	id := c.Param("id")

	result, err := importEngine.Credentials(id)
	switch {
	case errors.Is(err, services.ErrImportJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Import job not found"})
		return
	case errors.Is(err, services.ErrImportJobNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "Import job has not completed yet"})
		return
	case errors.Is(err, services.ErrImportNothingCreated):
		c.JSON(http.StatusConflict, gin.H{"error": "Import job created no users"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load import credentials"})
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]string{"username", "password", "name", "surname"}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build credentials file"})
		return
	}
	for i, user := range result.CreatedUsers {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []string{user.Username, user.Password, user.Name, user.Surname}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build credentials file"})
			return
		}
	}

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="import_credentials_%s.xlsx"`, id))
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write credentials file"})
	}
}
