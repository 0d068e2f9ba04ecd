package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/06benste/schoolmasterVLE-sub001/config"
	"github.com/06benste/schoolmasterVLE-sub001/models"
	"github.com/06benste/schoolmasterVLE-sub001/services"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// DownloadImportTemplate serves an empty import spreadsheet with the
// recognized header columns and one example row.
func DownloadImportTemplate(c *gin.Context) {
	headers := append([]string{}, services.ImportColumns...)
	for slot := 1; slot <= services.MaxImportClassColumns; slot++ {
		headers = append(headers, "class"+strconv.Itoa(slot))
	}

	example := []string{"Ada", "Lovelace", "alovelace", "ada@example.school", "31/07/2027", "Maths 1", "Computing 1"}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build template file"})
		return
	}
	if err := f.SetSheetRow(sheet, "A2", &example); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build template file"})
		return
	}

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", `attachment; filename="user_import_template.xlsx"`)
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write template file"})
	}
}

// ExportUsers dumps all active users as an xlsx download. Password hashes
// are never included.
func ExportUsers(c *gin.Context) {
	var users []models.User
	if err := config.DB.
		Where("delete_at IS NULL").
		Order("user_id ASC").
		Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := []string{"username", "name", "surname", "email", "role_id", "archive_date"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build export file"})
		return
	}

	for i, user := range users {
		archiveDate := ""
		if user.ArchiveDate != nil {
			archiveDate = user.ArchiveDate.Format("02/01/2006")
		}
		row := []interface{}{user.Username, user.Name, user.Surname, user.Email, user.RoleID, archiveDate}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build export file"})
			return
		}
	}

	filename := fmt.Sprintf("users_export_%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write export file"})
	}
}
