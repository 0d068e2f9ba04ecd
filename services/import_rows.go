package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/06benste/schoolmasterVLE-sub001/utils"

	"github.com/xuri/excelize/v2"
)

// ImportColumns are the recognized header names of an import file, in
// template order. Up to ten class columns (class1..class10) may follow.
var ImportColumns = []string{"name", "surname", "username", "email", "archive_date"}

var importRequiredColumns = []string{"name", "surname", "username"}

// MaxImportClassColumns caps the class-name slots per row.
const MaxImportClassColumns = 10

var ErrNoImportRows = errors.New("import file contains no data rows")

// importRow is one raw record from the uploaded file. Line is the 1-based
// position in the source file, header row included.
type importRow struct {
	Line        int
	Name        string
	Surname     string
	Username    string
	Email       string
	ArchiveDate string
	Classes     []string
}

func (r importRow) isEmpty() bool {
	return r.Name == "" && r.Surname == "" && r.Username == "" &&
		r.Email == "" && r.ArchiveDate == "" && len(r.Classes) == 0
}

// readImportRows parses the whole stored source file into ordered raw
// records. Any error here is fatal to the job: without a readable file
// there is nothing to import.
func readImportRows(path string) ([]importRow, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSVRows(path)
	default:
		rows, err = readXLSXRows(path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, ErrNoImportRows
	}

	headers := normalizeHeaders(rows[0])
	for _, col := range importRequiredColumns {
		if _, exists := headers[col]; !exists {
			return nil, fmt.Errorf("required column %q missing from import file", col)
		}
	}

	records := make([]importRow, 0, len(rows)-1)
	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		data := readRow(headers, rows[rowIdx])
		record := importRow{
			Line:        rowIdx + 1,
			Name:        utils.SanitizeInput(data["name"]),
			Surname:     utils.SanitizeInput(data["surname"]),
			Username:    utils.SanitizeInput(data["username"]),
			Email:       utils.SanitizeInput(data["email"]),
			ArchiveDate: utils.SanitizeInput(data["archive_date"]),
		}
		for slot := 1; slot <= MaxImportClassColumns; slot++ {
			if name := utils.SanitizeInput(data[fmt.Sprintf("class%d", slot)]); name != "" {
				record.Classes = append(record.Classes, name)
			}
		}
		if record.isEmpty() {
			// trailing padding rows, common in spreadsheets
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no worksheets")
	}
	return f.GetRows(sheets[0])
}

func normalizeHeaders(row []string) map[string]int {
	headers := make(map[string]int)
	for idx, h := range row {
		key := strings.TrimSpace(strings.ToLower(h))
		if key != "" {
			headers[key] = idx
		}
	}
	return headers
}

func readRow(headers map[string]int, row []string) map[string]string {
	values := make(map[string]string)
	for key, idx := range headers {
		if idx < len(row) {
			values[key] = row[idx]
		}
	}
	return values
}

// credentialSet tracks usernames and e-mails already taken, lower-cased.
// Rows in an uncommitted batch stage their claims so a rolled back batch
// does not block reuse later in the run.
type credentialSet struct {
	usernames map[string]struct{}
	emails    map[string]struct{}

	stagedUsernames map[string]struct{}
	stagedEmails    map[string]struct{}
}

func newCredentialSet(usernames, emails map[string]struct{}) *credentialSet {
	return &credentialSet{
		usernames:       usernames,
		emails:          emails,
		stagedUsernames: make(map[string]struct{}),
		stagedEmails:    make(map[string]struct{}),
	}
}

func (s *credentialSet) hasUsername(username string) bool {
	if _, ok := s.usernames[username]; ok {
		return true
	}
	_, ok := s.stagedUsernames[username]
	return ok
}

func (s *credentialSet) hasEmail(email string) bool {
	if _, ok := s.emails[email]; ok {
		return true
	}
	_, ok := s.stagedEmails[email]
	return ok
}

func (s *credentialSet) stage(username, email string) {
	s.stagedUsernames[username] = struct{}{}
	s.stagedEmails[email] = struct{}{}
}

func (s *credentialSet) commit() {
	for u := range s.stagedUsernames {
		s.usernames[u] = struct{}{}
	}
	for e := range s.stagedEmails {
		s.emails[e] = struct{}{}
	}
	s.rollback()
}

func (s *credentialSet) rollback() {
	s.stagedUsernames = make(map[string]struct{})
	s.stagedEmails = make(map[string]struct{})
}

// validateRow checks the required fields and credential uniqueness of one
// raw record. On acceptance it returns the derived e-mail (the provided one
// lower-cased, or the username when absent). It reads store state via the
// credential set only; it has no side effects.
func validateRow(row importRow, taken *credentialSet) (email, reason string, ok bool) {
	if row.Name == "" || row.Surname == "" || row.Username == "" {
		return "", fmt.Sprintf("row %d: name, surname and username are required", row.Line), false
	}

	username := strings.ToLower(row.Username)
	email = strings.ToLower(row.Email)
	if email == "" {
		email = username
	}

	if taken.hasUsername(username) {
		return "", fmt.Sprintf("row %d: a user with username %q already exists", row.Line, row.Username), false
	}
	if taken.hasEmail(email) {
		return "", fmt.Sprintf("row %d: a user with e-mail %q already exists", row.Line, email), false
	}

	return email, "", true
}

// parseArchiveDate parses a strict DD/MM/YYYY date. The parsed components
// must survive a round trip through time.Date unchanged, so calendar
// impossibilities like 31/02/2025 are rejected rather than normalized.
func parseArchiveDate(value string) (time.Time, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("archive date %q is not in DD/MM/YYYY format", value)
	}

	day, dayErr := strconv.Atoi(parts[0])
	month, monthErr := strconv.Atoi(parts[1])
	year, yearErr := strconv.Atoi(parts[2])
	if dayErr != nil || monthErr != nil || yearErr != nil || len(parts[2]) != 4 {
		return time.Time{}, fmt.Errorf("archive date %q is not in DD/MM/YYYY format", value)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, fmt.Errorf("archive date %q is not a valid calendar date", value)
	}

	return t, nil
}
