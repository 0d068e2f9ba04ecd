package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/06benste/schoolmasterVLE-sub001/config"
	"github.com/06benste/schoolmasterVLE-sub001/models"
	"github.com/06benste/schoolmasterVLE-sub001/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// importBatchSize is the number of rows written per transaction. The
// processor re-checks the cancellation flag between batches, never inside
// one.
const importBatchSize = 25

// UserImportService owns the in-memory job registry and runs one background
// batch processor goroutine per submitted job.
type UserImportService struct {
	store    ImportStore
	registry *ImportRegistry
}

func NewUserImportService(db *gorm.DB) *UserImportService {
	if db == nil {
		db = config.DB
	}
	return &UserImportService{
		store:    NewImportStore(db),
		registry: NewImportRegistry(),
	}
}

// Submit registers a job for an already-stored source file and schedules it.
// It returns as soon as the job exists; processing happens on its own
// goroutine and is observed by polling.
func (s *UserImportService) Submit(sourcePath, notifyEmail string) *models.ImportJob {
	job := models.NewImportJob(uuid.NewString(), sourcePath)
	job.SetNotifyEmail(notifyEmail)
	s.registry.Add(job)
	go s.run(job)
	return job
}

// Job returns a snapshot of the job state for polling clients.
func (s *UserImportService) Job(id string) (models.ImportJobSnapshot, error) {
	job, ok := s.registry.Get(id)
	if !ok {
		return models.ImportJobSnapshot{}, ErrImportJobNotFound
	}
	return job.Snapshot(), nil
}

// Cancel requests cooperative cancellation of a queued or processing job.
func (s *UserImportService) Cancel(id string) error {
	return s.registry.Cancel(id)
}

// Credentials returns the generated credentials of a completed job.
func (s *UserImportService) Credentials(id string) (*models.ImportResult, error) {
	job, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrImportJobNotFound
	}
	result, status := job.Result()
	if status != models.ImportJobCompleted || result == nil {
		return nil, ErrImportJobNotReady
	}
	if len(result.CreatedUsers) == 0 {
		return nil, ErrImportNothingCreated
	}
	return result, nil
}

// run drives one import job from queued to a terminal state. Every failure
// mode is captured into the job record; nothing escapes to the caller.
func (s *UserImportService) run(job *models.ImportJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("import job %s panicked: %v", job.ID(), r)
			job.Fail(&models.ImportResult{CreatedUsers: []models.ImportedUser{}}, fmt.Sprintf("internal error: %v", r))
		}
		s.notify(job)
	}()

	ctx := context.Background()
	job.MarkProcessing()

	rows, err := readImportRows(job.SourcePath())
	if err != nil {
		log.Printf("import job %s: cannot read source file: %v", job.ID(), err)
		job.Fail(&models.ImportResult{CreatedUsers: []models.ImportedUser{}}, fmt.Sprintf("cannot read import file: %v", err))
		return
	}

	job.SetTotal(len(rows))
	job.Logf("parsed %d rows from %s", len(rows), filepath.Base(job.SourcePath()))

	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		log.Printf("import job %s: cannot load lookup state: %v", job.ID(), err)
		job.Fail(&models.ImportResult{CreatedUsers: []models.ImportedUser{}}, fmt.Sprintf("cannot load existing users and classes: %v", err))
		return
	}

	taken := newCredentialSet(snapshot.Usernames, snapshot.Emails)
	classes := newClassResolver(snapshot.Classes, snapshot.AdminID)
	result := &models.ImportResult{CreatedUsers: []models.ImportedUser{}}

	batches := (len(rows) + importBatchSize - 1) / importBatchSize
	processed := 0

	for b := 0; b < batches; b++ {
		// Cancellation is observed only here, at the batch boundary; a batch
		// already in flight always runs to completion.
		if job.CancelRequested() {
			job.Logf("import cancelled after %d of %d rows", processed, len(rows))
			job.Cancel(result)
			return
		}

		start := b * importBatchSize
		end := min(start+importBatchSize, len(rows))
		batch := rows[start:end]

		s.processBatch(ctx, job, batch, b+1, batches, taken, classes, result)

		processed = end
		job.Advance(processed)
		job.Logf("processed batch %d/%d (%d/%d rows)", b+1, batches, processed, len(rows))
	}

	job.Logf("import finished: %d users created, %d classes created, %d errors",
		result.CreatedCount, result.ClassesCreatedCount, result.ErrorCount)
	job.Complete(result)
}

// processBatch runs one batch inside a single transaction and folds its
// outcome into the running result. Row-level rejections are recorded without
// failing the transaction; a storage fault rolls the whole batch back and
// counts every row in it as an error, after which the job moves on.
func (s *UserImportService) processBatch(ctx context.Context, job *models.ImportJob, batch []importRow,
	batchNo, batchCount int, taken *credentialSet, classes *classResolver, result *models.ImportResult) {

	var (
		created    []models.ImportedUser
		rejections []string
		notes      []string
	)

	err := s.store.ApplyBatch(ctx, func(tx ImportBatchTx) error {
		for _, row := range batch {
			email, reason, ok := validateRow(row, taken)
			if !ok {
				rejections = append(rejections, reason)
				continue
			}

			var archiveDate *time.Time
			if row.ArchiveDate != "" {
				if t, dateErr := parseArchiveDate(row.ArchiveDate); dateErr != nil {
					notes = append(notes, fmt.Sprintf("row %d: %v; user created without auto-archive", row.Line, dateErr))
				} else {
					archiveDate = &t
				}
			}

			password := utils.GenerateTempPassword(utils.TempPasswordLength)
			hash, hashErr := utils.HashPassword(password)
			if hashErr != nil {
				return fmt.Errorf("hash password for row %d: %w", row.Line, hashErr)
			}

			user := &models.User{
				Username:    row.Username,
				Name:        row.Name,
				Surname:     row.Surname,
				Email:       email,
				Password:    hash,
				RoleID:      models.RoleStudent,
				ArchiveDate: archiveDate,
			}
			if createErr := tx.CreateUser(user); createErr != nil {
				return fmt.Errorf("create user %q: %w", row.Username, createErr)
			}

			for _, className := range row.Classes {
				classID, classErr := classes.resolve(tx, className)
				if classErr != nil {
					return fmt.Errorf("resolve class %q: %w", className, classErr)
				}
				if classID == 0 {
					notes = append(notes, fmt.Sprintf("row %d: no administrator account to own new class %q; class skipped", row.Line, className))
					continue
				}
				if enrollErr := tx.Enroll(user.UserID, classID); enrollErr != nil {
					return fmt.Errorf("enroll user %q in class %q: %w", row.Username, className, enrollErr)
				}
			}

			taken.stage(strings.ToLower(row.Username), email)
			created = append(created, models.ImportedUser{
				Username: user.Username,
				Password: password,
				Name:     user.Name,
				Surname:  user.Surname,
			})
		}
		return nil
	})

	if err != nil {
		// Systemic fault: the transaction rolled back, so nothing from this
		// batch survives. The job itself keeps going.
		taken.rollback()
		classes.rollback()
		result.ErrorCount += len(batch)
		job.LogErrorf("batch %d/%d failed and was rolled back (%d rows skipped): %v", batchNo, batchCount, len(batch), err)
		log.Printf("import job %s: batch %d/%d failed: %v", job.ID(), batchNo, batchCount, err)
		return
	}

	taken.commit()
	result.ClassesCreatedCount += classes.commit()
	result.CreatedUsers = append(result.CreatedUsers, created...)
	result.CreatedCount += len(created)
	result.ErrorCount += len(rejections)

	for _, reason := range rejections {
		job.LogErrorf("%s", reason)
	}
	for _, note := range notes {
		job.LogErrorf("%s", note)
	}
}

// notify sends a best-effort completion mail to the submitting
// administrator. The mail carries counts only, never credentials.
func (s *UserImportService) notify(job *models.ImportJob) {
	email := job.NotifyEmail()
	if email == "" {
		return
	}

	snap := job.Snapshot()
	subject := fmt.Sprintf("User import %s", snap.Status)
	body := fmt.Sprintf("<p>Your user import (job %s) finished with status <b>%s</b>.</p>", snap.ID, snap.Status)
	if snap.Result != nil {
		body += fmt.Sprintf("<p>%d users created, %d classes created, %d errors.</p>",
			snap.Result.CreatedCount, snap.Result.ClassesCreatedCount, snap.Result.ErrorCount)
	}

	if err := config.SendMail([]string{email}, subject, body); err != nil {
		log.Printf("import job %s: completion mail not sent: %v", job.ID(), err)
	}
}
