package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/06benste/schoolmasterVLE-sub001/models"
	"github.com/06benste/schoolmasterVLE-sub001/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fakeImportStore is an in-memory ImportStore with transactional batch
// semantics: writes staged inside ApplyBatch are discarded when fn or the
// injected commit error fails.
type fakeImportStore struct {
	snapshot    *ImportStoreSnapshot
	snapshotErr error

	batches     int
	failBatch   map[int]error // 1-based batch ordinal -> commit error
	beforeBatch func(batchNo int)

	users       []models.User
	classes     []models.Class
	memberships []models.ClassMembership

	nextUserID  int
	nextClassID int
}

func newFakeImportStore() *fakeImportStore {
	return &fakeImportStore{
		snapshot: &ImportStoreSnapshot{
			Usernames: map[string]struct{}{},
			Emails:    map[string]struct{}{},
			Classes:   map[string]int{},
			AdminID:   1,
		},
		failBatch:   map[int]error{},
		nextUserID:  100,
		nextClassID: 500,
	}
}

func (s *fakeImportStore) Snapshot(ctx context.Context) (*ImportStoreSnapshot, error) {
	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	return s.snapshot, nil
}

func (s *fakeImportStore) ApplyBatch(ctx context.Context, fn func(tx ImportBatchTx) error) error {
	s.batches++
	if s.beforeBatch != nil {
		s.beforeBatch(s.batches)
	}

	tx := &fakeBatchTx{nextUserID: s.nextUserID, nextClassID: s.nextClassID}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.failBatch[s.batches]; err != nil {
		return err
	}

	s.users = append(s.users, tx.users...)
	s.classes = append(s.classes, tx.classes...)
	s.memberships = append(s.memberships, tx.memberships...)
	s.nextUserID = tx.nextUserID
	s.nextClassID = tx.nextClassID
	return nil
}

type fakeBatchTx struct {
	users       []models.User
	classes     []models.Class
	memberships []models.ClassMembership
	nextUserID  int
	nextClassID int
}

func (t *fakeBatchTx) CreateUser(user *models.User) error {
	t.nextUserID++
	user.UserID = t.nextUserID
	t.users = append(t.users, *user)
	return nil
}

func (t *fakeBatchTx) CreateClass(class *models.Class) error {
	t.nextClassID++
	class.ClassID = t.nextClassID
	t.classes = append(t.classes, *class)
	return nil
}

func (t *fakeBatchTx) Enroll(userID, classID int) error {
	t.memberships = append(t.memberships, models.ClassMembership{UserID: userID, ClassID: classID})
	return nil
}

func newTestImportService(store ImportStore) *UserImportService {
	return &UserImportService{store: store, registry: NewImportRegistry()}
}

// runImport registers a job and drives it synchronously to a terminal state.
func runImport(t *testing.T, svc *UserImportService, sourcePath string) *models.ImportJob {
	t.Helper()
	job := models.NewImportJob(uuid.NewString(), sourcePath)
	svc.registry.Add(job)
	svc.run(job)
	return job
}

var importHeader = []string{"name", "surname", "username", "email", "archive_date", "class1", "class2"}

func studentRows(n int, class string) [][]string {
	rows := [][]string{importHeader}
	for i := 0; i < n; i++ {
		rows = append(rows, []string{
			fmt.Sprintf("Name%d", i),
			fmt.Sprintf("Surname%d", i),
			fmt.Sprintf("student%03d", i),
			"", "", class, "",
		})
	}
	return rows
}

func writeImportXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &rows[i]))
	}

	path := filepath.Join(t.TempDir(), "import.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func writeImportCSV(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(rows))
	require.NoError(t, f.Close())
	return path
}

func TestImportJobSixtyRowsRunsInThreeBatches(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	job := runImport(t, svc, writeImportXLSX(t, studentRows(60, "Maths 1")))

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobCompleted, snap.Status)
	assert.Equal(t, 60, snap.Total)
	assert.Equal(t, 60, snap.Current)
	require.NotNil(t, snap.FinishedAt)
	require.NotNil(t, snap.Result)

	assert.Equal(t, 60, snap.Result.CreatedCount)
	assert.Equal(t, 0, snap.Result.ErrorCount)
	assert.Equal(t, 1, snap.Result.ClassesCreatedCount)
	assert.Len(t, snap.Result.CreatedUsers, 60)

	assert.Equal(t, 3, store.batches)
	assert.Len(t, store.users, 60)
	assert.Len(t, store.memberships, 60)
	assert.Contains(t, snap.Messages, "processed batch 1/3 (25/60 rows)")
	assert.Contains(t, snap.Messages, "processed batch 3/3 (60/60 rows)")
}

func TestImportJobStoresHashedPasswordsOnly(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	job := runImport(t, svc, writeImportCSV(t, studentRows(2, "")))

	snap := job.Snapshot()
	require.Len(t, snap.Result.CreatedUsers, 2)

	for i, cred := range snap.Result.CreatedUsers {
		assert.Len(t, cred.Password, utils.TempPasswordLength)
		assert.NotEqual(t, cred.Password, store.users[i].Password)
		assert.True(t, utils.CheckPasswordHash(cred.Password, store.users[i].Password))
	}
}

func TestImportJobRejectsDuplicateUsernames(t *testing.T) {
	store := newFakeImportStore()
	store.snapshot.Usernames["taken"] = struct{}{}
	store.snapshot.Emails["taken"] = struct{}{}
	svc := newTestImportService(store)

	rows := [][]string{
		importHeader,
		{"John", "Smith", "JSmith", "", "", "", ""},
		{"Jane", "Smith", "jsmith", "jane@example.school", "", "", ""},
		{"Tom", "Jones", "Taken", "", "", "", ""},
	}
	job := runImport(t, svc, writeImportCSV(t, rows))

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobCompleted, snap.Status)
	assert.Equal(t, 1, snap.Result.CreatedCount)
	assert.Equal(t, 2, snap.Result.ErrorCount)
	assert.Len(t, store.users, 1)
	assert.Equal(t, "JSmith", store.users[0].Username)

	require.Len(t, snap.Errors, 2)
	assert.Contains(t, snap.Errors[0], "already exists")
}

func TestImportJobRejectsDuplicateDerivedEmail(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	rows := [][]string{
		importHeader,
		{"John", "Smith", "jsmith", "john@example.school", "", "", ""},
		// different username, same e-mail after lower-casing
		{"Jane", "Doe", "jdoe", "John@Example.School", "", "", ""},
	}
	job := runImport(t, svc, writeImportCSV(t, rows))

	snap := job.Snapshot()
	assert.Equal(t, 1, snap.Result.CreatedCount)
	assert.Equal(t, 1, snap.Result.ErrorCount)
	assert.Contains(t, snap.Errors[0], "e-mail")
}

func TestImportJobDerivesEmailFromUsername(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	rows := [][]string{
		importHeader,
		{"John", "Smith", "JSmith", "", "", "", ""},
	}
	runImport(t, svc, writeImportCSV(t, rows))

	require.Len(t, store.users, 1)
	assert.Equal(t, "jsmith", store.users[0].Email)
	assert.Equal(t, models.RoleStudent, store.users[0].RoleID)
}

func TestImportJobReusesClassAcrossRows(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	rows := [][]string{importHeader}
	names := []string{"Maths 1", "maths 1", "MATHS 1", "Maths 1", " maths 1 "}
	for i, class := range names {
		rows = append(rows, []string{"Name", "Surname", fmt.Sprintf("user%d", i), "", "", class, ""})
	}
	job := runImport(t, svc, writeImportCSV(t, rows))

	snap := job.Snapshot()
	assert.Equal(t, 5, snap.Result.CreatedCount)
	assert.Equal(t, 1, snap.Result.ClassesCreatedCount)
	require.Len(t, store.classes, 1)
	assert.Equal(t, "Maths 1", store.classes[0].Name)

	require.Len(t, store.memberships, 5)
	for _, m := range store.memberships {
		assert.Equal(t, store.classes[0].ClassID, m.ClassID)
	}
}

func TestImportJobAutoCreatedClassHasOwnerAndArchiveDate(t *testing.T) {
	store := newFakeImportStore()
	store.snapshot.AdminID = 42
	svc := newTestImportService(store)

	runImport(t, svc, writeImportCSV(t, studentRows(1, "Physics 2")))

	require.Len(t, store.classes, 1)
	class := store.classes[0]
	assert.Equal(t, 42, class.OwnerID)
	require.NotNil(t, class.ArchiveDate)

	wantArchive := time.Now().AddDate(1, 0, 0)
	assert.WithinDuration(t, wantArchive, *class.ArchiveDate, time.Hour)
}

func TestImportJobInvalidArchiveDateStillCreatesUser(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	rows := [][]string{
		importHeader,
		{"John", "Smith", "jsmith", "", "31/02/2025", "", ""},
		{"Jane", "Doe", "jdoe", "", "31/07/2027", "", ""},
	}
	job := runImport(t, svc, writeImportCSV(t, rows))

	snap := job.Snapshot()
	assert.Equal(t, 2, snap.Result.CreatedCount)
	assert.Equal(t, 0, snap.Result.ErrorCount)

	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "31/02/2025")

	require.Len(t, store.users, 2)
	assert.Nil(t, store.users[0].ArchiveDate)
	require.NotNil(t, store.users[1].ArchiveDate)
	assert.Equal(t, time.Date(2027, time.July, 31, 0, 0, 0, 0, time.UTC), *store.users[1].ArchiveDate)
}

func TestImportJobSkipsClassWhenNoAdminExists(t *testing.T) {
	store := newFakeImportStore()
	store.snapshot.AdminID = 0
	svc := newTestImportService(store)

	job := runImport(t, svc, writeImportCSV(t, studentRows(1, "Maths 1")))

	snap := job.Snapshot()
	assert.Equal(t, 1, snap.Result.CreatedCount)
	assert.Equal(t, 0, snap.Result.ClassesCreatedCount)
	assert.Empty(t, store.classes)
	assert.Empty(t, store.memberships)
	assert.Len(t, store.users, 1)

	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "no administrator account")
}

func TestImportJobBatchFailureIsIsolated(t *testing.T) {
	store := newFakeImportStore()
	store.failBatch[2] = errors.New("deadlock found when trying to get lock")
	svc := newTestImportService(store)

	job := runImport(t, svc, writeImportXLSX(t, studentRows(60, "Maths 1")))

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobCompleted, snap.Status)
	assert.Equal(t, 60, snap.Current)
	assert.Equal(t, 35, snap.Result.CreatedCount)
	assert.Equal(t, 25, snap.Result.ErrorCount)
	assert.Len(t, store.users, 35)

	// the class was committed with batch 1 and reused by batch 3
	assert.Equal(t, 1, snap.Result.ClassesCreatedCount)
	assert.Len(t, store.memberships, 35)

	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "batch 2/3 failed")
	assert.Contains(t, snap.Errors[0], "deadlock")
}

func TestImportJobCancelStopsAtBatchBoundary(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	job := models.NewImportJob(uuid.NewString(), writeImportXLSX(t, studentRows(60, "")))
	svc.registry.Add(job)

	// cancel while the first batch is in flight; the batch must finish
	store.beforeBatch = func(batchNo int) {
		if batchNo == 1 {
			require.NoError(t, svc.Cancel(job.ID()))
		}
	}

	svc.run(job)

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobCancelled, snap.Status)
	require.NotNil(t, snap.FinishedAt)
	assert.Equal(t, 60, snap.Total)
	assert.Equal(t, 25, snap.Current)
	assert.Equal(t, 1, store.batches)
	assert.Equal(t, 25, snap.Result.CreatedCount)
	assert.Len(t, store.users, 25)
	assert.Contains(t, snap.Messages, "import cancelled after 25 of 60 rows")
}

func TestImportJobCancelBeforeFirstBatch(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	job := models.NewImportJob(uuid.NewString(), writeImportCSV(t, studentRows(10, "")))
	svc.registry.Add(job)
	require.NoError(t, svc.Cancel(job.ID()))

	svc.run(job)

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobCancelled, snap.Status)
	assert.Equal(t, 0, snap.Current)
	assert.Equal(t, 0, store.batches)
	assert.Equal(t, 0, snap.Result.CreatedCount)
}

func TestImportJobFailsWhenSourceFileMissing(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	job := runImport(t, svc, filepath.Join(t.TempDir(), "missing.xlsx"))

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobFailed, snap.Status)
	require.NotNil(t, snap.FinishedAt)
	assert.Contains(t, snap.Error, "cannot read import file")
	require.NotNil(t, snap.Result)
	assert.Equal(t, 0, snap.Result.CreatedCount)
	assert.Equal(t, 0, store.batches)
}

func TestImportJobFailsWhenRequiredColumnMissing(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	rows := [][]string{
		{"name", "surname", "email"},
		{"John", "Smith", "john@example.school"},
	}
	job := runImport(t, svc, writeImportCSV(t, rows))

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobFailed, snap.Status)
	assert.Contains(t, snap.Error, `"username"`)
}

func TestImportJobFailsWhenLookupStateUnavailable(t *testing.T) {
	store := newFakeImportStore()
	store.snapshotErr = errors.New("connection refused")
	svc := newTestImportService(store)

	job := runImport(t, svc, writeImportCSV(t, studentRows(3, "")))

	snap := job.Snapshot()
	assert.Equal(t, models.ImportJobFailed, snap.Status)
	assert.Contains(t, snap.Error, "connection refused")
}

func TestSubmitReturnsImmediatelyAndCompletesInBackground(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	job := svc.Submit(writeImportCSV(t, studentRows(30, "History 1")), "")
	require.NotEmpty(t, job.ID())

	require.Eventually(t, func() bool {
		snap, err := svc.Job(job.ID())
		return err == nil && snap.Status == models.ImportJobCompleted
	}, 30*time.Second, 20*time.Millisecond)

	snap, err := svc.Job(job.ID())
	require.NoError(t, err)
	assert.Equal(t, 30, snap.Result.CreatedCount)
}

func TestCredentialsOnlyAvailableForCompletedJobs(t *testing.T) {
	store := newFakeImportStore()
	svc := newTestImportService(store)

	_, err := svc.Credentials("no-such-job")
	assert.ErrorIs(t, err, ErrImportJobNotFound)

	queued := models.NewImportJob(uuid.NewString(), "whatever.xlsx")
	svc.registry.Add(queued)
	_, err = svc.Credentials(queued.ID())
	assert.ErrorIs(t, err, ErrImportJobNotReady)

	done := runImport(t, svc, writeImportCSV(t, studentRows(2, "")))
	result, err := svc.Credentials(done.ID())
	require.NoError(t, err)
	assert.Len(t, result.CreatedUsers, 2)

	// repeatable for as long as the job record exists
	again, err := svc.Credentials(done.ID())
	require.NoError(t, err)
	assert.Equal(t, result.CreatedUsers, again.CreatedUsers)
}

func TestCredentialsNothingCreated(t *testing.T) {
	store := newFakeImportStore()
	store.snapshot.Usernames["jsmith"] = struct{}{}
	store.snapshot.Emails["jsmith"] = struct{}{}
	svc := newTestImportService(store)

	rows := [][]string{
		importHeader,
		{"John", "Smith", "jsmith", "", "", "", ""},
	}
	job := runImport(t, svc, writeImportCSV(t, rows))

	_, err := svc.Credentials(job.ID())
	assert.ErrorIs(t, err, ErrImportNothingCreated)
}
