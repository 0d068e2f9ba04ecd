package services

import (
	"strings"
	"time"

	"github.com/06benste/schoolmasterVLE-sub001/models"
)

// classResolver maps class names to ids, case-insensitively. Names missing
// from the lookup are created on demand with the default owner and a
// one-year auto-archive date. Classes created inside an uncommitted batch
// are staged, so a rolled back batch leaves the lookup untouched and a later
// batch can create the class again.
type classResolver struct {
	ids     map[string]int
	staged  map[string]int
	ownerID int
}

func newClassResolver(ids map[string]int, ownerID int) *classResolver {
	return &classResolver{
		ids:     ids,
		staged:  make(map[string]int),
		ownerID: ownerID,
	}
}

// resolve returns the class id for a name, creating the class when it does
// not exist yet. A zero id with a nil error means the class had to be
// skipped because no administrator account exists to own it.
func (r *classResolver) resolve(tx ImportBatchTx, name string) (int, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, nil
	}
	if id, ok := r.ids[key]; ok {
		return id, nil
	}
	if id, ok := r.staged[key]; ok {
		return id, nil
	}
	if r.ownerID == 0 {
		return 0, nil
	}

	archiveDate := time.Now().AddDate(1, 0, 0)
	class := &models.Class{
		Name:        strings.TrimSpace(name),
		OwnerID:     r.ownerID,
		ArchiveDate: &archiveDate,
	}
	if err := tx.CreateClass(class); err != nil {
		return 0, err
	}

	r.staged[key] = class.ClassID
	return class.ClassID, nil
}

// commit publishes the staged classes and reports how many were created.
func (r *classResolver) commit() int {
	created := len(r.staged)
	for key, id := range r.staged {
		r.ids[key] = id
	}
	r.staged = make(map[string]int)
	return created
}

func (r *classResolver) rollback() {
	r.staged = make(map[string]int)
}
