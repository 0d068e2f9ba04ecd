package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/06benste/schoolmasterVLE-sub001/models"

	"gorm.io/gorm"
)

// ImportStoreSnapshot is the lookup state loaded once when a job starts:
// credentials already taken, existing classes and the default class owner.
type ImportStoreSnapshot struct {
	Usernames map[string]struct{} // lower-cased
	Emails    map[string]struct{} // lower-cased
	Classes   map[string]int      // lower-cased class name -> class id
	AdminID   int                 // 0 when no administrator account exists
}

// ImportBatchTx is the write surface available inside one batch transaction.
type ImportBatchTx interface {
	CreateUser(user *models.User) error
	CreateClass(class *models.Class) error
	Enroll(userID, classID int) error
}

// ImportStore is the relational-store port used by the batch processor.
// ApplyBatch runs fn inside a single transaction; an error from fn rolls the
// whole batch back.
type ImportStore interface {
	Snapshot(ctx context.Context) (*ImportStoreSnapshot, error)
	ApplyBatch(ctx context.Context, fn func(tx ImportBatchTx) error) error
}

type gormImportStore struct {
	db *gorm.DB
}

func NewImportStore(db *gorm.DB) ImportStore {
	return &gormImportStore{db: db}
}

func (s *gormImportStore) Snapshot(ctx context.Context) (*ImportStoreSnapshot, error) {
	snapshot := &ImportStoreSnapshot{
		Usernames: make(map[string]struct{}),
		Emails:    make(map[string]struct{}),
		Classes:   make(map[string]int),
	}

	type credentialRow struct {
		Username string
		Email    string
	}
	var credentials []credentialRow
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("username, email").
		Where("delete_at IS NULL").
		Find(&credentials).Error; err != nil {
		return nil, err
	}
	for _, row := range credentials {
		if u := strings.ToLower(strings.TrimSpace(row.Username)); u != "" {
			snapshot.Usernames[u] = struct{}{}
		}
		if e := strings.ToLower(strings.TrimSpace(row.Email)); e != "" {
			snapshot.Emails[e] = struct{}{}
		}
	}

	type classRow struct {
		ClassID int
		Name    string
	}
	var classes []classRow
	if err := s.db.WithContext(ctx).Model(&models.Class{}).
		Select("class_id, name").
		Where("delete_at IS NULL").
		Find(&classes).Error; err != nil {
		return nil, err
	}
	for _, row := range classes {
		if name := strings.ToLower(strings.TrimSpace(row.Name)); name != "" {
			snapshot.Classes[name] = row.ClassID
		}
	}

	var admin models.User
	err := s.db.WithContext(ctx).
		Where("role_id = ? AND delete_at IS NULL", models.RoleAdmin).
		Order("user_id ASC").
		First(&admin).Error
	switch {
	case err == nil:
		snapshot.AdminID = admin.UserID
	case errors.Is(err, gorm.ErrRecordNotFound):
		// imports still run; rows referencing new classes log an error
	default:
		return nil, err
	}

	return snapshot, nil
}

func (s *gormImportStore) ApplyBatch(ctx context.Context, fn func(tx ImportBatchTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormImportBatchTx{tx: tx})
	})
}

type gormImportBatchTx struct {
	tx *gorm.DB
}

func (t *gormImportBatchTx) CreateUser(user *models.User) error {
	now := time.Now()
	user.CreateAt = &now
	user.UpdateAt = &now
	return t.tx.Create(user).Error
}

func (t *gormImportBatchTx) CreateClass(class *models.Class) error {
	now := time.Now()
	class.CreateAt = &now
	class.UpdateAt = &now
	return t.tx.Create(class).Error
}

func (t *gormImportBatchTx) Enroll(userID, classID int) error {
	now := time.Now()
	membership := models.ClassMembership{
		UserID:   userID,
		ClassID:  classID,
		CreateAt: &now,
	}
	return t.tx.Create(&membership).Error
}
