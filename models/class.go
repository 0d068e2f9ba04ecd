package models

import (
	"time"
)

type Class struct {
	ClassID     int        `gorm:"primaryKey;autoIncrement;column:class_id" json:"class_id"`
	Name        string     `gorm:"column:name" json:"name"`
	OwnerID     int        `gorm:"column:owner_id" json:"owner_id"`
	ArchiveDate *time.Time `gorm:"column:archive_date" json:"archive_date,omitempty"`
	CreateAt    *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt    *time.Time `gorm:"column:update_at" json:"update_at"`
	DeleteAt    *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`

	// Relations
	Owner User `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
}

type ClassMembership struct {
	MembershipID int        `gorm:"primaryKey;autoIncrement;column:membership_id" json:"membership_id"`
	UserID       int        `gorm:"column:user_id" json:"user_id"`
	ClassID      int        `gorm:"column:class_id" json:"class_id"`
	CreateAt     *time.Time `gorm:"column:create_at" json:"create_at"`
}

func (Class) TableName() string {
	return "classes"
}

func (ClassMembership) TableName() string {
	return "class_memberships"
}
