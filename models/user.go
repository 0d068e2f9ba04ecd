package models

import (
	"time"
)

// Role IDs used across the API
const (
	RoleStudent = 1
	RoleTeacher = 2
	RoleAdmin   = 3
)

type User struct {
	UserID      int        `gorm:"primaryKey;autoIncrement;column:user_id" json:"user_id"`
	Username    string     `gorm:"column:username;unique" json:"username"`
	Name        string     `gorm:"column:name" json:"name"`
	Surname     string     `gorm:"column:surname" json:"surname"`
	Email       string     `gorm:"column:email;unique" json:"email"`
	Password    string     `gorm:"column:password" json:"-"`
	RoleID      int        `gorm:"column:role_id" json:"role_id"`
	ArchiveDate *time.Time `gorm:"column:archive_date" json:"archive_date,omitempty"`
	CreateAt    *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt    *time.Time `gorm:"column:update_at" json:"update_at"`
	DeleteAt    *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`

	// Relations
	Role Role `gorm:"foreignKey:RoleID" json:"role,omitempty"`
}

type Role struct {
	RoleID   int        `gorm:"primaryKey;column:role_id" json:"role_id"`
	Role     string     `gorm:"column:role" json:"role"`
	CreateAt *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt *time.Time `gorm:"column:update_at" json:"update_at"`
	DeleteAt *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`
}

// TableName overrides
func (User) TableName() string {
	return "users"
}

func (Role) TableName() string {
	return "roles"
}
