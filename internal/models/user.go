package models

import (
	"time"

	"gorm.io/gorm"
)

// StaffUser represents a staff member allowed to use the operator console
// Standardized: Go (PascalCase) -> DB (snake_case) -> JSON (camelCase)
type StaffUser struct {
	ID        string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Email     string     `gorm:"unique;not null" json:"email"`
	Password  string     `gorm:"not null" json:"-"`
	Name      string     `json:"name,omitempty"`
	Role      string     `gorm:"default:'staff'" json:"role"`
	IsActive  bool       `gorm:"default:true" json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for StaffUser model
func (StaffUser) TableName() string {
	return "staff_users"
}
