package identity

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleCitizen = "citizen"
	RoleOfficer = "officer"
	RoleAdmin   = "admin"
)

// ValidRole reports whether role is one the platform issues.
func ValidRole(role string) bool {
	switch role {
	case RoleCitizen, RoleOfficer, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Email      string         `gorm:"uniqueIndex;not null" json:"email"`
	Password   string         `gorm:"not null" json:"-"`
	Name       string         `gorm:"not null" json:"name"`
	Role       string         `gorm:"type:varchar(16);index;default:'citizen'" json:"role"`
	Department string         `gorm:"type:varchar(64)" json:"department,omitempty"`
	NIK        *string        `gorm:"uniqueIndex" json:"nik,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsOfficer reports whether the user can hold field tasks.
func (u *User) IsOfficer() bool {
	return u.Role == RoleOfficer
}
