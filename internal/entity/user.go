package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	UserRoleUser      = "user"
	UserRoleStaff     = "staff"
	UserRoleSuperuser = "superuser"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string    `gorm:"type:varchar(254);uniqueIndex;not null"`
	Username  *string   `gorm:"type:varchar(150);uniqueIndex"`
	FirstName string    `gorm:"type:varchar(150)"`
	LastName  string    `gorm:"type:varchar(150)"`

	IsActive    bool `gorm:"not null"`
	IsStaff     bool `gorm:"not null"`
	IsSuperuser bool `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is the coarse role carried in session tokens.
func (u *User) Role() string {
	switch {
	case u.IsSuperuser:
		return UserRoleSuperuser
	case u.IsStaff:
		return UserRoleStaff
	default:
		return UserRoleUser
	}
}
