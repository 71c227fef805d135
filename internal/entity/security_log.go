package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SecurityAction string

const (
	MagicLinkIssued   SecurityAction = "magic_link_issued"
	MagicLinkRejected SecurityAction = "magic_link_rejected"
	LoginSuccess      SecurityAction = "login_success"
	Logout            SecurityAction = "logout"
	MagicLinksSwept   SecurityAction = "magic_links_swept"
)

type SecurityLog struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`

	UserID *uuid.UUID `gorm:"type:uuid;index"`
	Email  *string    `gorm:"type:varchar(254);index"`

	IPAddress *string        `gorm:"type:varchar(45)"`
	Action    SecurityAction `gorm:"type:varchar(32);not null"`

	Metadata datatypes.JSON

	CreatedAt time.Time
}
