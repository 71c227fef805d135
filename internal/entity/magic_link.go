package entity

import (
	"strconv"
	"time"
)

type MagicLink struct {
	ID uint `gorm:"primaryKey"`

	Email       string  `gorm:"type:varchar(254);not null;index"`
	Token       string  `gorm:"type:text;not null;uniqueIndex"`
	Expiry      time.Time
	RedirectURL string  `gorm:"type:text;not null"`
	Disabled    bool    `gorm:"not null;index"`
	TimesUsed   int     `gorm:"not null"`
	CookieValue string  `gorm:"type:varchar(36)"`
	IPAddress   *string `gorm:"type:varchar(45)"`

	Created time.Time `gorm:"autoCreateTime;index"`
}

// CookieName is the name of the browser-binding cookie set when the link is requested.
func (m *MagicLink) CookieName() string {
	return "magiclink" + strconv.FormatUint(uint64(m.ID), 10)
}


// Usable reports whether the link can still log someone in: enabled, not
// expired and with uses left.
func (m *MagicLink) Usable(now time.Time, maxUses int) bool {
	return !m.Disabled && now.Before(m.Expiry) && m.TimesUsed < maxUses
}
