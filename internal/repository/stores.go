package repository

import "gorm.io/gorm"

// Stores groups the repositories the magic link services depend on.
type Stores struct {
	MagicLinks   MagicLinkRepository
	Users        UserRepository
	SecurityLogs SecurityLogRepository
}

func NewStores(db *gorm.DB) Stores {
	return Stores{
		MagicLinks:   NewMagicLinkRepository(db),
		Users:        NewUserRepository(db),
		SecurityLogs: NewSecurityLogRepository(db),
	}
}

// NewMemoryStores backs every repository with process memory. Data is lost
// on restart.
func NewMemoryStores() Stores {
	return Stores{
		MagicLinks:   NewMagicLinkMemoryRepository(),
		Users:        NewUserMemoryRepository(),
		SecurityLogs: NewSecurityLogMemoryRepository(),
	}
}
