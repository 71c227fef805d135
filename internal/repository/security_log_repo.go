package repository

import (
	"context"
	"sync"
	"time"

	"magiclink/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SecurityLogRepository interface {
	Log(ctx context.Context, log *entity.SecurityLog) error
	ListByEmail(ctx context.Context, email string, limit int) ([]entity.SecurityLog, error)
}

type securityLogRepository struct {
	db *gorm.DB
}

func NewSecurityLogRepository(db *gorm.DB) SecurityLogRepository {
	return &securityLogRepository{db: db}
}

func (r *securityLogRepository) Log(ctx context.Context, log *entity.SecurityLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *securityLogRepository) ListByEmail(ctx context.Context, email string, limit int) ([]entity.SecurityLog, error) {
	var logs []entity.SecurityLog
	query := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

type SecurityLogMemoryRepository struct {
	mu   sync.Mutex
	logs []entity.SecurityLog
}

func NewSecurityLogMemoryRepository() *SecurityLogMemoryRepository {
	return &SecurityLogMemoryRepository{}
}

func (r *SecurityLogMemoryRepository) Log(ctx context.Context, log *entity.SecurityLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	r.logs = append(r.logs, *log)
	return nil
}

// ListByEmail returns the newest entries first.
func (r *SecurityLogMemoryRepository) ListByEmail(ctx context.Context, email string, limit int) ([]entity.SecurityLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var logs []entity.SecurityLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].Email != nil && *r.logs[i].Email == email {
			logs = append(logs, r.logs[i])
			if limit > 0 && len(logs) == limit {
				break
			}
		}
	}
	return logs, nil
}
