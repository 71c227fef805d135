package repository

import (
	"context"
	"errors"
	"time"

	"magiclink/internal/entity"

	"gorm.io/gorm"
)

// MagicLinkRepository stores magic links. State-changing methods are
// conditional single-row (or single-statement) updates and report whether
// they won; callers never read-modify-write a link.
type MagicLinkRepository interface {
	Create(ctx context.Context, link *entity.MagicLink) error
	FindByToken(ctx context.Context, token string) (*entity.MagicLink, error)
	FindByID(ctx context.Context, id uint) (*entity.MagicLink, error)
	ListByEmail(ctx context.Context, email string) ([]entity.MagicLink, error)
	ExistsCreatedSince(ctx context.Context, email string, since time.Time) (bool, error)
	DisableActiveByEmail(ctx context.Context, email string) (int64, error)
	Disable(ctx context.Context, id uint) (bool, error)
	RecordUse(ctx context.Context, id uint, seenUses int, maxUses int) (bool, error)
	DisableExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDisabled(ctx context.Context) (int64, error)
}

type magicLinkRepository struct {
	db *gorm.DB
}

func NewMagicLinkRepository(db *gorm.DB) MagicLinkRepository {
	return &magicLinkRepository{db: db}
}

func (r *magicLinkRepository) Create(ctx context.Context, link *entity.MagicLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *magicLinkRepository) FindByToken(ctx context.Context, token string) (*entity.MagicLink, error) {
	var link entity.MagicLink
	err := r.db.WithContext(ctx).
		Where("token = ?", token).
		First(&link).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *magicLinkRepository) FindByID(ctx context.Context, id uint) (*entity.MagicLink, error) {
	var link entity.MagicLink
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&link).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *magicLinkRepository) ListByEmail(ctx context.Context, email string) ([]entity.MagicLink, error) {
	var links []entity.MagicLink
	if err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created DESC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

func (r *magicLinkRepository) ExistsCreatedSince(ctx context.Context, email string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.MagicLink{}).
		Where("email = ? AND created >= ?", email, since).
		Count(&count).Error
	return count > 0, err
}

func (r *magicLinkRepository) DisableActiveByEmail(ctx context.Context, email string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.MagicLink{}).
		Where("email = ? AND disabled = ?", email, false).
		Update("disabled", true)
	return res.RowsAffected, res.Error
}

// Disable burns the link and counts the attempt. It returns false when the
// link was already disabled or no longer exists.
func (r *magicLinkRepository) Disable(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.MagicLink{}).
		Where("id = ? AND disabled = ?", id, false).
		Updates(disableAssignments())
	return res.RowsAffected > 0, res.Error
}

// RecordUse increments times_used only if nobody else touched the link since
// it was read with seenUses, and disables it once maxUses is reached.
func (r *magicLinkRepository) RecordUse(ctx context.Context, id uint, seenUses int, maxUses int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.MagicLink{}).
		Where("id = ? AND disabled = ? AND times_used = ?", id, false, seenUses).
		Updates(map[string]any{
			"times_used": gorm.Expr("times_used + 1"),
			"disabled":   gorm.Expr("times_used + 1 >= ?", maxUses),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *magicLinkRepository) DisableExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.MagicLink{}).
		Where("disabled = ? AND expiry <= ?", false, cutoff).
		Updates(disableAssignments())
	return res.RowsAffected, res.Error
}

func (r *magicLinkRepository) DeleteDisabled(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("disabled = ?", true).
		Delete(&entity.MagicLink{})
	return res.RowsAffected, res.Error
}

func disableAssignments() map[string]any {
	return map[string]any{
		"disabled":   true,
		"times_used": gorm.Expr("times_used + 1"),
	}
}
