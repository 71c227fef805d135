package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"magiclink/internal/entity"
)

var ErrDuplicateToken = errors.New("magic link token already exists")

// MagicLinkMemoryRepository keeps magic links in process memory. It backs
// development runs without DATABASE_URL and the service tests.
type MagicLinkMemoryRepository struct {
	mu      sync.Mutex
	nextID  uint
	links   map[uint]*entity.MagicLink
	byToken map[string]uint
}

func NewMagicLinkMemoryRepository() *MagicLinkMemoryRepository {
	return &MagicLinkMemoryRepository{
		links:   make(map[uint]*entity.MagicLink),
		byToken: make(map[string]uint),
	}
}

func (r *MagicLinkMemoryRepository) Create(ctx context.Context, link *entity.MagicLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byToken[link.Token]; ok {
		return ErrDuplicateToken
	}
	r.nextID++
	link.ID = r.nextID
	if link.Created.IsZero() {
		link.Created = time.Now()
	}
	stored := *link
	r.links[stored.ID] = &stored
	r.byToken[stored.Token] = stored.ID
	return nil
}

func (r *MagicLinkMemoryRepository) FindByToken(ctx context.Context, token string) (*entity.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	link := *r.links[id]
	return &link, nil
}

func (r *MagicLinkMemoryRepository) FindByID(ctx context.Context, id uint) (*entity.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.links[id]
	if !ok {
		return nil, nil
	}
	link := *stored
	return &link, nil
}

func (r *MagicLinkMemoryRepository) ListByEmail(ctx context.Context, email string) ([]entity.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var links []entity.MagicLink
	for _, link := range r.links {
		if link.Email == email {
			links = append(links, *link)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].Created.After(links[j].Created)
	})
	return links, nil
}

// All returns every stored link ordered by ID.
func (r *MagicLinkMemoryRepository) All() []entity.MagicLink {
	r.mu.Lock()
	defer r.mu.Unlock()

	links := make([]entity.MagicLink, 0, len(r.links))
	for _, link := range r.links {
		links = append(links, *link)
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].ID < links[j].ID
	})
	return links
}

func (r *MagicLinkMemoryRepository) ExistsCreatedSince(ctx context.Context, email string, since time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, link := range r.links {
		if link.Email == email && !link.Created.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MagicLinkMemoryRepository) DisableActiveByEmail(ctx context.Context, email string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, link := range r.links {
		if link.Email == email && !link.Disabled {
			link.Disabled = true
			n++
		}
	}
	return n, nil
}

func (r *MagicLinkMemoryRepository) Disable(ctx context.Context, id uint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[id]
	if !ok || link.Disabled {
		return false, nil
	}
	link.TimesUsed++
	link.Disabled = true
	return true, nil
}

func (r *MagicLinkMemoryRepository) RecordUse(ctx context.Context, id uint, seenUses int, maxUses int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[id]
	if !ok || link.Disabled || link.TimesUsed != seenUses {
		return false, nil
	}
	link.TimesUsed++
	if link.TimesUsed >= maxUses {
		link.Disabled = true
	}
	return true, nil
}

func (r *MagicLinkMemoryRepository) DisableExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, link := range r.links {
		if !link.Disabled && !link.Expiry.After(cutoff) {
			link.TimesUsed++
			link.Disabled = true
			n++
		}
	}
	return n, nil
}

func (r *MagicLinkMemoryRepository) DeleteDisabled(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, link := range r.links {
		if link.Disabled {
			delete(r.byToken, link.Token)
			delete(r.links, id)
			n++
		}
	}
	return n, nil
}
