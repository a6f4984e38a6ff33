package repository

import (
	"context"

	"github.com/raines/forensiq/internal/domain"
	"gorm.io/gorm"
)

// ThemeRepository reads keyword themes and their patterns.
type ThemeRepository struct {
	db *gorm.DB
}

// NewThemeRepository creates a new ThemeRepository.
func NewThemeRepository(db *gorm.DB) *ThemeRepository {
	return &ThemeRepository{db: db}
}

// ListEnabled retrieves every enabled theme with keywords preloaded, in
// stable name order.
func (r *ThemeRepository) ListEnabled(ctx context.Context) ([]domain.Theme, error) {
	var themes []domain.Theme
	if err := r.db.WithContext(ctx).
		Preload("Keywords").
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&themes).Error; err != nil {
		return nil, err
	}
	return themes, nil
}

// NamesByIDs maps theme IDs to names, for narrowing a scan response to a
// requested theme set.
func (r *ThemeRepository) NamesByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var names []string
	if err := r.db.WithContext(ctx).Model(&domain.Theme{}).
		Where("id IN ?", ids).
		Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}
