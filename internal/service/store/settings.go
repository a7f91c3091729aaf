package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/cascade/internal/models"
)

type SettingStore struct {
	db *gorm.DB
}

func NewSettingStore(db *gorm.DB) *SettingStore {
	return &SettingStore{db: db}
}

// GetInt returns the stored integer for key, or fallback when unset.
func (s *SettingStore) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	var setting models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to read setting %s: %w", key, err)
	}

	value, err := strconv.Atoi(setting.Value)
	if err != nil {
		return fallback, fmt.Errorf("setting %s is not an integer: %w", key, err)
	}
	return value, nil
}

func (s *SettingStore) SetInt(ctx context.Context, key string, value int) error {
	setting := models.SystemSetting{Key: key, Value: strconv.Itoa(value)}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}
