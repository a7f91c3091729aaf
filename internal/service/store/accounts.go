package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ifuryst/cascade/internal/models"
)

type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// GetDefaultAccount returns nil without error when the user has no default.
func (s *AccountStore) GetDefaultAccount(ctx context.Context, userID uint) (*models.RemoteAccount, error) {
	var account models.RemoteAccount
	err := s.db.WithContext(ctx).Where("user_id = ? AND is_default = ?", userID, true).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default account for user %d: %w", userID, err)
	}
	return &account, nil
}

func (s *AccountStore) GetAccount(ctx context.Context, userID, id uint) (*models.RemoteAccount, error) {
	var account models.RemoteAccount
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return &account, nil
}

// CreateAccount stores a new account. The user's first account becomes the
// default, and a new default demotes the previous one.
func (s *AccountStore) CreateAccount(ctx context.Context, account *models.RemoteAccount) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.RemoteAccount{}).Where("user_id = ?", account.UserID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count accounts: %w", err)
		}
		if count == 0 {
			account.IsDefault = true
		}
		if account.IsDefault {
			if err := clearDefault(tx, account.UserID); err != nil {
				return err
			}
		}
		if err := tx.Create(account).Error; err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		return nil
	})
}

func (s *AccountStore) SetDefault(ctx context.Context, userID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearDefault(tx, userID); err != nil {
			return err
		}
		result := tx.Model(&models.RemoteAccount{}).
			Where("id = ? AND user_id = ?", id, userID).
			Update("is_default", true)
		if result.Error != nil {
			return fmt.Errorf("failed to set default account: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func clearDefault(tx *gorm.DB, userID uint) error {
	if err := tx.Model(&models.RemoteAccount{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error; err != nil {
		return fmt.Errorf("failed to clear default account: %w", err)
	}
	return nil
}
