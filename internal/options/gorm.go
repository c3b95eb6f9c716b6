package options

import (
	"context"
	"errors"
	"fmt"

	"feedsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps options in the options table.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	var opt models.Option
	err := s.db.WithContext(ctx).First(&opt, "option_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read option %s: %w", key, err)
	}
	return opt.Value, true, nil
}

func (s *GormStore) CreateIfAbsent(ctx context.Context, key, value string) (string, error) {
	if value == "" {
		return "", ErrEmptyValue
	}

	opt := models.Option{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&opt).Error
	if err != nil {
		return "", fmt.Errorf("failed to create option %s: %w", key, err)
	}

	stored, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("option %s vanished after insert", key)
	}
	return stored, nil
}
