// Package store is the durable local cache for offline-capable entities:
// stories, story segments and the operation queue. It owns the on-device
// copies; all access is by id through these accessors.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taleforge/offline-cache/models"
)

// Store wraps the local database. Exactly one logical writer (the current
// session) is assumed; there is no cross-process coordination.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// Transaction runs fn atomically against the same store.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, log: s.log})
	})
}

// Add inserts a new record, failing with ErrDuplicateKey if the id is
// already present in that table.
func Add[T models.Keyed](ctx context.Context, s *Store, item T) error {
	err := s.db.WithContext(ctx).Create(item).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, item.Key())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Upsert writes the record whether or not the id pre-existed.
func Upsert[T models.Keyed](ctx context.Context, s *Store, item T) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(item).Error
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// UpdateExisting overwrites a record that must already exist, failing with
// ErrNotFound otherwise. Callers that want create-or-replace use Upsert.
func UpdateExisting[T models.Keyed](ctx context.Context, s *Store, item T) error {
	res := s.db.WithContext(ctx).
		Model(item).
		Where("id = ?", item.Key()).
		Select("*").
		Updates(item)
	if res.Error != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, item.Key())
	}
	return nil
}

// Get returns the record for id, or (nil, nil) when it does not exist.
func Get[T any](ctx context.Context, s *Store, id string) (*T, error) {
	var out T
	err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return &out, nil
}

// Delete removes the record by id. Deleting a missing id is not an error.
func Delete[T any](ctx context.Context, s *Store, id string) error {
	if err := s.db.WithContext(ctx).Delete(new(T), "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// All returns every record in the table, in no particular order.
func All[T any](ctx context.Context, s *Store) ([]T, error) {
	var items []T
	if err := s.db.WithContext(ctx).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return items, nil
}

// FindBy returns all records whose indexed column equals value.
func FindBy[T any](ctx context.Context, s *Store, column string, value interface{}) ([]T, error) {
	var items []T
	err := s.db.WithContext(ctx).
		Where(map[string]interface{}{column: value}).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return items, nil
}

// Clear removes every record in the table. Only the cache-clearing
// tooling uses it.
func Clear[T any](ctx context.Context, s *Store) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(new(T)).Error
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}
