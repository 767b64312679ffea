package models

import (
	"time"
)

// Story is the local copy of a story. The id is shared with the remote
// backend so replays of the same record stay idempotent.
type Story struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"index"`
	Title       string    `json:"title"`
	Description string    `json:"description" gorm:"type:text"`
	StoryMode   string    `json:"story_mode"`
	TargetAge   string    `json:"target_age"`
	IsCompleted bool      `json:"is_completed" gorm:"index"`
	IsSynced    bool      `json:"is_synced" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"index"`
}

func (Story) TableName() string { return "stories" }

func (s *Story) Key() string { return s.ID }

// Touch refreshes updated_at; every local mutation must go through it.
func (s *Story) Touch() { s.UpdatedAt = time.Now().UTC() }
