package models

import (
	"time"
)

// Profile is the locally cached copy of the signed-in user, so story
// ownership survives a reload while the auth session is unreachable.
type Profile struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Name      string    `json:"name"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

func (p *Profile) Key() string { return p.ID }
