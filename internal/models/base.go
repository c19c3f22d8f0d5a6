package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is embedded by every persisted entity.
type Base struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// All lists every model handled by auto-migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&UserRole{},
		&EmailVerificationCode{},
		&Profile{},
		&Wallet{},
		&Course{},
		&Batch{},
		&Enrollment{},
		&Class{},
		&Payment{},
	}
}
