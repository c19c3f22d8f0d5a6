package models

import "time"

// Class is one scheduled live session of a batch.
type Class struct {
	Base
	BatchID     string    `json:"batch_id"     gorm:"type:char(36);index;not null"`
	Title       string    `json:"title"        gorm:"not null"`
	StartsAt    time.Time `json:"starts_at"    gorm:"not null;index"`
	EndsAt      time.Time `json:"ends_at"      gorm:"not null"`
	MeetingLink string    `json:"meeting_link"`
	Batch       *Batch    `json:"batch,omitempty" gorm:"foreignKey:BatchID"`
}

func (Class) TableName() string { return "classes" }
