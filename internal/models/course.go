package models

import "time"

type Course struct {
	Base
	Title       string  `json:"title"       gorm:"not null"`
	Slug        string  `json:"slug"        gorm:"uniqueIndex;not null"`
	Description string  `json:"description" gorm:"type:longtext"`
	Price       int     `json:"price"       gorm:"not null"`
	IsActive    bool    `json:"is_active"   gorm:"not null;default:true;index"`
	Batches     []Batch `json:"batches,omitempty" gorm:"foreignKey:CourseID"`
}

func (Course) TableName() string { return "courses" }

// BatchStatus moves UPCOMING -> ACTIVE -> CLOSED.
type BatchStatus string

const (
	BatchUpcoming BatchStatus = "UPCOMING"
	BatchActive   BatchStatus = "ACTIVE"
	BatchClosed   BatchStatus = "CLOSED"
)

// Batch is one enrollment cohort of a course.
type Batch struct {
	Base
	CourseID        string      `json:"course_id"        gorm:"type:char(36);index;not null"`
	Name            string      `json:"name"             gorm:"not null"`
	EnrollmentOpen  time.Time   `json:"enrollment_open"  gorm:"not null"`
	EnrollmentClose time.Time   `json:"enrollment_close" gorm:"not null"`
	Status          BatchStatus `json:"status"           gorm:"type:varchar(16);not null;index"`
	Course          *Course     `json:"course,omitempty" gorm:"foreignKey:CourseID"`
}

func (Batch) TableName() string { return "batches" }

type Enrollment struct {
	Base
	UserID  string `json:"user_id"  gorm:"type:char(36);uniqueIndex:idx_enrollment_user_batch;not null"`
	BatchID string `json:"batch_id" gorm:"type:char(36);uniqueIndex:idx_enrollment_user_batch;not null"`
	Batch   *Batch `json:"batch,omitempty" gorm:"foreignKey:BatchID"`
}

func (Enrollment) TableName() string { return "enrollments" }
