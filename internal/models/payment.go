package models

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentVerified PaymentStatus = "VERIFIED"
	PaymentRejected PaymentStatus = "REJECTED"
)

// Payment is a manual transfer submitted for a batch and reviewed by an admin.
type Payment struct {
	Base
	UserID        string        `json:"user_id"        gorm:"type:char(36);index;not null"`
	BatchID       string        `json:"batch_id"       gorm:"type:char(36);index;not null"`
	SenderNumber  string        `json:"sender_number"  gorm:"not null"`
	TransactionID string        `json:"transaction_id" gorm:"uniqueIndex;not null"`
	Method        string        `json:"method"         gorm:"not null"`
	Amount        int           `json:"amount"         gorm:"not null"`
	Status        PaymentStatus `json:"status"         gorm:"type:varchar(16);not null;default:PENDING;index"`
	Reason        string        `json:"reason,omitempty"`
	User          *User         `json:"user,omitempty"  gorm:"foreignKey:UserID"`
	Batch         *Batch        `json:"batch,omitempty" gorm:"foreignKey:BatchID"`
}

func (Payment) TableName() string { return "payments" }
