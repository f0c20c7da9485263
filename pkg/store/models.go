package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID             string    `gorm:"primaryKey"`
	Email          string    `gorm:"uniqueIndex;not null"`
	PasswordHash   string    `gorm:"not null"`
	Name           string    `gorm:"not null;default:''"`
	IsPremium      bool      `gorm:"not null;default:false"`
	ProfilePicture string    `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
}

func (UserModel) TableName() string { return "users" }

type JournalEntryModel struct {
	ID           string    `gorm:"primaryKey"`
	UserID       string    `gorm:"not null;index"`
	Date         time.Time `gorm:"not null;index"`
	Content      string    `gorm:"type:text;not null"`
	AnalysisJSON *string   `gorm:"column:analysis_json;type:text"`
}

func (JournalEntryModel) TableName() string { return "journal_entry" }

type PaymentModel struct {
	Reference string    `gorm:"primaryKey"`
	Email     string    `gorm:"not null;index"`
	Amount    string    `gorm:"not null;default:''"`
	Currency  string    `gorm:"not null;default:''"`
	Status    string    `gorm:"not null"`
	UserID    *string   `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (PaymentModel) TableName() string { return "payments" }

type PaymentEventModel struct {
	ID         string         `gorm:"primaryKey"`
	InvoiceID  string         `gorm:"index"`
	State      string         `gorm:"not null;default:''"`
	APIRef     string         `gorm:"column:api_ref;index"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt time.Time      `gorm:"not null;index"`
}

func (PaymentEventModel) TableName() string { return "payment_events" }
