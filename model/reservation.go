package model

import (
	"time"
)

// Status is the lifecycle state of an imported reservation request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// CanTransition reports whether a status change is a defined transition.
// Confirmed is terminal except that a rejection can be undone into it.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusRejected
	case StatusRejected:
		return to == StatusConfirmed
	default:
		return false
	}
}

// ReservationEmail is one imported reservation request. The mailbox UID is
// the primary key: it is assigned by the mailbox, monotonically increasing,
// and never reused, which makes it the natural dedup key.
type ReservationEmail struct {
	UID             uint32    `gorm:"primaryKey;autoIncrement:false;column:uid" json:"uid"`
	FirstName       string    `gorm:"type:varchar(255);not null" json:"first_name"`
	LastName        string    `gorm:"type:varchar(255);not null" json:"last_name"`
	Phone           string    `gorm:"type:varchar(64);not null" json:"phone"`
	Email           string    `gorm:"type:varchar(255);not null" json:"email"`
	ReservationDate string    `gorm:"type:date;not null;index" json:"reservation_date"`
	ReservationTime string    `gorm:"type:varchar(5);not null" json:"reservation_time"`
	Guests          int       `gorm:"not null" json:"guests"`
	SpecialRequests string    `gorm:"type:text" json:"special_requests"`
	ReceivedAt      time.Time `gorm:"not null" json:"received_at"`
	Status          Status    `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReservationEmail) TableName() string {
	return "reservation_emails"
}
