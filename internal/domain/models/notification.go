// internal/domain/models/notification.go
package models

import "time"

// Notification is an email waiting in the delivery queue. The dedup marker
// for it has already been written by the time it is enqueued.
type Notification struct {
	ID            string    `bson:"_id" json:"id"`
	Kind          string    `bson:"kind" json:"kind"`
	Subject       string    `bson:"subject_key" json:"subject_key"`
	To            string    `bson:"to" json:"to"`
	MailSubject   string    `bson:"mail_subject" json:"mail_subject"`
	TextBody      string    `bson:"text_body" json:"text_body"`
	HTMLBody      string    `bson:"html_body" json:"html_body"`
	Status        string    `bson:"status" json:"status"` // pending | sending | done | failed
	Attempts      int       `bson:"attempts" json:"attempts"`
	MaxAttempts   int       `bson:"max_attempts" json:"max_attempts"`
	NextAttemptAt time.Time `bson:"next_attempt_at" json:"next_attempt_at"`
	LastError     string    `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// NotificationMarker records that a notification for (Kind, Subject) was
// handed off. It is written once and never cleared.
type NotificationMarker struct {
	ID        string    `bson:"_id" json:"id"` // "<kind>:<subject>"
	Kind      string    `bson:"kind" json:"kind"`
	Subject   string    `bson:"subject" json:"subject"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
