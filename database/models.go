package database

import (
	"strings"
	"time"
)

// Source records where an address was first (or last) submitted from.
type Source string

const (
	SourceSpreadsheet Source = "spreadsheet"
	SourceManual      Source = "manual"

	legacySpreadsheetSource Source = "excel"
)

// ParseSource accepts the stored names plus the legacy "excel" alias.
func ParseSource(s string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(SourceSpreadsheet), string(legacySpreadsheetSource):
		return SourceSpreadsheet, true
	case "manual":
		return SourceManual, true
	}
	return "", false
}

// Status is the outcome of a single delivery attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// SourcePolicy decides what happens to an existing record's source on re-submission.
type SourcePolicy string

const (
	SourceOverwrite SourcePolicy = "overwrite"
	SourceFirstSeen SourcePolicy = "first_seen"
)

// AddressRecord represents a row in the email_addresses table
type AddressRecord struct {
	ID         string     `json:"id" db:"id" bson:"_id"`
	Email      string     `json:"email" db:"email" bson:"email"`
	Source     Source     `json:"source" db:"source" bson:"source"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at" bson:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsed" db:"last_used_at" bson:"lastUsed"`
}

// DeliveryRecord represents a row in the email_logs table
type DeliveryRecord struct {
	ID             string    `json:"id" db:"id" bson:"_id"`
	Email          string    `json:"email" db:"email" bson:"email"`
	Subject        string    `json:"subject" db:"subject" bson:"subject"`
	Body           string    `json:"body" db:"body" bson:"body"`
	Status         Status    `json:"status" db:"status" bson:"status"`
	ErrorMessage   *string   `json:"error" db:"error_message" bson:"error"`
	HasAttachment  bool      `json:"hasAttachment" db:"has_attachment" bson:"hasAttachment"`
	AttachmentName *string   `json:"attachmentName" db:"attachment_name" bson:"attachmentName"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// NormalizeEmail is the directory key for an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
