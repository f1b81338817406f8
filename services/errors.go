package services

import "errors"

// InputError rejects a request before any send: missing fields or no recipients.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

// FormatError rejects a spreadsheet that cannot be used as a recipient list.
type FormatError struct {
	Message string
	Err     error
}

func (e *FormatError) Error() string { return e.Message }

func (e *FormatError) Unwrap() error { return e.Err }

// ErrDailyLimitExceeded is returned when a batch would exceed the daily mail limit.
var ErrDailyLimitExceeded = errors.New("daily mail limit exceeded")

const (
	msgNoEmailsProvided = "No emails provided. Please enter emails or upload an Excel file."
	msgNoValidEmails    = "No valid email addresses found."
	msgMissingFields    = "Fields 'subject' and 'body' are required."
	msgMissingColumn    = `Invalid Excel format. The first row must contain an "Email" column.`
	msgUnreadableSheet  = "Could not process the Excel file. Please check the format."
	msgInvalidFormat    = "Invalid email format"
)
