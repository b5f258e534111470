// Package core holds the billing service's application logic: tracked
// imports, customer maintenance and reports, plus the mapping from errors
// to messages shown to API clients.
//
// # Error codes
//
// Every user-facing error carries a code that support staff can look up:
//
//	CUS001  Customer not found
//	CUS002  Missing required customer fields
//	CUS003  Customer still has transactions
//	DB001   Duplicate identification number, email or invoice
//	DB002   Value rejected by the database
//	DB004   Database unreachable
//	DB006   Operation timed out
//	PLT001  Unknown payment platform
//	FILE001 File too large
//	FILE002 File is not a billing CSV
//	FILE004 No file provided
//	FILE005 Empty file
//	FILE006 File is not a CSV
//	IMP001  Import cancelled
//	IMP002  Too many imports in progress
//	IMP003  Import not found or expired
//	IMP004  Import rolled back
//	REQ001  Malformed request
//	RATE001 Rate limited
//	ERR000  Anything else; the log has the technical error
//
// Sentinel errors are matched first with errors.Is. Errors that only carry
// text, such as driver connection failures, are matched on substrings.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/ingest"
)

// ErrFileTooLarge, ErrNotCSV and ErrNoFile describe rejected uploads.
var (
	ErrFileTooLarge = errors.New("file too large")
	ErrNotCSV       = errors.New("only CSV files are accepted")
	ErrNoFile       = errors.New("no file provided")
)

// UserMessage is what a client sees for an error.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// Order matters: import errors wrap storage errors, so the import-level
// sentinels come first.
var sentinelMessages = []sentinelMessage{
	{ErrImportNotFound, UserMessage{"Import not found", "The import may have expired. Start a new upload", "IMP003"}},
	{ErrTooManyImports, UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP002"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum upload size", "Split the file into smaller chunks", "FILE001"}},
	{ErrNotCSV, UserMessage{"Only CSV files are accepted", "Export the sheet as .csv and upload it again", "FILE006"}},
	{ErrNoFile, UserMessage{"No file was provided", "Attach the CSV in the csvFile field", "FILE004"}},
	{ErrUnknownPlatform, UserMessage{"Unknown payment platform", "Use one of the platforms listed at /api/queries/platforms", "PLT001"}},
	{ErrBadRequest, UserMessage{"The request could not be read", "Check the request body and parameters", "REQ001"}},
	{ingest.ErrBackendUnavailable, UserMessage{"The database is unavailable", "Please try again in a few moments", "DB004"}},
	{ingest.ErrInvalidInput, UserMessage{"File is not a valid billing CSV", "Check that the header names the identification, invoice and platform columns", "FILE002"}},
	{billing.ErrDuplicateKey, UserMessage{"A record with this identification number, email or invoice already exists", "Use a different value or edit the existing record", "DB001"}},
	{billing.ErrReferenced, UserMessage{"Customer still has transactions", "Transactions must be removed before the customer", "CUS003"}},
	{billing.ErrInvalidValue, UserMessage{"A value was rejected by the database", "Check lengths and amounts", "DB002"}},
	{billing.ErrNotFound, UserMessage{"Customer not found", "Check the customer ID", "CUS001"}},
	{context.Canceled, UserMessage{"The import was cancelled", "Start a new upload when ready", "IMP001"}},
	{context.DeadlineExceeded, UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns match lowercased error text. The first match wins.
var errorPatterns = []errorPattern{
	{"file is empty", UserMessage{"The uploaded file is empty", "Upload a CSV with a header and data rows", "FILE005"}},
	{"connection refused", UserMessage{"The database is unavailable", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is ERR000. Support staff should check the logs for the
// technical error when a user reports it.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

var rolledBackMessage = UserMessage{
	Message: "The import was rolled back and nothing was stored",
	Action:  "Fix the listed row and upload the file again",
	Code:    "IMP004",
}

// MapError converts err to the message shown to clients.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var missing *billing.MissingFieldsError
	if errors.As(err, &missing) {
		return UserMessage{
			Message: "Missing required fields: " + strings.Join(missing.Fields, ", "),
			Action:  "Fill in every required field",
			Code:    "CUS002",
		}
	}

	// Empty files surface as ErrInvalidInput; give them their own code.
	if strings.Contains(strings.ToLower(err.Error()), "file is empty") {
		return errorPatterns[0].msg
	}

	var rowErr *ingest.RowError
	if errors.As(err, &rowErr) {
		msg := rolledBackMessage
		msg.Message = fmt.Sprintf("%s: line %d, %s", msg.Message, rowErr.Line, rowErr.Kind)
		return msg
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. It returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
