package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeTokenInvalid            Code = "TOKEN_INVALID"
	CodeNotASignLink            Code = "NOT_A_SIGN_LINK"
	CodeMalformedPayload        Code = "MALFORMED_PAYLOAD"
	CodeFieldOwnershipViolation Code = "FIELD_OWNERSHIP_VIOLATION"
	CodeMissingRequiredFields   Code = "MISSING_REQUIRED_FIELDS"
	CodeRecipientRequired       Code = "RECIPIENT_REQUIRED"
	CodeRecipientHasNoFields    Code = "RECIPIENT_HAS_NO_FIELDS"
	CodeDocumentNotReady        Code = "DOCUMENT_NOT_READY"
	CodeAlreadyCompleted        Code = "ALREADY_COMPLETED"
	CodeDuplicateActiveToken    Code = "DUPLICATE_ACTIVE_TOKEN"
	CodeGroupNotReady           Code = "GROUP_NOT_READY"
	CodeSessionClosed           Code = "SESSION_CLOSED"
	CodeNotFound                Code = "NOT_FOUND"
	CodeNotRedeliverable        Code = "NOT_REDELIVERABLE"
)

// Error is a caller-facing failure. Two errors match under errors.Is when
// their codes match.
type Error struct {
	Code    Code
	Message string
	// Reason qualifies TOKEN_INVALID (revoked, expired, already used).
	Reason string
	// Fields lists offending field ids for payload errors.
	Fields []string
	// Conflict marks a lost race against a concurrent request, as opposed
	// to a request that was never valid.
	Conflict bool
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(e.Fields) > 0 {
		msg += " [" + strings.Join(e.Fields, ",") + "]"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrTokenInvalid            = &Error{Code: CodeTokenInvalid, Message: "token is not valid"}
	ErrNotASignLink            = &Error{Code: CodeNotASignLink, Message: "token does not authorize signing"}
	ErrMalformedPayload        = &Error{Code: CodeMalformedPayload, Message: "malformed signing payload"}
	ErrFieldOwnershipViolation = &Error{Code: CodeFieldOwnershipViolation, Message: "fields are not signable with this link"}
	ErrMissingRequiredFields   = &Error{Code: CodeMissingRequiredFields, Message: "required fields are missing"}
	ErrRecipientRequired       = &Error{Code: CodeRecipientRequired, Message: "recipient is required for sign links"}
	ErrRecipientHasNoFields    = &Error{Code: CodeRecipientHasNoFields, Message: "recipient has no fields on this document"}
	ErrDocumentNotReady        = &Error{Code: CodeDocumentNotReady, Message: "document is still a draft"}
	ErrAlreadyCompleted        = &Error{Code: CodeAlreadyCompleted, Message: "recipient has already completed this document"}
	ErrDuplicateActiveToken    = &Error{Code: CodeDuplicateActiveToken, Message: "an active sign link already exists for this recipient"}
	ErrGroupNotReady           = &Error{Code: CodeGroupNotReady, Message: "group contains draft documents"}
	ErrSessionClosed           = &Error{Code: CodeSessionClosed, Message: "group session is closed"}
	ErrNotFound                = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNotRedeliverable        = &Error{Code: CodeNotRedeliverable, Message: "only failed webhook events can be redelivered"}
)

func TokenInvalid(reason string) *Error {
	return &Error{Code: CodeTokenInvalid, Message: ErrTokenInvalid.Message, Reason: reason}
}

// TokenRaceLost is TOKEN_INVALID for a token that was valid when the request
// started but was consumed by a concurrent request first.
func TokenRaceLost() *Error {
	return &Error{Code: CodeTokenInvalid, Message: ErrTokenInvalid.Message, Reason: ReasonUsed, Conflict: true}
}

func Malformed(reason string) *Error {
	return &Error{Code: CodeMalformedPayload, Message: ErrMalformedPayload.Message, Reason: reason}
}

func OwnershipViolation(fieldIDs []string) *Error {
	return &Error{Code: CodeFieldOwnershipViolation, Message: ErrFieldOwnershipViolation.Message, Fields: fieldIDs}
}

func MissingRequiredFields(fieldIDs []string) *Error {
	return &Error{Code: CodeMissingRequiredFields, Message: ErrMissingRequiredFields.Message, Fields: fieldIDs}
}

func DuplicateActiveToken(conflict bool) *Error {
	return &Error{Code: CodeDuplicateActiveToken, Message: ErrDuplicateActiveToken.Message, Conflict: conflict}
}

func NotFound(kind, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

func SessionClosed(status SessionStatus) *Error {
	return &Error{Code: CodeSessionClosed, Message: ErrSessionClosed.Message, Reason: string(status)}
}

// CodeOf extracts the code of a domain error, or "" for anything else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func (c Code) String() string { return string(c) }
