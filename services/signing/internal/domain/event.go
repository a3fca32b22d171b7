package domain

import "time"

// SignatureEvent is the immutable audit record of one successful submission.
// EventHash is written exactly once, right after the row is created.
type SignatureEvent struct {
	ID             string       `json:"id"`
	DocumentID     string       `json:"document_id"`
	TokenID        *string      `json:"token_id"`
	Recipient      string       `json:"recipient"`
	SignerName     string       `json:"signer_name"`
	SignedAt       time.Time    `json:"signed_at"`
	IPAddress      string       `json:"ip_address"`
	UserAgent      string       `json:"user_agent"`
	DocumentSHA256 string       `json:"document_sha256"`
	FieldValues    []FieldValue `json:"field_values"`
	EventHash      string       `json:"event_hash"`
}
