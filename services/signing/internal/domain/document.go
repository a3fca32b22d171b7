// Package domain holds the signing engine's entities and error taxonomy.
package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

type DocumentStatus string

const (
	DocumentDraft           DocumentStatus = "draft"
	DocumentLocked          DocumentStatus = "locked"
	DocumentPartiallySigned DocumentStatus = "partially_signed"
	DocumentCompleted       DocumentStatus = "completed"
)

type Document struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Status DocumentStatus `json:"status"`
	// FileKey locates the source PDF in blob storage.
	FileKey string `json:"file_key"`
	// SignedFileKey and SignedFileSHA256 are set once, when the flattened
	// artifact is produced.
	SignedFileKey    string    `json:"signed_file_key,omitempty"`
	SignedFileSHA256 string    `json:"signed_file_sha256,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (d Document) IsDraft() bool { return d.Status == DocumentDraft }

func (d Document) HasSignedArtifact() bool { return d.SignedFileKey != "" }

type FieldType string

const (
	FieldText      FieldType = "text"
	FieldSignature FieldType = "signature"
	FieldDate      FieldType = "date"
	FieldCheckbox  FieldType = "checkbox"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldSignature, FieldDate, FieldCheckbox:
		return true
	}
	return false
}

// Field is one fillable box on a document page. Position and size are
// fractions of the page in [0,1]. Locked only ever moves false to true.
type Field struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Type       FieldType `json:"type"`
	Recipient  string    `json:"recipient"`
	Page       int       `json:"page"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	Required   bool      `json:"required"`
	Value      *string   `json:"value"`
	Locked     bool      `json:"locked"`
}

// Blocking reports whether the field still prevents its recipient from
// completing.
func (f Field) Blocking() bool { return f.Required && !f.Locked }

// FieldValue is one entry of a signing submission. NoValue is set when a
// decoded entry had no value key or a null one.
type FieldValue struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
	NoValue bool   `json:"-"`
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		FieldID string  `json:"field_id"`
		Value   *string `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FieldValue{FieldID: raw.FieldID, NoValue: raw.Value == nil}
	if raw.Value != nil {
		v.Value = *raw.Value
	}
	return nil
}
