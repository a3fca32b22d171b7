// Package blobs stores document source files and flattened signed artifacts.
package blobs

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("blob not found")

const ContentTypePDF = "application/pdf"

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// SourceKey is where the uploaded file of a document lives.
func SourceKey(documentID string) string {
	return fmt.Sprintf("documents/%s/source.pdf", documentID)
}

// SignedKey is where the flattened artifact of a completed document lives.
func SignedKey(documentID string) string {
	return fmt.Sprintf("documents/%s/signed.pdf", documentID)
}
