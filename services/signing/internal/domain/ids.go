package domain

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// ID prefixes per entity.
const (
	PrefixDocument     = "doc_"
	PrefixField        = "fld_"
	PrefixToken        = "tok_"
	PrefixEvent        = "sev_"
	PrefixWebhook      = "whk_"
	PrefixWebhookEvent = "wev_"
	PrefixGroup        = "grp_"
	PrefixSession      = "gss_"
)

func NewID(prefix string) string { return prefix + uuid.NewString() }

// NewLinkToken returns an unguessable URL-safe link credential.
func NewLinkToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
