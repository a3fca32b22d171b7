package domain

import "time"

type TokenScope string

const (
	ScopeView TokenScope = "view"
	ScopeSign TokenScope = "sign"
)

// SigningToken is a link credential. At most one unused, unrevoked sign token
// may exist per (document, recipient); storage enforces it.
type SigningToken struct {
	ID         string     `json:"id"`
	Token      string     `json:"token"`
	DocumentID string     `json:"document_id"`
	Scope      TokenScope `json:"scope"`
	Recipient  string     `json:"recipient,omitempty"`
	Used       bool       `json:"used"`
	Revoked    bool       `json:"revoked"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Active reports whether the token still counts against the single live sign
// link constraint.
func (t SigningToken) Active() bool {
	return t.Scope == ScopeSign && !t.Used && !t.Revoked
}

// Validity reasons, highest priority first.
const (
	ReasonRevoked  = "revoked"
	ReasonExpired  = "expired"
	ReasonUsed     = "already used"
	ReasonNotFound = "not found"
)

// InvalidReason returns why the token cannot be used at now, or "" if it can.
func (t SigningToken) InvalidReason(now time.Time) string {
	if t.Revoked {
		return ReasonRevoked
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return ReasonExpired
	}
	if t.Scope == ScopeSign && t.Used {
		return ReasonUsed
	}
	return ""
}
