// Package recipients derives per-recipient progress and document status from
// field state. Every function is pure over its inputs.
package recipients

import (
	"sort"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
)

type Status struct {
	TotalRequired  int  `json:"total_required"`
	SignedRequired int  `json:"signed_required"`
	Completed      bool `json:"completed"`
}

// Recipients returns the distinct non-empty recipients of fields, sorted.
func Recipients(fields []domain.Field) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		if f.Recipient == "" || seen[f.Recipient] {
			continue
		}
		seen[f.Recipient] = true
		out = append(out, f.Recipient)
	}
	sort.Strings(out)
	return out
}

// StatusOf reports progress for every recipient. A recipient without required
// fields is complete.
func StatusOf(fields []domain.Field) map[string]Status {
	out := map[string]Status{}
	for _, f := range fields {
		if f.Recipient == "" {
			continue
		}
		st := out[f.Recipient]
		if f.Required {
			st.TotalRequired++
			if f.Locked {
				st.SignedRequired++
			}
		}
		out[f.Recipient] = st
	}
	for r, st := range out {
		st.Completed = st.SignedRequired == st.TotalRequired
		out[r] = st
	}
	return out
}

// FieldsFor returns the fields assigned to recipient, in input order.
func FieldsFor(fields []domain.Field, recipient string) []domain.Field {
	var out []domain.Field
	for _, f := range fields {
		if f.Recipient == recipient {
			out = append(out, f)
		}
	}
	return out
}

// NextDocumentStatus computes the status a document moves to after a
// signature commit. Draft and completed documents never move.
func NextDocumentStatus(current domain.DocumentStatus, fields []domain.Field) domain.DocumentStatus {
	if current == domain.DocumentDraft || current == domain.DocumentCompleted {
		return current
	}
	status := StatusOf(fields)
	if len(status) == 0 {
		return domain.DocumentCompleted
	}
	all := true
	for _, st := range status {
		if !st.Completed {
			all = false
			break
		}
	}
	if all {
		return domain.DocumentCompleted
	}
	for _, f := range fields {
		if f.Recipient != "" && f.Locked {
			return domain.DocumentPartiallySigned
		}
	}
	return domain.DocumentLocked
}

// CanIssueSignLink checks everything about issuing a sign link except the
// single active link rule, which storage enforces.
func CanIssueSignLink(doc domain.Document, fields []domain.Field, recipient string) error {
	if doc.IsDraft() {
		return domain.ErrDocumentNotReady
	}
	if recipient == "" {
		return domain.ErrRecipientRequired
	}
	st, ok := StatusOf(fields)[recipient]
	if !ok {
		return domain.ErrRecipientHasNoFields
	}
	if st.Completed {
		return domain.ErrAlreadyCompleted
	}
	return nil
}

func CanIssueViewLink(doc domain.Document) error {
	if doc.IsDraft() {
		return domain.ErrDocumentNotReady
	}
	return nil
}
