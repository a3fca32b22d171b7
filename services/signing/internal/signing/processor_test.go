package signing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/audit"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/blobs"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/render"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store/memory"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/tokens"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/webhooks"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	last   map[string]map[string]any
}

func (r *recorder) Trigger(ctx context.Context, eventType string, payload map[string]any) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	if r.last == nil {
		r.last = map[string]map[string]any{}
	}
	r.last[eventType] = payload
	return nil, nil
}

type harness struct {
	store    *memory.Store
	blobs    *blobs.Memory
	tokens   *tokens.Manager
	proc     *Processor
	chain    *audit.Chain
	notifier *recorder
	renders  int
	fail     bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), blobs: blobs.NewMemory(), notifier: &recorder{}}
	h.chain = audit.New(h.blobs, h.store, zap.NewNop())
	h.tokens = tokens.New(h.store, zap.NewNop())
	renderer := render.Func(func(ctx context.Context, doc domain.Document, fields []domain.Field) ([]byte, error) {
		h.renders++
		if h.fail {
			return nil, render.ErrRenderFailure
		}
		return []byte("%PDF signed " + doc.ID), nil
	})
	h.proc = New(h.store, h.chain, h.blobs, renderer, h.notifier, zap.NewNop())
	return h
}

// seed creates a locked document with the given required fields per
// recipient.
func (h *harness) seed(t *testing.T, docID string, fields map[string][]string) {
	t.Helper()
	ctx := context.Background()
	doc := domain.Document{ID: docID, Title: "Agreement", Status: domain.DocumentLocked, FileKey: blobs.SourceKey(docID)}
	require.NoError(t, h.blobs.Put(ctx, doc.FileKey, []byte("%PDF source "+docID), blobs.ContentTypePDF))
	require.NoError(t, h.store.CreateDocument(ctx, doc))
	for recipient, ids := range fields {
		for _, id := range ids {
			require.NoError(t, h.store.CreateField(ctx, domain.Field{
				ID: id, DocumentID: docID, Type: domain.FieldSignature, Recipient: recipient,
				Page: 1, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, Required: true,
			}))
		}
	}
}

func (h *harness) signLink(t *testing.T, docID, recipient string) domain.SigningToken {
	t.Helper()
	tok, err := h.tokens.IssueSignLink(context.Background(), docID, recipient, 0)
	require.NoError(t, err)
	return tok
}

func TestSingleRecipientDocumentCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dispatcher := webhooks.New(h.store, webhooks.Config{}, zap.NewNop())
	h.proc.notifier = dispatcher
	require.NoError(t, h.store.CreateWebhook(ctx, domain.Webhook{ID: "whk_1", URL: "http://127.0.0.1:1", Secret: "s", Events: []string{domain.EventCompleted}, Active: true}))

	h.seed(t, "doc_1", map[string][]string{"Alice": {"fld_a1", "fld_a2"}})
	tok := h.signLink(t, "doc_1", "Alice")
	_, err := h.tokens.IssueSignLink(ctx, "doc_1", "Bob", 0)
	require.ErrorIs(t, err, domain.ErrRecipientHasNoFields)

	res, err := h.proc.Submit(ctx, Request{
		Token:      tok.Token,
		SignerName: "Alice Example",
		FieldValues: []domain.FieldValue{
			{FieldID: "fld_a2", Value: "v2"},
			{FieldID: "fld_a1", Value: "v1"},
		},
		IPAddress: "203.0.113.7",
		UserAgent: "test",
	})
	require.NoError(t, err)
	require.Equal(t, domain.DocumentCompleted, res.Status)
	require.True(t, res.RecipientStatus.Completed)
	require.Equal(t, 2, res.RecipientStatus.SignedRequired)

	doc, err := h.store.GetDocument(ctx, "doc_1")
	require.NoError(t, err)
	require.Equal(t, domain.DocumentCompleted, doc.Status)
	require.Equal(t, blobs.SignedKey("doc_1"), doc.SignedFileKey)
	require.Equal(t, audit.ArtifactHash([]byte("%PDF signed doc_1")), doc.SignedFileSHA256)

	ids, err := h.store.ListDueWebhookEvents(ctx, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	ev, err := h.store.GetWebhookEvent(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, domain.EventCompleted, ev.EventType)
	require.Equal(t, "doc_1", ev.Payload["document_id"])

	rep, err := h.chain.VerifyDocument(ctx, "doc_1")
	require.NoError(t, err)
	require.True(t, rep.OverallValid)
	require.Len(t, rep.Events, 1)

	stored, err := h.store.GetToken(ctx, tok.Token)
	require.NoError(t, err)
	require.True(t, stored.Used)
	require.Equal(t, domain.ScopeView, stored.Scope)
}

func TestMissingRequiredFieldRejectsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"Alice": {"fld_a1", "fld_a2"}})
	tok := h.signLink(t, "doc_1", "Alice")

	_, err := h.proc.Submit(ctx, Request{
		Token:       tok.Token,
		SignerName:  "Alice",
		FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "v1"}},
	})
	require.ErrorIs(t, err, domain.ErrMissingRequiredFields)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	require.Equal(t, []string{"fld_a2"}, de.Fields)

	fields, err := h.store.ListFields(ctx, "doc_1")
	require.NoError(t, err)
	for _, f := range fields {
		require.False(t, f.Locked, f.ID)
		require.Nil(t, f.Value)
	}
	events, err := h.store.ListSignatureEvents(ctx, "doc_1")
	require.NoError(t, err)
	require.Empty(t, events)
	_, err = h.tokens.Validate(ctx, tok.Token)
	require.NoError(t, err)
	require.Empty(t, h.notifier.events)
}

func TestEntryWithoutValueIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"Alice": {"fld_a1"}})
	tok := h.signLink(t, "doc_1", "Alice")

	var values []domain.FieldValue
	require.NoError(t, json.Unmarshal([]byte(`[{"field_id":"fld_a1"}]`), &values))
	require.True(t, values[0].NoValue)

	_, err := h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "Alice", FieldValues: values})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)

	fields, err := h.store.ListFields(ctx, "doc_1")
	require.NoError(t, err)
	require.False(t, fields[0].Locked)
	require.Nil(t, fields[0].Value)
	events, err := h.store.ListSignatureEvents(ctx, "doc_1")
	require.NoError(t, err)
	require.Empty(t, events)
	_, err = h.tokens.Validate(ctx, tok.Token)
	require.NoError(t, err)

	// An explicit empty string is still a value.
	require.NoError(t, json.Unmarshal([]byte(`[{"field_id":"fld_a1","value":""}]`), &values))
	require.False(t, values[0].NoValue)
	_, err = h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "Alice", FieldValues: values})
	require.NoError(t, err)
}

func TestOwnershipViolations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}, "bob": {"fld_b1"}})
	h.seed(t, "doc_2", map[string][]string{"alice": {"fld_x1"}})
	tok := h.signLink(t, "doc_1", "alice")

	cases := map[string][]domain.FieldValue{
		"other recipient": {{FieldID: "fld_a1", Value: "a"}, {FieldID: "fld_b1", Value: "b"}},
		"other document":  {{FieldID: "fld_a1", Value: "a"}, {FieldID: "fld_x1", Value: "x"}},
		"unknown field":   {{FieldID: "fld_a1", Value: "a"}, {FieldID: "fld_nope", Value: "x"}},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "Alice", FieldValues: values})
			require.ErrorIs(t, err, domain.ErrFieldOwnershipViolation)
		})
	}

	_, err := h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "Alice", FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}}})
	require.NoError(t, err)

	// A second link for the same recipient cannot re-sign locked fields.
	_, err = h.tokens.IssueSignLink(ctx, "doc_1", "alice", 0)
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestPayloadAndTokenChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}})
	tok := h.signLink(t, "doc_1", "alice")
	view, err := h.tokens.IssueViewLink(ctx, "doc_1", 0)
	require.NoError(t, err)

	values := []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}}
	_, err = h.proc.Submit(ctx, Request{Token: view.Token, SignerName: "A", FieldValues: values})
	require.ErrorIs(t, err, domain.ErrNotASignLink)
	_, err = h.proc.Submit(ctx, Request{Token: "missing", SignerName: "A", FieldValues: values})
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	_, err = h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "  ", FieldValues: values})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	_, err = h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "A"})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	_, err = h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "A", FieldValues: []domain.FieldValue{{Value: "a"}}})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	_, err = h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "A", FieldValues: append(values, values...)})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)

	require.NoError(t, h.tokens.Revoke(ctx, tok.Token))
	_, err = h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "A", FieldValues: values})
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	require.Equal(t, domain.ReasonRevoked, err.(*domain.Error).Reason)
}

func TestConcurrentSubmissionsConsumeLinkOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}, "bob": {"fld_b1"}})
	tok := h.signLink(t, "doc_1", "alice")

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.proc.Submit(ctx, Request{
				Token: tok.Token, SignerName: "Alice",
				FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}},
			})
		}(i)
	}
	close(start)
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrTokenInvalid)
		require.Equal(t, domain.ReasonUsed, err.(*domain.Error).Reason)
	}
	require.Equal(t, 1, ok)

	events, err := h.store.ListSignatureEvents(ctx, "doc_1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestReusedLinkIsNotAConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}})
	tok := h.signLink(t, "doc_1", "alice")
	req := Request{Token: tok.Token, SignerName: "Alice", FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}}}

	_, err := h.proc.Submit(ctx, req)
	require.NoError(t, err)

	_, err = h.proc.Submit(ctx, req)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	require.Equal(t, domain.ReasonUsed, err.(*domain.Error).Reason)
	require.False(t, err.(*domain.Error).Conflict)
}

// staleReads serves the token as it was before a competing submission
// committed.
type staleReads struct {
	*memory.Store
	snapshot domain.SigningToken
}

func (s staleReads) GetToken(ctx context.Context, token string) (domain.SigningToken, error) {
	return s.snapshot, nil
}

func TestLostRaceIsMarkedAsConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}})
	tok := h.signLink(t, "doc_1", "alice")
	req := Request{Token: tok.Token, SignerName: "Alice", FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}}}

	_, err := h.proc.Submit(ctx, req)
	require.NoError(t, err)

	h.proc.store = staleReads{Store: h.store, snapshot: tok}
	_, err = h.proc.Submit(ctx, req)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	require.True(t, err.(*domain.Error).Conflict)
}

func TestPartialSigningFiresStatusChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}, "bob": {"fld_b1"}})

	res, err := h.proc.Submit(ctx, Request{Token: h.signLink(t, "doc_1", "alice").Token, SignerName: "Alice",
		FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}}})
	require.NoError(t, err)
	require.Equal(t, domain.DocumentPartiallySigned, res.Status)
	require.Equal(t, []string{domain.EventSignatureCreated, domain.EventStatusChanged}, h.notifier.events)
	require.Equal(t, "locked", h.notifier.last[domain.EventStatusChanged]["old_status"])
	require.Equal(t, 0, h.renders)

	res, err = h.proc.Submit(ctx, Request{Token: h.signLink(t, "doc_1", "bob").Token, SignerName: "Bob",
		FieldValues: []domain.FieldValue{{FieldID: "fld_b1", Value: "b"}}})
	require.NoError(t, err)
	require.Equal(t, domain.DocumentCompleted, res.Status)
	require.Equal(t, 1, h.renders)
	require.Contains(t, h.notifier.events, domain.EventCompleted)
}

func TestRenderFailureLeavesArtifactUnsetUntilEnsured(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fail = true
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}})

	res, err := h.proc.Submit(ctx, Request{Token: h.signLink(t, "doc_1", "alice").Token, SignerName: "Alice",
		FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}}})
	require.NoError(t, err)
	require.Equal(t, domain.DocumentCompleted, res.Status)
	doc, err := h.store.GetDocument(ctx, "doc_1")
	require.NoError(t, err)
	require.False(t, doc.HasSignedArtifact())

	_, err = h.proc.EnsureSignedArtifact(ctx, "doc_1")
	require.ErrorIs(t, err, render.ErrRenderFailure)

	h.fail = false
	doc, err = h.proc.EnsureSignedArtifact(ctx, "doc_1")
	require.NoError(t, err)
	require.True(t, doc.HasSignedArtifact())
	again, err := h.proc.EnsureSignedArtifact(ctx, "doc_1")
	require.NoError(t, err)
	require.Equal(t, doc.SignedFileSHA256, again.SignedFileSHA256)
	require.Equal(t, 3, h.renders)
}

func TestFailureAfterMutationRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, "doc_1", map[string][]string{"alice": {"fld_a1"}})
	tok := h.signLink(t, "doc_1", "alice")
	// Without a source file the document hash cannot be taken, which fails
	// the transaction after the fields were written.
	h.blobs = blobs.NewMemory()
	h.chain = audit.New(h.blobs, h.store, zap.NewNop())
	h.proc.chain = h.chain

	_, err := h.proc.Submit(ctx, Request{Token: tok.Token, SignerName: "Alice", FieldValues: []domain.FieldValue{{FieldID: "fld_a1", Value: "a"}}})
	require.Error(t, err)

	fields, err := h.store.ListFields(ctx, "doc_1")
	require.NoError(t, err)
	require.False(t, fields[0].Locked)
	got, err := h.store.GetToken(ctx, tok.Token)
	require.NoError(t, err)
	require.False(t, got.Used)
}

func TestLockDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.CreateDocument(ctx, domain.Document{ID: "doc_d", Status: domain.DocumentDraft, FileKey: "k"}))
	_, err := h.proc.LockDocument(ctx, "doc_d")
	require.ErrorIs(t, err, domain.ErrDocumentNotReady)

	require.NoError(t, h.store.CreateField(ctx, domain.Field{ID: "fld_1", DocumentID: "doc_d", Type: domain.FieldText, Recipient: "alice", Required: true}))
	doc, err := h.proc.LockDocument(ctx, "doc_d")
	require.NoError(t, err)
	require.Equal(t, domain.DocumentLocked, doc.Status)
	_, err = h.proc.LockDocument(ctx, "doc_d")
	require.NoError(t, err)
	require.Equal(t, []string{domain.EventLocked}, h.notifier.events)

	_, err = h.proc.LockDocument(ctx, "doc_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateDocumentStoresDraftWithFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, _, err := h.proc.CreateDocument(ctx, "NDA", nil, nil)
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	_, _, err = h.proc.CreateDocument(ctx, "NDA", []byte("%PDF"), []FieldSpec{{Type: "stamp", Recipient: "alice", Page: 1, Width: 0.1, Height: 0.1}})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	_, _, err = h.proc.CreateDocument(ctx, "NDA", []byte("%PDF"), []FieldSpec{{Type: domain.FieldText, Recipient: "alice", Page: 1, X: 0.95, Width: 0.1, Height: 0.1}})
	require.ErrorIs(t, err, domain.ErrMalformedPayload)

	doc, fields, err := h.proc.CreateDocument(ctx, "NDA", []byte("%PDF nda"), []FieldSpec{
		{Type: domain.FieldSignature, Recipient: "alice", Page: 1, X: 0.1, Y: 0.8, Width: 0.3, Height: 0.05, Required: true},
		{Type: domain.FieldDate, Recipient: "bob", Page: 2, X: 0.5, Y: 0.8, Width: 0.2, Height: 0.05},
	})
	require.NoError(t, err)
	require.Equal(t, domain.DocumentDraft, doc.Status)
	require.Len(t, fields, 2)

	src, err := h.blobs.Get(ctx, doc.FileKey)
	require.NoError(t, err)
	require.Equal(t, "%PDF nda", string(src))

	stored, err := h.store.ListFields(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	_, err = h.proc.LockDocument(ctx, doc.ID)
	require.NoError(t, err)
}
