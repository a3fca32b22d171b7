package tokens

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T, status domain.DocumentStatus) (*Manager, *memory.Store, *clock) {
	t.Helper()
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	st := memory.New(memory.WithClock(clk.Now))
	require.NoError(t, st.CreateDocument(ctx, domain.Document{ID: "doc_1", Title: "NDA", Status: status, FileKey: "k"}))
	require.NoError(t, st.CreateField(ctx, domain.Field{ID: "fld_a1", DocumentID: "doc_1", Type: domain.FieldSignature, Recipient: "alice", Required: true}))
	require.NoError(t, st.CreateField(ctx, domain.Field{ID: "fld_b1", DocumentID: "doc_1", Type: domain.FieldText, Recipient: "bob", Required: false}))
	return New(st, zap.NewNop(), WithClock(clk.Now)), st, clk
}

func TestIssueSignLinkGuards(t *testing.T) {
	ctx := context.Background()

	draft, _, _ := setup(t, domain.DocumentDraft)
	_, err := draft.IssueSignLink(ctx, "doc_1", "alice", 0)
	require.ErrorIs(t, err, domain.ErrDocumentNotReady)
	_, err = draft.IssueViewLink(ctx, "doc_1", 0)
	require.ErrorIs(t, err, domain.ErrDocumentNotReady)

	m, _, _ := setup(t, domain.DocumentLocked)
	_, err = m.IssueSignLink(ctx, "doc_1", "", 0)
	require.ErrorIs(t, err, domain.ErrRecipientRequired)
	_, err = m.IssueSignLink(ctx, "doc_1", "carol", 0)
	require.ErrorIs(t, err, domain.ErrRecipientHasNoFields)
	_, err = m.IssueSignLink(ctx, "doc_1", "bob", 0)
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)
	_, err = m.IssueSignLink(ctx, "doc_missing", "alice", 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Issue(ctx, "doc_1", domain.ScopeView, "alice", 0)
	require.ErrorIs(t, err, domain.ErrMalformedPayload)

	tok, err := m.IssueSignLink(ctx, "doc_1", "alice", 0)
	require.NoError(t, err)
	require.Equal(t, domain.ScopeSign, tok.Scope)
	require.Nil(t, tok.ExpiresAt)

	_, err = m.IssueSignLink(ctx, "doc_1", "alice", 0)
	require.ErrorIs(t, err, domain.ErrDuplicateActiveToken)

	view, err := m.IssueViewLink(ctx, "doc_1", time.Hour)
	require.NoError(t, err)
	require.Empty(t, view.Recipient)
	require.NotNil(t, view.ExpiresAt)
}

func TestConcurrentIssuanceYieldsOneLink(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setup(t, domain.DocumentLocked)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.IssueSignLink(ctx, "doc_1", "alice", 0)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrDuplicateActiveToken)
	}
	require.Equal(t, 1, ok)
}

func TestExpiredLinkIsReplacedOnReissue(t *testing.T) {
	ctx := context.Background()
	m, st, clk := setup(t, domain.DocumentLocked)

	first, err := m.IssueSignLink(ctx, "doc_1", "alice", time.Minute)
	require.NoError(t, err)
	clk.Advance(time.Minute)

	_, err = m.Validate(ctx, first.Token)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	require.Equal(t, domain.ReasonExpired, err.(*domain.Error).Reason)

	second, err := m.IssueSignLink(ctx, "doc_1", "alice", time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	old, err := st.GetToken(ctx, first.Token)
	require.NoError(t, err)
	require.True(t, old.Revoked)
}

func TestValidateReasonPriority(t *testing.T) {
	ctx := context.Background()
	m, st, clk := setup(t, domain.DocumentLocked)

	tok, err := m.IssueSignLink(ctx, "doc_1", "alice", time.Minute)
	require.NoError(t, err)
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		return Consume(ctx, repo, tok.ID)
	}))

	_, err = m.Validate(ctx, tok.Token)
	require.NoError(t, err, "a consumed sign link is a view link")

	clk.Advance(2 * time.Minute)
	require.NoError(t, m.Revoke(ctx, tok.Token))
	require.NoError(t, m.Revoke(ctx, tok.Token))
	_, err = m.Validate(ctx, tok.Token)
	require.Equal(t, domain.ReasonRevoked, err.(*domain.Error).Reason)

	_, err = m.Validate(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	require.ErrorIs(t, m.Revoke(ctx, "nope"), domain.ErrNotFound)
}

func TestConsumeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, st, _ := setup(t, domain.DocumentLocked)
	tok, err := m.IssueSignLink(ctx, "doc_1", "alice", 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, st.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
			return Consume(ctx, repo, tok.ID)
		}))
	}
	got, err := st.GetToken(ctx, tok.Token)
	require.NoError(t, err)
	require.True(t, got.Used)
	require.Equal(t, domain.ScopeView, got.Scope)
}

func TestResolveNarrowsFieldsForSignLinks(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setup(t, domain.DocumentLocked)

	sign, err := m.IssueSignLink(ctx, "doc_1", "alice", 0)
	require.NoError(t, err)
	link, err := m.Resolve(ctx, sign.Token)
	require.NoError(t, err)
	require.Equal(t, "doc_1", link.Document.ID)
	require.Len(t, link.Fields, 1)
	require.Equal(t, "fld_a1", link.Fields[0].ID)

	view, err := m.IssueViewLink(ctx, "doc_1", 0)
	require.NoError(t, err)
	link, err = m.Resolve(ctx, view.Token)
	require.NoError(t, err)
	require.Len(t, link.Fields, 2)
}

func TestCheckSign(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)

	require.NoError(t, CheckSign(domain.SigningToken{Scope: domain.ScopeSign}, now))
	require.ErrorIs(t, CheckSign(domain.SigningToken{Scope: domain.ScopeView}, now), domain.ErrNotASignLink)

	err := CheckSign(domain.SigningToken{Scope: domain.ScopeView, Used: true}, now)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
	require.Equal(t, domain.ReasonUsed, err.(*domain.Error).Reason)

	err = CheckSign(domain.SigningToken{Scope: domain.ScopeSign, Used: true, Revoked: true, ExpiresAt: &past}, now)
	require.Equal(t, domain.ReasonRevoked, err.(*domain.Error).Reason)
	err = CheckSign(domain.SigningToken{Scope: domain.ScopeView, Used: true, ExpiresAt: &past}, now)
	require.Equal(t, domain.ReasonExpired, err.(*domain.Error).Reason)
}
