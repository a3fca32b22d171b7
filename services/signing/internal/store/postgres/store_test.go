package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/db"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DOCSIGN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set DOCSIGN_TEST_DATABASE_URL to run postgres integration tests")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn, db.Options{MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	s := New(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func linkToken(t *testing.T) string {
	t.Helper()
	tok, err := domain.NewLinkToken()
	require.NoError(t, err)
	return tok
}

func seedDocument(t *testing.T, s *Store) domain.Document {
	t.Helper()
	ctx := context.Background()
	doc := domain.Document{ID: domain.NewID(domain.PrefixDocument), Title: "NDA", Status: domain.DocumentLocked, FileKey: "files/nda.pdf"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.CreateField(ctx, domain.Field{
		ID: domain.NewID(domain.PrefixField), DocumentID: doc.ID, Type: domain.FieldSignature,
		Recipient: "alice", Page: 1, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, Required: true,
	}))
	return doc
}

func TestPartialUniqueIndexAllowsOneActiveSignLink(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = linkToken(t)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateToken(ctx, domain.SigningToken{
				ID: domain.NewID(domain.PrefixToken), Token: tokens[i],
				DocumentID: doc.ID, Scope: domain.ScopeSign, Recipient: "alice",
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, store.ErrUniqueViolation)
	}
	require.Equal(t, 1, ok)
}

func TestConsumeTokenOnceUnderContention(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s)
	tok := domain.SigningToken{ID: domain.NewID(domain.PrefixToken), Token: linkToken(t), DocumentID: doc.ID, Scope: domain.ScopeSign, Recipient: "alice"}
	require.NoError(t, s.CreateToken(ctx, tok))

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed := 0
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
				locked, err := repo.LockToken(ctx, tok.Token)
				if err != nil {
					return err
				}
				if !locked.Active() {
					return nil
				}
				changed, err := repo.ConsumeToken(ctx, locked.ID)
				if err != nil {
					return err
				}
				if changed {
					mu.Lock()
					consumed++
					mu.Unlock()
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, consumed)

	got, err := s.GetToken(ctx, tok.Token)
	require.NoError(t, err)
	require.True(t, got.Used)
	require.Equal(t, domain.ScopeView, got.Scope)
}

func TestSignatureEventRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s)

	ev, err := s.CreateSignatureEvent(ctx, domain.SignatureEvent{
		DocumentID: doc.ID, Recipient: "alice", SignerName: "Alice", DocumentSHA256: "00ff",
		FieldValues: []domain.FieldValue{{FieldID: "fld_a", Value: "Alice"}},
	})
	require.NoError(t, err)
	require.False(t, ev.SignedAt.IsZero())
	require.NoError(t, s.SetEventHash(ctx, ev.ID, "abc"))
	require.Error(t, s.SetEventHash(ctx, ev.ID, "def"))

	events, err := s.ListSignatureEvents(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "abc", events[0].EventHash)
	require.Equal(t, ev.FieldValues, events[0].FieldValues)
}

func TestWebhookLeaseAndCounters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	w := domain.Webhook{ID: domain.NewID(domain.PrefixWebhook), URL: "http://127.0.0.1:1", Secret: "s", Events: []string{"*"}, Active: true}
	require.NoError(t, s.CreateWebhook(ctx, w))
	evID := domain.NewID(domain.PrefixWebhookEvent)
	require.NoError(t, s.CreateWebhookEvent(ctx, domain.WebhookEvent{
		ID: evID, WebhookID: w.ID, EventType: domain.EventCompleted,
		Payload: map[string]any{"document_id": "doc_x"}, Status: domain.WebhookPending,
	}))

	ev, ok, err := s.ClaimWebhookEvent(ctx, evID, now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.ClaimWebhookEvent(ctx, evID, now, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ev.Status = domain.WebhookDelivered
	ev.AttemptCount = 1
	code := 200
	require.NoError(t, s.CompleteAttempt(ctx, ev, domain.WebhookDeliveryLog{ID: domain.NewID("dlv_"), EventID: evID, Attempt: 1, StatusCode: &code, Success: true}))
	require.NoError(t, s.CompleteAttempt(ctx, ev, domain.WebhookDeliveryLog{ID: domain.NewID("dlv_"), EventID: evID, Attempt: 1, StatusCode: &code, Success: true}))

	got, err := s.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.SuccessfulDeliveries)
	require.NotNil(t, got.LastTriggeredAt)
}
