package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

const tokenColumns = `id,token,document_id,scope,COALESCE(recipient,''),used,revoked,expires_at,created_at`

func scanToken(row pgx.Row) (domain.SigningToken, error) {
	var t domain.SigningToken
	var scope string
	err := row.Scan(&t.ID, &t.Token, &t.DocumentID, &scope, &t.Recipient, &t.Used, &t.Revoked, &t.ExpiresAt, &t.CreatedAt)
	t.Scope = domain.TokenScope(scope)
	return t, mapErr(err)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repo) CreateToken(ctx context.Context, t domain.SigningToken) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO signing_tokens(id,token,document_id,scope,recipient,used,revoked,expires_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
`, t.ID, t.Token, t.DocumentID, string(t.Scope), nullIfEmpty(t.Recipient), t.Used, t.Revoked, t.ExpiresAt)
	return mapErr(err)
}

func (r *repo) GetToken(ctx context.Context, token string) (domain.SigningToken, error) {
	return scanToken(r.q.QueryRow(ctx, `SELECT `+tokenColumns+` FROM signing_tokens WHERE token=$1`, token))
}

func (r *repo) LockToken(ctx context.Context, token string) (domain.SigningToken, error) {
	return scanToken(r.q.QueryRow(ctx, `SELECT `+tokenColumns+` FROM signing_tokens WHERE token=$1 FOR UPDATE`, token))
}

func (r *repo) FindActiveSignToken(ctx context.Context, documentID, recipient string) (domain.SigningToken, error) {
	return scanToken(r.q.QueryRow(ctx, `
SELECT `+tokenColumns+` FROM signing_tokens
WHERE document_id=$1 AND recipient=$2 AND scope='sign' AND NOT used AND NOT revoked
`, documentID, recipient))
}

func (r *repo) ConsumeToken(ctx context.Context, id string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
UPDATE signing_tokens SET scope='view', used=true
WHERE id=$1 AND scope='sign' AND NOT used
`, id)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM signing_tokens WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, mapErr(err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (r *repo) RevokeToken(ctx context.Context, token string) (bool, error) {
	var changed bool
	err := r.q.QueryRow(ctx, `
WITH prev AS (SELECT id, revoked FROM signing_tokens WHERE token=$1 FOR UPDATE)
UPDATE signing_tokens t SET revoked=true FROM prev
WHERE t.id=prev.id
RETURNING NOT prev.revoked
`, token).Scan(&changed)
	return changed, mapErr(err)
}
