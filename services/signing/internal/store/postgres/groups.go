package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

func (r *repo) CreateGroup(ctx context.Context, g domain.DocumentGroup) error {
	return r.atomic(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `INSERT INTO document_groups(id,title,status) VALUES($1,$2,$3)`, g.ID, g.Title, string(g.Status)); err != nil {
			return mapErr(err)
		}
		for _, it := range g.Items {
			if _, err := q.Exec(ctx, `
INSERT INTO document_group_items(group_id,document_id,item_order) VALUES($1,$2,$3)
`, g.ID, it.DocumentID, it.Order); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

func (r *repo) GetGroup(ctx context.Context, id string) (domain.DocumentGroup, error) {
	return r.readGroup(ctx, `SELECT id,title,status,created_at FROM document_groups WHERE id=$1`, id)
}

func (r *repo) LockGroup(ctx context.Context, id string) (domain.DocumentGroup, error) {
	return r.readGroup(ctx, `SELECT id,title,status,created_at FROM document_groups WHERE id=$1 FOR UPDATE`, id)
}

func (r *repo) readGroup(ctx context.Context, sql, id string) (domain.DocumentGroup, error) {
	var g domain.DocumentGroup
	var status string
	if err := r.q.QueryRow(ctx, sql, id).Scan(&g.ID, &g.Title, &status, &g.CreatedAt); err != nil {
		return domain.DocumentGroup{}, mapErr(err)
	}
	g.Status = domain.GroupStatus(status)
	rows, err := r.q.Query(ctx, `
SELECT document_id,item_order FROM document_group_items WHERE group_id=$1 ORDER BY item_order
`, id)
	if err != nil {
		return domain.DocumentGroup{}, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.GroupItem
		if err := rows.Scan(&it.DocumentID, &it.Order); err != nil {
			return domain.DocumentGroup{}, err
		}
		g.Items = append(g.Items, it)
	}
	return g, rows.Err()
}

func (r *repo) UpdateGroupStatus(ctx context.Context, id string, status domain.GroupStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE document_groups SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const sessionColumns = `id,token,group_id,recipient,current_index,status,created_at,updated_at`

func scanSession(row pgx.Row) (domain.GroupSigningSession, error) {
	var s domain.GroupSigningSession
	var status string
	err := row.Scan(&s.ID, &s.Token, &s.GroupID, &s.Recipient, &s.CurrentIndex, &status, &s.CreatedAt, &s.UpdatedAt)
	s.Status = domain.SessionStatus(status)
	return s, mapErr(err)
}

func (r *repo) CreateSession(ctx context.Context, s domain.GroupSigningSession) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO group_signing_sessions(id,token,group_id,recipient,current_index,status)
VALUES($1,$2,$3,$4,$5,$6)
`, s.ID, s.Token, s.GroupID, s.Recipient, s.CurrentIndex, string(s.Status))
	return mapErr(err)
}

func (r *repo) GetSession(ctx context.Context, token string) (domain.GroupSigningSession, error) {
	return scanSession(r.q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM group_signing_sessions WHERE token=$1`, token))
}

func (r *repo) LockSession(ctx context.Context, token string) (domain.GroupSigningSession, error) {
	return scanSession(r.q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM group_signing_sessions WHERE token=$1 FOR UPDATE`, token))
}

func (r *repo) UpdateSession(ctx context.Context, s domain.GroupSigningSession) error {
	tag, err := r.q.Exec(ctx, `
UPDATE group_signing_sessions SET current_index=$2, status=$3, updated_at=now() WHERE token=$1
`, s.Token, s.CurrentIndex, string(s.Status))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *repo) ListSessions(ctx context.Context, groupID string) ([]domain.GroupSigningSession, error) {
	rows, err := r.q.Query(ctx, `SELECT `+sessionColumns+` FROM group_signing_sessions WHERE group_id=$1 ORDER BY id`, groupID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.GroupSigningSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
