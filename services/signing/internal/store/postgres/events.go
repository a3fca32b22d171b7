package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
)

const eventColumns = `id,document_id,token_id,recipient,signer_name,signed_at,ip_address,user_agent,document_sha256,field_values,event_hash`

func scanEvent(row pgx.Row) (domain.SignatureEvent, error) {
	var ev domain.SignatureEvent
	var values []byte
	if err := row.Scan(&ev.ID, &ev.DocumentID, &ev.TokenID, &ev.Recipient, &ev.SignerName, &ev.SignedAt,
		&ev.IPAddress, &ev.UserAgent, &ev.DocumentSHA256, &values, &ev.EventHash); err != nil {
		return domain.SignatureEvent{}, mapErr(err)
	}
	if err := json.Unmarshal(values, &ev.FieldValues); err != nil {
		return domain.SignatureEvent{}, err
	}
	ev.SignedAt = ev.SignedAt.UTC()
	return ev, nil
}

func (r *repo) CreateSignatureEvent(ctx context.Context, ev domain.SignatureEvent) (domain.SignatureEvent, error) {
	if ev.ID == "" {
		ev.ID = domain.NewID(domain.PrefixEvent)
	}
	values, err := json.Marshal(ev.FieldValues)
	if err != nil {
		return domain.SignatureEvent{}, err
	}
	return scanEvent(r.q.QueryRow(ctx, `
INSERT INTO signature_events(id,document_id,token_id,recipient,signer_name,ip_address,user_agent,document_sha256,field_values)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb)
RETURNING `+eventColumns, ev.ID, ev.DocumentID, ev.TokenID, ev.Recipient, ev.SignerName, ev.IPAddress, ev.UserAgent, ev.DocumentSHA256, string(values)))
}

func (r *repo) SetEventHash(ctx context.Context, id, hash string) error {
	tag, err := r.q.Exec(ctx, `UPDATE signature_events SET event_hash=$2 WHERE id=$1 AND event_hash=''`, id, hash)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetSignatureEvent(ctx, id); err != nil {
		return err
	}
	return errors.New("event hash already set")
}

func (r *repo) GetSignatureEvent(ctx context.Context, id string) (domain.SignatureEvent, error) {
	return scanEvent(r.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM signature_events WHERE id=$1`, id))
}

func (r *repo) ListSignatureEvents(ctx context.Context, documentID string) ([]domain.SignatureEvent, error) {
	rows, err := r.q.Query(ctx, `SELECT `+eventColumns+` FROM signature_events WHERE document_id=$1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.SignatureEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
