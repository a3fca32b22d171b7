package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (r *repo) GetIdempotencyRecord(ctx context.Context, key, endpoint string) (int, []byte, bool, error) {
	var status int
	var body []byte
	err := r.q.QueryRow(ctx, `
SELECT response_status,response_body FROM idempotency_records
WHERE idempotency_key=$1 AND endpoint=$2
`, key, endpoint).Scan(&status, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return status, body, true, nil
}

func (r *repo) SaveIdempotencyRecord(ctx context.Context, key, endpoint string, status int, body []byte) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO idempotency_records(idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4::jsonb)
ON CONFLICT (idempotency_key,endpoint) DO NOTHING
`, key, endpoint, status, string(body))
	return err
}
