package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

const documentColumns = `id,title,status,file_key,signed_file_key,signed_file_sha256,created_at,updated_at`

func scanDocument(row pgx.Row) (domain.Document, error) {
	var d domain.Document
	var status string
	err := row.Scan(&d.ID, &d.Title, &status, &d.FileKey, &d.SignedFileKey, &d.SignedFileSHA256, &d.CreatedAt, &d.UpdatedAt)
	d.Status = domain.DocumentStatus(status)
	return d, mapErr(err)
}

func (r *repo) CreateDocument(ctx context.Context, doc domain.Document) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO documents(id,title,status,file_key,signed_file_key,signed_file_sha256)
VALUES($1,$2,$3,$4,$5,$6)
`, doc.ID, doc.Title, string(doc.Status), doc.FileKey, doc.SignedFileKey, doc.SignedFileSHA256)
	return mapErr(err)
}

func (r *repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
}

func (r *repo) LockDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id))
}

func (r *repo) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE documents SET status=$2, updated_at=now() WHERE id=$1`, id, string(status))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *repo) SetSignedArtifact(ctx context.Context, id, key, sha256 string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
UPDATE documents SET signed_file_key=$2, signed_file_sha256=$3, updated_at=now()
WHERE id=$1 AND signed_file_key=''
`, id, key, sha256)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetDocument(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

const fieldColumns = `id,document_id,type,recipient,page,x,y,width,height,required,value,locked`

func (r *repo) CreateField(ctx context.Context, f domain.Field) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO document_fields(id,document_id,type,recipient,page,x,y,width,height,required,value,locked)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, f.ID, f.DocumentID, string(f.Type), f.Recipient, f.Page, f.X, f.Y, f.Width, f.Height, f.Required, f.Value, f.Locked)
	return mapErr(err)
}

func (r *repo) ListFields(ctx context.Context, documentID string) ([]domain.Field, error) {
	return r.queryFields(ctx, `SELECT `+fieldColumns+` FROM document_fields WHERE document_id=$1 ORDER BY seq`, documentID)
}

func (r *repo) LockFields(ctx context.Context, documentID string) ([]domain.Field, error) {
	return r.queryFields(ctx, `SELECT `+fieldColumns+` FROM document_fields WHERE document_id=$1 ORDER BY seq FOR UPDATE`, documentID)
}

func (r *repo) queryFields(ctx context.Context, sql string, args ...any) ([]domain.Field, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Field
	for rows.Next() {
		var f domain.Field
		var typ string
		if err := rows.Scan(&f.ID, &f.DocumentID, &typ, &f.Recipient, &f.Page, &f.X, &f.Y, &f.Width, &f.Height, &f.Required, &f.Value, &f.Locked); err != nil {
			return nil, err
		}
		f.Type = domain.FieldType(typ)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repo) FillFields(ctx context.Context, documentID string, values []domain.FieldValue) (int, error) {
	n := 0
	for _, v := range values {
		tag, err := r.q.Exec(ctx, `
UPDATE document_fields SET value=$3, locked=true
WHERE id=$1 AND document_id=$2 AND NOT locked
`, v.FieldID, documentID, v.Value)
		if err != nil {
			return n, mapErr(err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}
