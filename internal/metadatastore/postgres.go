package metadatastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"corpusd/internal/model"
)

// Postgres is the pgx-backed Store implementation, the metadata store's
// production backend.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against dsn and ensures the schema exists. Schema
// management here is best-effort CREATE IF NOT EXISTS for dev; production
// deployments should manage migrations with an external tool.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
func (p *Postgres) Close()                         { p.pool.Close() }

// --- metadata helpers ---

func toJSONMap(m map[string]string) []byte {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return b
}

func fromJSONMap(b []byte) map[string]string {
	m := map[string]string{}
	if len(b) == 0 {
		return m
	}
	_ = json.Unmarshal(b, &m)
	return m
}

// --- tenants ---

func (p *Postgres) CreateTenant(ctx context.Context, t model.Tenant) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO tenants(tenant_id, name, credential_fingerprint, rate_limit_per_minute, created_at)
VALUES ($1,$2,$3,$4,$5)`,
		t.TenantID, t.Name, t.CredentialFingerprint, t.RateLimitPerMinute, t.CreatedAt)
	return err
}

func scanTenant(row pgx.Row) (model.Tenant, error) {
	var t model.Tenant
	err := row.Scan(&t.TenantID, &t.Name, &t.CredentialFingerprint, &t.RateLimitPerMinute, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Tenant{}, ErrNotFound
	}
	return t, err
}

func (p *Postgres) GetTenantByFingerprint(ctx context.Context, fingerprint string) (model.Tenant, error) {
	row := p.pool.QueryRow(ctx, `SELECT tenant_id, name, credential_fingerprint, rate_limit_per_minute, created_at FROM tenants WHERE credential_fingerprint=$1`, fingerprint)
	return scanTenant(row)
}

func (p *Postgres) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	row := p.pool.QueryRow(ctx, `SELECT tenant_id, name, credential_fingerprint, rate_limit_per_minute, created_at FROM tenants WHERE tenant_id=$1`, tenantID)
	return scanTenant(row)
}

func (p *Postgres) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := p.pool.Query(ctx, `SELECT tenant_id, name, credential_fingerprint, rate_limit_per_minute, created_at FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTenant relies on ON DELETE CASCADE for documents/chunks/jobs; blob
// and vector cleanup for every owned document remains the dispatcher's
// responsibility (it cannot be expressed as a SQL cascade).
func (p *Postgres) DeleteTenant(ctx context.Context, tenantID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM tenants WHERE tenant_id=$1`, tenantID)
	return err
}

// --- documents ---

func (p *Postgres) CreateDocumentWithExtractJob(ctx context.Context, doc model.Document, job model.Job) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO documents(document_id, tenant_id, filename, blob_path, size_bytes, status, metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		doc.DocumentID, doc.TenantID, doc.Filename, doc.BlobPath, doc.SizeBytes, doc.Status,
		toJSONMap(doc.Metadata), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.Exec(ctx, insertJobSQL,
		job.JobID, job.TenantID, job.DocumentID, job.Stage, job.Status, job.Payload,
		job.Score, job.RetryCount, job.MaxRetries, job.ErrorMessage, job.CreatedAt, job.UpdatedAt); err != nil {
		return fmt.Errorf("insert extract job: %w", err)
	}
	return tx.Commit(ctx)
}

const insertJobSQL = `
INSERT INTO jobs(job_id, tenant_id, document_id, stage, status, payload, score, retry_count, max_retries, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

func scanDocument(row pgx.Row) (model.Document, error) {
	var d model.Document
	var metadata []byte
	err := row.Scan(&d.DocumentID, &d.TenantID, &d.Filename, &d.BlobPath, &d.SizeBytes, &d.Status,
		&metadata, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, ErrNotFound
	}
	if err != nil {
		return model.Document{}, err
	}
	d.Metadata = fromJSONMap(metadata)
	return d, nil
}

const selectDocumentCols = `document_id, tenant_id, filename, blob_path, size_bytes, status, metadata, error_message, created_at, updated_at`

func (p *Postgres) GetDocument(ctx context.Context, tenantID, documentID string) (model.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectDocumentCols+` FROM documents WHERE tenant_id=$1 AND document_id=$2`, tenantID, documentID)
	return scanDocument(row)
}

func (p *Postgres) UpdateDocumentStatus(ctx context.Context, tenantID, documentID string, status model.DocumentStatus, errMsg string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE documents SET status=$1, error_message=$2, updated_at=now()
WHERE tenant_id=$3 AND document_id=$4`, status, errMsg, tenantID, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkDocumentFailedDeletion(ctx context.Context, tenantID, documentID string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE documents SET failed_deletion=true, updated_at=now()
WHERE tenant_id=$1 AND document_id=$2`, tenantID, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteDocumentRow(ctx context.Context, tenantID, documentID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE tenant_id=$1 AND document_id=$2`, tenantID, documentID)
	return err
}

func (p *Postgres) ListDocumentsByTenant(ctx context.Context, tenantID string) ([]model.Document, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+selectDocumentCols+` FROM documents WHERE tenant_id=$1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- chunks ---

func (p *Postgres) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
INSERT INTO chunks(chunk_id, document_id, tenant_id, chunk_index, text, vector_snapshot_path, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			c.ChunkID, c.DocumentID, c.TenantID, c.ChunkIndex, c.Text, c.VectorSnapshotPath, toJSONMap(c.Metadata))
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert chunk batch: %w", err)
		}
	}
	return nil
}

const selectChunkCols = `chunk_id, document_id, tenant_id, chunk_index, text, vector_snapshot_path, metadata`

func scanChunk(row pgx.Row) (model.Chunk, error) {
	var c model.Chunk
	var metadata []byte
	err := row.Scan(&c.ChunkID, &c.DocumentID, &c.TenantID, &c.ChunkIndex, &c.Text, &c.VectorSnapshotPath, &metadata)
	if err != nil {
		return model.Chunk{}, err
	}
	c.Metadata = fromJSONMap(metadata)
	return c, nil
}

func (p *Postgres) GetChunksByDocument(ctx context.Context, tenantID, documentID string) ([]model.Chunk, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+selectChunkCols+` FROM chunks WHERE tenant_id=$1 AND document_id=$2 ORDER BY chunk_index`, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) GetChunksByIDs(ctx context.Context, tenantID string, chunkIDs []string) ([]model.Chunk, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+selectChunkCols+` FROM chunks WHERE tenant_id=$1 AND chunk_id = ANY($2) ORDER BY chunk_index`, tenantID, chunkIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) SetChunkVectorSnapshotPath(ctx context.Context, tenantID, chunkID, path string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE chunks SET vector_snapshot_path=$1 WHERE tenant_id=$2 AND chunk_id=$3`, path, tenantID, chunkID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AllChunksEmbedded(ctx context.Context, tenantID, documentID string) (bool, error) {
	var remaining int
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM chunks
WHERE tenant_id=$1 AND document_id=$2 AND vector_snapshot_path=''`, tenantID, documentID).Scan(&remaining)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

func (p *Postgres) DeleteChunksByDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE tenant_id=$1 AND document_id=$2`, tenantID, documentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- jobs ---

func scanJob(row pgx.Row) (model.Job, error) {
	var j model.Job
	err := row.Scan(&j.JobID, &j.TenantID, &j.DocumentID, &j.Stage, &j.Status, &j.Payload,
		&j.Score, &j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	return j, err
}

const selectJobCols = `job_id, tenant_id, document_id, stage, status, payload, score, retry_count, max_retries, error_message, created_at, updated_at`

// CompleteJobAndEnqueueSuccessor ties the predecessor job's completion, the
// document's status advance, and the successor jobs' insertion into one
// transaction, so a crash between steps can never leave the document
// advanced without its next-stage job queued (or vice versa).
func (p *Postgres) CompleteJobAndEnqueueSuccessor(ctx context.Context, completed model.Job, doc model.Document, newStatus model.DocumentStatus, successors []model.Job) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE jobs SET status=$1, updated_at=now() WHERE job_id=$2`, model.JobCompleted, completed.JobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE documents SET status=$1, updated_at=now() WHERE tenant_id=$2 AND document_id=$3`, newStatus, doc.TenantID, doc.DocumentID); err != nil {
		return fmt.Errorf("advance document status: %w", err)
	}
	for _, s := range successors {
		if _, err := tx.Exec(ctx, insertJobSQL,
			s.JobID, s.TenantID, s.DocumentID, s.Stage, s.Status, s.Payload,
			s.Score, s.RetryCount, s.MaxRetries, s.ErrorMessage, s.CreatedAt, s.UpdatedAt); err != nil {
			return fmt.Errorf("insert successor job: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) CreateJob(ctx context.Context, job model.Job) error {
	_, err := p.pool.Exec(ctx, insertJobSQL,
		job.JobID, job.TenantID, job.DocumentID, job.Stage, job.Status, job.Payload,
		job.Score, job.RetryCount, job.MaxRetries, job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	return err
}

func (p *Postgres) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectJobCols+` FROM jobs WHERE job_id=$1`, jobID)
	return scanJob(row)
}

// TransitionJobProcessing is the lease fence: only a job still in 'pending'
// can be claimed. A worker that loses this race gets ErrAlreadyProcessing
// and moves on rather than double-processing the job.
func (p *Postgres) TransitionJobProcessing(ctx context.Context, jobID string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status=$1, updated_at=now()
WHERE job_id=$2 AND status=$3`, model.JobProcessing, jobID, model.JobPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessing
	}
	return nil
}

func (p *Postgres) RetryJob(ctx context.Context, jobID string, newScore float64, errMsg string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status=$1, score=$2, retry_count=retry_count+1, error_message=$3, updated_at=now()
WHERE job_id=$4`, model.JobPending, newScore, errMsg, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeadLetterJob(ctx context.Context, jobID, errMsg string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET status=$1, error_message=$2, updated_at=now()
WHERE job_id=$3`, model.JobDead, errMsg, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE jobs SET status=$1, updated_at=now() WHERE job_id=$2`, model.JobCompleted, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListJobsByDocument(ctx context.Context, tenantID, documentID string) ([]model.Job, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+selectJobCols+` FROM jobs WHERE tenant_id=$1 AND document_id=$2 ORDER BY created_at`, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteJobsByDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE tenant_id=$1 AND document_id=$2`, tenantID, documentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeadLetterPendingJobsByDocument dead-letters every non-terminal job for a
// document in one statement, used right before a cascading delete so an
// in-flight embed worker can observe the dead status and abort instead of
// racing the delete.
func (p *Postgres) DeadLetterPendingJobsByDocument(ctx context.Context, tenantID, documentID string) error {
	_, err := p.pool.Exec(ctx, `
UPDATE jobs SET status=$1, error_message='document deleted', updated_at=now()
WHERE tenant_id=$2 AND document_id=$3 AND status IN ($4, $5)`,
		model.JobDead, tenantID, documentID, model.JobPending, model.JobProcessing)
	return err
}

// --- metrics ---

func (p *Postgres) TenantDocumentCounts(ctx context.Context, tenantID string) (map[model.DocumentStatus]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT status, count(*) FROM documents WHERE tenant_id=$1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[model.DocumentStatus]int{}
	for rows.Next() {
		var status model.DocumentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
