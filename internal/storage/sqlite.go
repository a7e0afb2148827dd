// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/raglite/internal/models"
)

// ErrDuplicate is returned when a live document with the same content hash already
// exists in the dataset.
var ErrDuplicate = errors.New("duplicate document")

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each new connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		embedder TEXT,
		rerank_enabled INTEGER NOT NULL DEFAULT 0,
		rerank_model TEXT,
		rerank_top_k INTEGER NOT NULL DEFAULT 0,
		rerank_min_score REAL,
		deleted_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_datasets_tenant ON datasets(tenant_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		dataset_id TEXT NOT NULL,
		path TEXT NOT NULL,
		filename TEXT,
		source_uri TEXT,
		mime_type TEXT,
		size_bytes INTEGER,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		language TEXT,
		deleted_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_dataset ON documents(tenant_id, dataset_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_live_hash
		ON documents(tenant_id, dataset_id, content_hash) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		dataset_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_dataset ON chunks(tenant_id, dataset_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		payload TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		dataset_ids TEXT,
		query TEXT NOT NULL,
		rewritten TEXT,
		result_count INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_query_history_tenant ON query_history(tenant_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// CreateDataset inserts a dataset, assigning an id when empty.
func (s *SQLiteStorage) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	ds.CreatedAt = time.Now().UTC()
	var minScore sql.NullFloat64
	if ds.Rerank.MinScore != nil {
		minScore = sql.NullFloat64{Float64: *ds.Rerank.MinScore, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, tenant_id, name, description, embedder,
			rerank_enabled, rerank_model, rerank_top_k, rerank_min_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.TenantID, ds.Name, nullString(ds.Description), nullString(ds.Embedder),
		ds.Rerank.Enabled, nullString(ds.Rerank.Model), ds.Rerank.TopK, minScore, ds.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}
	return nil
}

const datasetColumns = `id, tenant_id, name, description, embedder,
	rerank_enabled, rerank_model, rerank_top_k, rerank_min_score, deleted_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*models.Dataset, error) {
	var (
		ds                             models.Dataset
		description, embedder, rrModel sql.NullString
		minScore                       sql.NullFloat64
		deletedAt                      sql.NullTime
	)
	if err := row.Scan(&ds.ID, &ds.TenantID, &ds.Name, &description, &embedder,
		&ds.Rerank.Enabled, &rrModel, &ds.Rerank.TopK, &minScore, &deletedAt, &ds.CreatedAt); err != nil {
		return nil, err
	}
	ds.Description = description.String
	ds.Embedder = embedder.String
	ds.Rerank.Model = rrModel.String
	if minScore.Valid {
		v := minScore.Float64
		ds.Rerank.MinScore = &v
	}
	ds.DeletedAt = timePtr(deletedAt)
	return &ds, nil
}

// GetDataset returns a live dataset owned by tenantID.
func (s *SQLiteStorage) GetDataset(ctx context.Context, tenantID, id string) (*models.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets
		 WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`, id, tenantID)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// ListDatasets returns the tenant's live datasets ordered by creation.
// An empty tenantID lists live datasets of every tenant.
func (s *SQLiteStorage) ListDatasets(ctx context.Context, tenantID string) ([]*models.Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets
		 WHERE (? = '' OR tenant_id = ?) AND deleted_at IS NULL ORDER BY created_at`, tenantID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// SoftDeleteDataset marks the dataset and its documents deleted and removes their chunks.
func (s *SQLiteStorage) SoftDeleteDataset(ctx context.Context, tenantID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE datasets SET deleted_at = ? WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		now, id, tenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE tenant_id = ? AND dataset_id = ? AND deleted_at IS NULL`,
		now, tenantID, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE tenant_id = ? AND dataset_id = ?`, tenantID, id); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateDocument inserts a document. Returns ErrDuplicate when a live document with the
// same content hash exists in the dataset.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentPending
	}
	doc.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, tenant_id, dataset_id, path, filename, source_uri, mime_type,
			size_bytes, content_hash, status, language, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.DatasetID, doc.Path, nullString(doc.Filename), nullString(doc.SourceURI),
		nullString(doc.MimeType), doc.SizeBytes, doc.ContentHash, string(doc.Status), nullString(doc.Language),
		doc.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, tenant_id, dataset_id, path, filename, source_uri, mime_type,
	size_bytes, content_hash, status, language, deleted_at, created_at`

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc                                 models.Document
		filename, sourceURI, mimeType, lang sql.NullString
		size                                sql.NullInt64
		status                              string
		deletedAt                           sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.TenantID, &doc.DatasetID, &doc.Path, &filename, &sourceURI, &mimeType,
		&size, &doc.ContentHash, &status, &lang, &deletedAt, &doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.Filename = filename.String
	doc.SourceURI = sourceURI.String
	doc.MimeType = mimeType.String
	doc.SizeBytes = size.Int64
	doc.Status = models.DocumentStatus(status)
	doc.Language = lang.String
	doc.DeletedAt = timePtr(deletedAt)
	return &doc, nil
}

// GetDocument returns a document by ID, including soft-deleted ones.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindDuplicate returns the live document with contentHash in the dataset, or ErrNotFound.
func (s *SQLiteStorage) FindDuplicate(ctx context.Context, tenantID, datasetID, contentHash string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = ? AND dataset_id = ? AND content_hash = ? AND deleted_at IS NULL
		 LIMIT 1`, tenantID, datasetID, contentHash)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListLiveDocuments returns the dataset's documents that are not soft-deleted, oldest first.
func (s *SQLiteStorage) ListLiveDocuments(ctx context.Context, tenantID, datasetID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = ? AND dataset_id = ? AND deleted_at IS NULL
		 ORDER BY created_at, id`, tenantID, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets status, and language when the document has none yet.
func (s *SQLiteStorage) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, language string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?,
			language = CASE WHEN (language IS NULL OR language = '') AND ? != '' THEN ? ELSE language END
		 WHERE id = ?`,
		string(status), language, language, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// SoftDeleteDocument marks the document deleted and removes its chunks.
func (s *SQLiteStorage) SoftDeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// BatchCreateChunks upserts multiple chunks in a transaction. Re-writing an existing
// chunk id replaces the row.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, tenant_id, dataset_id, document_id, text,
			start_offset, end_offset, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.TenantID, chunk.DatasetID, chunk.DocumentID,
			chunk.Text, chunk.Start, chunk.End, string(metadataJSON), chunk.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, tenant_id, dataset_id, document_id, text, start_offset, end_offset, metadata, created_at`

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var metadataJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.TenantID, &chunk.DatasetID, &chunk.DocumentID, &chunk.Text,
			&chunk.Start, &chunk.End, &metadataJSON, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata)
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// ListChunksByDataset returns all chunks of a dataset ordered by document and offset.
func (s *SQLiteStorage) ListChunksByDataset(ctx context.Context, tenantID, datasetID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = ? AND dataset_id = ?
		 ORDER BY document_id, start_offset`, tenantID, datasetID)
}

// ListChunksByDocument returns a document's chunks ordered by offset.
func (s *SQLiteStorage) ListChunksByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY start_offset`, documentID)
}

// DeleteChunksByDocument removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	return err
}

// DeleteChunksByDataset removes all chunks for a dataset.
func (s *SQLiteStorage) DeleteChunksByDataset(ctx context.Context, tenantID, datasetID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE tenant_id = ? AND dataset_id = ?`, tenantID, datasetID)
	return err
}

// CreateJob inserts a job, assigning an id when empty.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, type, status, progress, error, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, string(job.Type), string(job.Status), job.Progress, nullString(job.Error),
		string(payload), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var (
		job              models.Job
		typ, status      string
		errText, payload sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, type, status, progress, error, payload, created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.TenantID, &typ, &status, &job.Progress, &errText, &payload, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	job.Type = models.JobType(typ)
	job.Status = models.JobStatus(status)
	job.Error = errText.String
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
		}
	}
	return &job, nil
}

// UpdateJob writes status, progress and error of an existing job.
func (s *SQLiteStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), job.Progress, nullString(job.Error), job.UpdatedAt, job.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// LogQuery appends a query history record.
func (s *SQLiteStorage) LogQuery(ctx context.Context, entry *models.QueryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, tenant_id, dataset_ids, query, rewritten, result_count, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, strings.Join(entry.DatasetIDs, ","), entry.Query, nullString(entry.Rewritten),
		entry.ResultCount, entry.LatencyMS, time.Now().UTC(),
	)
	return err
}

// CountDocuments returns the number of live documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
