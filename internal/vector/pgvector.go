package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/pkg/utils"
)

// PGVectorStore keeps each collection in its own Postgres table with a pgvector column.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	known map[string]bool
	mu    sync.Mutex
}

// NewPGVectorStore connects to dsn and enables the vector extension.
func NewPGVectorStore(ctx context.Context, dsn string) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	return &PGVectorStore{pool: pool, known: make(map[string]bool)}, nil
}

// TableName maps a collection to a Postgres identifier within the 63-byte limit.
func TableName(collection string) string {
	sum := sha256.Sum256([]byte(collection))
	return "vec_" + hex.EncodeToString(sum[:16])
}

func quotedTable(tenantID, datasetID string) (string, string) {
	name := TableName(CollectionName(tenantID, datasetID))
	return name, pgx.Identifier{name}.Sanitize()
}

func createTableSQL(table string, dimension int) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		source_uri TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL,
		embedding vector(%d) NOT NULL
	)`, table, dimension)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, document_id, source_uri, payload, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET document_id = EXCLUDED.document_id,
			source_uri = EXCLUDED.source_uri, payload = EXCLUDED.payload, embedding = EXCLUDED.embedding`, table)
}

// searchSQL takes $1 query vector, $2 document id filter, $3 source URI filter and $4 limit.
// An empty filter matches every row. Zero vectors have no cosine distance and are skipped.
func searchSQL(table string) string {
	return fmt.Sprintf(`SELECT id, payload, 1 - (embedding <=> $1) AS score FROM %s
		WHERE ($2 = '' OR document_id = $2) AND ($3 = '' OR source_uri = $3)
			AND NOT (embedding <=> $1) = 'NaN'::float8
		ORDER BY embedding <=> $1 LIMIT $4`, table)
}

func deleteDocumentSQL(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", table)
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func (s *PGVectorStore) ensureTable(ctx context.Context, name, table string, dimension int) error {
	s.mu.Lock()
	ok := s.known[name]
	s.mu.Unlock()
	if ok {
		return nil
	}
	if _, err := s.pool.Exec(ctx, createTableSQL(table, dimension)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	s.mu.Lock()
	s.known[name] = true
	s.mu.Unlock()
	return nil
}

// Upsert writes points in one batch, creating the table with the first vector's dimension.
func (s *PGVectorStore) Upsert(ctx context.Context, tenantID, datasetID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	name, table := quotedTable(tenantID, datasetID)
	if err := s.ensureTable(ctx, name, table, len(items[0].Vector)); err != nil {
		return err
	}

	query := upsertSQL(table)
	batch := &pgx.Batch{}
	for _, it := range items {
		payload, err := json.Marshal(it.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		batch.Queue(query, it.ID, it.Payload.DocumentID, it.Payload.SourceURI, payload, pgvector.NewVector(it.Vector))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

// Query runs a cosine-distance search per dataset table and keeps the global top-k.
// Missing tables contribute no hits.
func (s *PGVectorStore) Query(ctx context.Context, tenantID string, datasetIDs []string, vector []float32, k int, filters map[string]interface{}) ([]*models.Hit, error) {
	if k <= 0 || utils.IsZeroVector(vector) {
		return nil, nil
	}
	docFilter, _ := filterValue(filters, FilterDocumentID)
	uriFilter, _ := filterValue(filters, FilterSourceURI)
	qv := pgvector.NewVector(vector)

	var hits []*models.Hit
	for _, ds := range datasetIDs {
		_, table := quotedTable(tenantID, ds)
		rows, err := s.pool.Query(ctx, searchSQL(table), qv, docFilter, uriFilter, k)
		if err != nil {
			if isUndefinedTable(err) {
				continue
			}
			return nil, fmt.Errorf("failed to search %s: %w", ds, err)
		}
		for rows.Next() {
			var (
				id      string
				payload []byte
				score   float64
			)
			if err := rows.Scan(&id, &payload, &score); err != nil {
				rows.Close()
				return nil, err
			}
			var p models.ChunkPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
			hits = append(hits, models.HitFromPayload(id, score, p))
		}
		rows.Close()
		if err := rows.Err(); err != nil && !isUndefinedTable(err) {
			return nil, err
		}
	}
	return topK(hits, k), nil
}

// DeleteDataset drops the dataset's table.
func (s *PGVectorStore) DeleteDataset(ctx context.Context, tenantID, datasetID string) error {
	name, table := quotedTable(tenantID, datasetID)
	s.mu.Lock()
	delete(s.known, name)
	s.mu.Unlock()
	_, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	return err
}

// DeleteDocument deletes the document's rows.
func (s *PGVectorStore) DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) error {
	_, table := quotedTable(tenantID, datasetID)
	_, err := s.pool.Exec(ctx, deleteDocumentSQL(table), documentID)
	if isUndefinedTable(err) {
		return nil
	}
	return err
}

// Close closes the connection pool.
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}
