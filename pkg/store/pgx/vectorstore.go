package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DefaultTable is the chunk table created by the migrations.
const DefaultTable = "document_chunks"

const upsertBatchSize = 500

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// VectorStore implements store.VectorStore on PostgreSQL with pgvector for
// dense search and a generated tsvector column for sparse search.
type VectorStore struct {
	conn  pgxIConn
	table string
	dim   int
}

type VectorStoreOption func(*VectorStore)

// WithTable overrides the chunk table name.
func WithTable(table string) VectorStoreOption {
	return func(s *VectorStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewVectorStoreWithConnection creates a VectorStore on an existing pool or
// connection. dim is the embedding width the store accepts.
func NewVectorStoreWithConnection(
	conn pgxIConn,
	dim int,
	opts ...VectorStoreOption,
) *VectorStore {
	s := &VectorStore{
		conn:  conn,
		table: DefaultTable,
		dim:   dim,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *VectorStore) Name() string    { return "pgvector" }
func (s *VectorStore) Dimensions() int { return s.dim }

func (s *VectorStore) ident() string {
	return pgxv5.Identifier{s.table}.Sanitize()
}

// CheckDimensions compares the configured embedding width with the width of
// the table's vector column. A mismatch or a missing table is a
// configuration error; the service must not start.
func (s *VectorStore) CheckDimensions(ctx context.Context) error {
	var typmod int
	err := s.conn.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1)
		  AND a.attname = 'embedding'
		  AND NOT a.attisdropped`,
		s.table,
	).Scan(&typmod)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("%w: table %s has no embedding column", common.ErrConfiguration, s.table)
	}
	if err != nil {
		return err
	}
	return compareDimensions(s.table, typmod, s.dim)
}

func compareDimensions(table string, typmod, dim int) error {
	// pgvector stores the declared width directly in atttypmod; -1 means unconstrained
	if typmod <= 0 {
		return fmt.Errorf("%w: %s.embedding has no fixed dimension", common.ErrConfiguration, table)
	}
	if typmod != dim {
		return fmt.Errorf(
			"%w: %s.embedding has %d dimensions but the embedding model is configured for %d",
			common.ErrConfiguration, table, typmod, dim,
		)
	}
	return nil
}

// UpsertChunks writes all chunks in one transaction. Chunk IDs are
// deterministic, so re-ingesting a document overwrites its rows.
func (s *VectorStore) UpsertChunks(ctx context.Context, chunks []common.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if err := store.CheckDimension(c.Embedding, s.dim); err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
	}

	logger.Debug("[Store][UpsertChunks] Upserting chunks", "chunks", len(chunks), "table", s.table)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, chunk_index, text, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			text        = EXCLUDED.text,
			metadata    = EXCLUDED.metadata,
			embedding   = EXCLUDED.embedding,
			updated_at  = now()`, s.ident())

	err = store.ChunkRange(len(chunks), upsertBatchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, c := range chunks[start:end] {
			batch.Queue(sql,
				c.ID,
				c.DocumentID,
				c.Index,
				util.SanitizePostgresText(c.Text),
				sanitizeMetadata(c.Metadata),
				pgvector.NewVector(c.Embedding),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Search runs a dense or sparse query and returns chunks ranked from 1.
func (s *VectorStore) Search(ctx context.Context, req store.SearchRequest) ([]common.ScoredChunk, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	var (
		rows pgxv5.Rows
		err  error
	)
	switch req.Mode {
	case store.SearchDense:
		if err := store.CheckDimension(req.Embedding, s.dim); err != nil {
			return nil, err
		}
		rows, err = s.conn.Query(ctx, fmt.Sprintf(`
			SELECT id, document_id, chunk_index, text, metadata,
			       (1 - (embedding <=> $1))::float8 AS score
			FROM %s
			ORDER BY embedding <=> $1, id
			LIMIT $2`, s.ident()),
			pgvector.NewVector(req.Embedding), topK,
		)
	case store.SearchSparse:
		rows, err = s.conn.Query(ctx, fmt.Sprintf(`
			SELECT id, document_id, chunk_index, text, metadata,
			       ts_rank_cd(text_search_tsv, plainto_tsquery('english', $1))::float8 AS score
			FROM %s
			WHERE text_search_tsv @@ plainto_tsquery('english', $1)
			ORDER BY score DESC, id
			LIMIT $2`, s.ident()),
			req.Text, topK,
		)
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ScoredChunk
	for rows.Next() {
		var (
			c     common.Chunk
			score float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.Metadata, &score); err != nil {
			return nil, err
		}
		out = append(out, common.ScoredChunk{
			Chunk:    c,
			Score:    score,
			Strategy: string(req.Mode),
			Rank:     len(out) + 1,
		})
	}
	return out, rows.Err()
}

func sanitizeMetadata(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[util.SanitizePostgresText(k)] = util.SanitizePostgresText(v)
	}
	return out
}
