// Package bootstrap builds the pipeline components from the environment.
// cmd/server and cmd/worker share it.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/internal/storage"
	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/biorel/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/biorel/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/graph"
	"github.com/OFFIS-RIT/biorel/backend/pkg/ingest"
	"github.com/OFFIS-RIT/biorel/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/biorel/backend/pkg/loader"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/biorel/backend/pkg/query"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store/memory"
	neo4jstore "github.com/OFFIS-RIT/biorel/backend/pkg/store/neo4j"
	pgstore "github.com/OFFIS-RIT/biorel/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const DefaultEmbeddingDim = 1024

func InitLogger(prefix string) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvString("LOG_FORMAT", "text") == "json",
		Prefix: prefix,
	}))
}

func EmbeddingDim() int {
	return int(util.GetEnvNumeric("AI_EMBED_DIM", DefaultEmbeddingDim))
}

// NewAIClient selects the model adapter named by AI_ADAPTER.
func NewAIClient() (ai.GraphAIClient, error) {
	switch adapter := util.GetEnvString("AI_ADAPTER", "openai"); adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			Dimensions:      EmbeddingDim(),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			TimeoutMin:            int(util.GetEnvNumeric("AI_TIMEOUT_MIN", 10)),
			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "openai":
		env, err := util.RequireEnv("AI_EMBED_MODEL", "AI_CHAT_EXTRACT_MODEL")
		if err != nil {
			return nil, err
		}
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  env["AI_EMBED_MODEL"],
			ExtractionModel: env["AI_CHAT_EXTRACT_MODEL"],
			Dimensions:      EmbeddingDim(),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			TimeoutMin:            int(util.GetEnvNumeric("AI_TIMEOUT_MIN", 10)),
			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown AI_ADAPTER %q", common.ErrConfiguration, adapter)
	}
}

// NewPool opens a pgx pool with the pgvector types registered on every
// connection.
func NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	env, err := util.RequireEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(env["DATABASE_URL"])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DATABASE_URL: %v", common.ErrConfiguration, err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, common.Connectivity("connect", "postgres", "", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, common.Connectivity("connect", "postgres", "", err)
	}
	return pool, nil
}

// Stores bundles the storage backends selected by STORE_ADAPTER.
type Stores struct {
	Vector    store.VectorStore
	Graph     store.GraphStore
	Decisions store.DecisionLog
	// Locker is nil for the memory adapter.
	Locker *leaselock.Client

	pool  *pgxpool.Pool
	neo4j *neo4jstore.GraphStore
}

// NewStores connects the configured stores. With STORE_ADAPTER=pgx chunks
// and decisions live in PostgreSQL and edges in Neo4j; a vector column
// narrower or wider than the embedding dimension is a configuration error.
func NewStores(ctx context.Context) (*Stores, error) {
	dim := EmbeddingDim()

	switch adapter := util.GetEnvString("STORE_ADAPTER", "pgx"); adapter {
	case "memory":
		logger.Warn("[Bootstrap] Using in-memory stores, nothing is persisted")
		return &Stores{
			Vector:    memory.NewVectorStore(dim),
			Graph:     memory.NewGraphStore(),
			Decisions: memory.NewDecisionLog(),
		}, nil
	case "pgx":
	default:
		return nil, fmt.Errorf("%w: unknown STORE_ADAPTER %q", common.ErrConfiguration, adapter)
	}

	pool, err := NewPool(ctx)
	if err != nil {
		return nil, err
	}
	vector := pgstore.NewVectorStoreWithConnection(pool, dim, pgstore.WithTable(util.GetEnv("VECTOR_TABLE")))
	if err := vector.CheckDimensions(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	params, err := neo4jstore.ParamsFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	graphStore, err := neo4jstore.NewGraphStore(ctx, params)
	if err != nil {
		pool.Close()
		return nil, err
	}
	graphStore.EnsureConstraints(ctx)

	return &Stores{
		Vector:    vector,
		Graph:     graphStore,
		Decisions: pgstore.NewDecisionLogWithConnection(pool),
		Locker:    leaselock.New(pool),
		pool:      pool,
		neo4j:     graphStore,
	}, nil
}

func (s *Stores) Close(ctx context.Context) {
	if s.neo4j != nil {
		if err := s.neo4j.Close(ctx); err != nil {
			logger.Warn("[Bootstrap] Failed to close neo4j driver", "err", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func PendingDir() string {
	return util.GetEnvString("PENDING_DIR", "data/pending")
}

// NewArchiver selects where consumed files go: a local processed
// directory or an S3 bucket.
func NewArchiver(ctx context.Context) (loader.Archiver, error) {
	switch adapter := util.GetEnvString("ARCHIVE_ADAPTER", "dir"); adapter {
	case "dir":
		archiver, err := loader.NewDirArchiver(util.GetEnvString("PROCESSED_DIR", "data/processed"))
		if err != nil {
			return nil, err
		}
		return archiver, nil
	case "s3":
		params, err := storage.S3ParamsFromEnv()
		if err != nil {
			return nil, err
		}
		client, err := storage.NewS3Client(ctx, params)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Archiver(client, params.Bucket, params.Prefix), nil
	default:
		return nil, fmt.Errorf("%w: unknown ARCHIVE_ADAPTER %q", common.ErrConfiguration, adapter)
	}
}

func NewIngestor(ctx context.Context, aiClient ai.GraphAIClient, vector store.VectorStore) (*ingest.Ingestor, error) {
	counter, err := ingest.NewTiktokenCounter(util.GetEnvString("TOKEN_ENCODER", ingest.DefaultEncoding))
	if err != nil {
		logger.Warn("[Bootstrap] Token encoder unavailable, counting words", "err", err)
		counter = ingest.WordCounter{}
	}
	archiver, err := NewArchiver(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.NewIngestor(ingest.NewIngestorParams{
		AIClient: aiClient,
		Store:    vector,
		Archiver: archiver,
		Chunker: ingest.NewChunker(ingest.NewChunkerParams{
			Counter:   counter,
			MaxTokens: int(util.GetEnvNumeric("CHUNK_MAX_TOKENS", ingest.DefaultMaxTokens)),
			Overlap:   int(util.GetEnvNumeric("CHUNK_OVERLAP", 1)),
		}),
	})
}

func TopK() int {
	return int(util.GetEnvNumeric("RETRIEVAL_TOP_K", query.DefaultTopK))
}

// NewPipeline wires retrieval and extraction. EXTRACT_PROMPT_FILE replaces
// the built-in extraction prompt.
func NewPipeline(aiClient ai.GraphAIClient, vector store.VectorStore, tracer query.Tracer) (*query.Pipeline, error) {
	retriever, err := query.NewRetriever(query.NewRetrieverParams{
		AIClient:     aiClient,
		Store:        vector,
		DenseWeight:  util.GetEnvFloat("RETRIEVAL_DENSE_WEIGHT", 0.5),
		SparseWeight: util.GetEnvFloat("RETRIEVAL_SPARSE_WEIGHT", 0.5),
		Tracer:       tracer,
	})
	if err != nil {
		return nil, err
	}

	var prompt string
	if path := strings.TrimSpace(util.GetEnv("EXTRACT_PROMPT_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read EXTRACT_PROMPT_FILE: %v", common.ErrConfiguration, err)
		}
		prompt = string(raw)
	}
	extractor, err := graph.NewGraphClient(graph.NewGraphClientParams{
		AIClient:       aiClient,
		PromptTemplate: prompt,
		Model:          util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		Temperature:    util.GetEnvFloat("AI_TEMPERATURE", 0),
	})
	if err != nil {
		return nil, err
	}
	return query.NewPipeline(retriever, extractor, tracer)
}
