package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ordovox/ordovox/pkg/provider/embeddings"
	"github.com/ordovox/ordovox/pkg/types"
)

// Compile-time interface check.
var _ Index = (*Store)(nil)

// Store is the PostgreSQL-backed product index. Product name embeddings live
// in a pgvector column with an HNSW cosine index; the fuzzy fallback stage
// reads the full product list, which for a pharmacy catalog is small enough
// to scan on a miss.
//
// All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	log      *slog.Logger
}

// Option is a functional option for Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal search diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// NewStore connects to the catalog database at dsn, registers pgvector types
// on every connection, and runs the idempotent migration. The vector column
// dimension is taken from the embedder, and the embedding model ID is pinned
// in catalog_meta: reconnecting with a different model fails fast rather than
// silently mixing incompatible vectors.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("catalog store: embedder must not be nil")
	}
	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("catalog store: embedder reports %d dimensions", dims)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog store: ping: %w", err)
	}
	if err := migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog store: migrate: %w", err)
	}

	s := &Store{
		pool:     pool,
		embedder: embedder,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.checkModelPin(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const ddlProducts = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS products (
    key          TEXT         PRIMARY KEY,
    display_name TEXT         NOT NULL,
    category     TEXT         NOT NULL DEFAULT '',
    unit_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
    metadata     JSONB        NOT NULL DEFAULT '{}',
    embedding    vector(%d),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_products_embedding
    ON products USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS catalog_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// migrate creates the products schema. The vector dimension is baked into the
// column type at creation time; changing the embedding model afterwards
// requires a manual re-embed.
func migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(ddlProducts, dims))
	return err
}

// checkModelPin pins the embedding model ID on first run and rejects a
// mismatch on later runs.
func (s *Store) checkModelPin(ctx context.Context) error {
	const q = `
		INSERT INTO catalog_meta (key, value) VALUES ('embedding_model', $1)
		ON CONFLICT (key) DO NOTHING
		RETURNING value`

	model := s.embedder.ModelID()
	var pinned string
	err := s.pool.QueryRow(ctx, q, model).Scan(&pinned)
	if err == pgx.ErrNoRows {
		// Row existed already; read the pinned value.
		err = s.pool.QueryRow(ctx,
			`SELECT value FROM catalog_meta WHERE key = 'embedding_model'`).Scan(&pinned)
	}
	if err != nil {
		return fmt.Errorf("catalog store: read model pin: %w", err)
	}
	if pinned != model {
		return fmt.Errorf("catalog store: database embedded with model %q, configured model is %q; re-embed the catalog before switching", pinned, model)
	}
	return nil
}

// semanticSearchQuery ranks by cosine distance with the product key as the
// deterministic tie-break for equidistant rows.
const semanticSearchQuery = `
	SELECT key, display_name, category, unit_price, metadata,
	       1 - (embedding <=> $1) AS score
	FROM   products
	WHERE  embedding IS NOT NULL
	ORDER  BY embedding <=> $1, key
	LIMIT  $2`

// Search implements [Index]. The query is embedded and matched by cosine
// similarity; results below MinScore are discarded. When the semantic stage
// comes back empty the fuzzy lexical stage runs over the full product list.
func (s *Store) Search(ctx context.Context, query string, k int) ([]types.Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, semanticSearchQuery, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w: %v", ErrUnavailable, err)
	}

	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Candidate, error) {
		var c types.Candidate
		if err := row.Scan(
			&c.Product.Key,
			&c.Product.DisplayName,
			&c.Product.Category,
			&c.Product.UnitPrice,
			&c.Product.Metadata,
			&c.Score,
		); err != nil {
			return types.Candidate{}, err
		}
		c.MatchType = MatchSemantic
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan rows: %w", err)
	}

	// Keep only candidates above the score floor.
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Score >= MinScore {
			kept = append(kept, c)
		}
	}
	if len(kept) > 0 {
		return kept, nil
	}

	s.log.Debug("semantic search empty, running fuzzy stage", "query", query)
	products, err := s.listProducts(ctx)
	if err != nil {
		return nil, err
	}
	return fuzzyMatch(query, products, k), nil
}

// Upsert implements [Index]. Display names are batch-embedded together with
// their category so related products cluster, then written with ON CONFLICT
// replacement.
func (s *Store) Upsert(ctx context.Context, products []types.Product) error {
	if len(products) == 0 {
		return nil
	}

	texts := make([]string, len(products))
	for i, p := range products {
		texts[i] = embedText(p)
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("catalog: embed products: %w", err)
	}
	if len(vecs) != len(products) {
		return fmt.Errorf("catalog: expected %d embeddings, got %d", len(products), len(vecs))
	}

	const q = `
		INSERT INTO products (key, display_name, category, unit_price, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (key) DO UPDATE SET
		    display_name = EXCLUDED.display_name,
		    category     = EXCLUDED.category,
		    unit_price   = EXCLUDED.unit_price,
		    metadata     = EXCLUDED.metadata,
		    embedding    = EXCLUDED.embedding,
		    updated_at   = now()`

	batch := &pgx.Batch{}
	for i, p := range products {
		meta := p.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		batch.Queue(q, p.Key, p.DisplayName, p.Category, p.UnitPrice, meta, pgvector.NewVector(vecs[i]))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range products {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("catalog: upsert: %w", err)
		}
	}
	return nil
}

// listProducts loads the full catalog for the fuzzy stage.
func (s *Store) listProducts(ctx context.Context) ([]types.Product, error) {
	const q = `SELECT key, display_name, category, unit_price, metadata FROM products`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w: %v", ErrUnavailable, err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Product, error) {
		var p types.Product
		err := row.Scan(&p.Key, &p.DisplayName, &p.Category, &p.UnitPrice, &p.Metadata)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan products: %w", err)
	}
	return products, nil
}

// embedText builds the string that gets embedded for a product. Category is
// appended so "antalgique" style queries land near the right cluster.
func embedText(p types.Product) string {
	if p.Category == "" {
		return p.DisplayName
	}
	return p.DisplayName + " " + p.Category
}
