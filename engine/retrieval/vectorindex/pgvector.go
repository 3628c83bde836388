package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/ragrouter/engine/retrieval"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/georgysavva/scany/v2/pgxscan"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

const (
	defaultTable      = "question_embeddings"
	defaultNumResults = 5
	defaultCacheSize  = 512
)

// Embedder turns a query into a vector. langchaingo embedders satisfy it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DB is the query surface shared by pgxpool.Pool and pgxmock.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Config struct {
	Table     string
	Dimension int
	CacheSize int
}

type row struct {
	QuestionID string   `db:"question_id"`
	Title      string   `db:"title"`
	Body       string   `db:"body"`
	Tags       []string `db:"tags"`
	Score      float64  `db:"score"`
}

// Index searches question embeddings stored in pgvector by cosine similarity.
type Index struct {
	db       DB
	embedder Embedder
	table    string
	dim      int
	cache    *lru.Cache[string, []float32]
}

var _ retrieval.Index = (*Index)(nil)

func New(db DB, embedder Embedder, cfg Config) (*Index, error) {
	if db == nil || embedder == nil {
		return nil, errors.New("vector index requires a database and an embedder")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = defaultTable
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("vector index: create cache: %w", err)
	}
	return &Index{
		db:       db,
		embedder: embedder,
		table:    pgx.Identifier{table}.Sanitize(),
		dim:      cfg.Dimension,
		cache:    cache,
	}, nil
}

func (i *Index) Kind() retrieval.Kind {
	return retrieval.KindVector
}

func (i *Index) embed(ctx context.Context, query string) ([]float32, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if vec, ok := i.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := i.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector index: embed query: %w", err)
	}
	if i.dim > 0 && len(vec) != i.dim {
		return nil, fmt.Errorf("vector index: embedding dimension %d does not match %d", len(vec), i.dim)
	}
	i.cache.Add(key, vec)
	return vec, nil
}

func (i *Index) Search(ctx context.Context, req retrieval.Search) ([]retrieval.Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("vector index: search query is empty")
	}
	vec, err := i.embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	limit := req.NumResults
	if limit <= 0 {
		limit = defaultNumResults
	}
	v := pgvector.NewVector(vec)
	qb := squirrel.Select("question_id", "title", "body", "tags").
		Column(squirrel.Expr("1 - (embedding <=> ?) AS score", v)).
		From(i.table).
		OrderByClause("embedding <=> ?", v).
		Limit(uint64(limit)). // #nosec G115 -- limit is positive
		PlaceholderFormat(squirrel.Dollar)
	if len(req.Tags) > 0 {
		qb = qb.Where(squirrel.Expr("tags && ?", req.Tags))
	}
	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("vector index: build query: %w", err)
	}
	var rows []row
	if err := pgxscan.Select(ctx, i.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("vector index: search: %w", err)
	}
	results := make([]retrieval.Result, 0, len(rows))
	for _, r := range rows {
		content := strings.TrimSpace(r.Title + " " + r.Body)
		results = append(results, retrieval.Result{
			Content:        content,
			SourceID:       "question_" + r.QuestionID,
			Title:          r.Title,
			RelevanceScore: retrieval.ClampScore(r.Score),
			Tags:           r.Tags,
		})
	}
	logger.FromContext(ctx).Info("Vector search completed", "results", len(results))
	return results, nil
}
