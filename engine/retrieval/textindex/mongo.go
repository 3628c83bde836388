package textindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/engine/retrieval"
	"github.com/compozy/ragrouter/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// Mongo text scores are unbounded; dividing by this maps typical scores into [0,1].
	scoreNormalizationDivisor = 10.0
	defaultNumResults         = 5
	queryLogTruncate          = 100
)

// Finder is the subset of *mongo.Collection the index needs.
type Finder interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type questionDoc struct {
	QuestionID any      `bson:"question_id"`
	Title      string   `bson:"title"`
	Body       string   `bson:"body"`
	Tags       []string `bson:"tags"`
	Score      float64  `bson:"score"`
}

// Index runs $text searches over StackExchange question documents.
type Index struct {
	coll Finder
}

var _ retrieval.Index = (*Index)(nil)

func New(coll Finder) *Index {
	return &Index{coll: coll}
}

// Connect dials MongoDB and returns an index over the configured collection
// together with a disconnect function.
func Connect(ctx context.Context, uri, database, collection string) (*Index, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: connect: %s", core.RedactError(err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo: ping: %s", core.RedactError(err))
	}
	return New(client.Database(database).Collection(collection)), client.Disconnect, nil
}

func (i *Index) Kind() retrieval.Kind {
	return retrieval.KindText
}

func (i *Index) Search(ctx context.Context, req retrieval.Search) ([]retrieval.Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("mongo: search query is empty")
	}
	limit := req.NumResults
	if limit <= 0 {
		limit = defaultNumResults
	}
	textScore := bson.M{"$meta": "textScore"}
	opts := options.Find().
		SetProjection(bson.M{"score": textScore, "_id": 0}).
		SetSort(bson.D{{Key: "score", Value: textScore}}).
		SetLimit(int64(limit))
	cursor, err := i.coll.Find(ctx, buildFilter(req.Query, req.Tags), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: text search failed: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []questionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode results: %w", err)
	}
	results := make([]retrieval.Result, 0, len(docs))
	for i := range docs {
		results = append(results, toResult(&docs[i]))
	}
	q := req.Query
	if len(q) > queryLogTruncate {
		q = q[:queryLogTruncate]
	}
	logger.FromContext(ctx).Info("Text search completed", "results", len(results), "query", q)
	return results, nil
}

func buildFilter(query string, tags []string) bson.M {
	filter := bson.M{"$text": bson.M{"$search": query}}
	if len(tags) > 0 {
		filter["tags"] = bson.M{"$in": tags}
	}
	return filter
}

func normalizeScore(textScore float64) float64 {
	if textScore <= 0 {
		return 0
	}
	return retrieval.ClampScore(textScore / scoreNormalizationDivisor)
}

func toResult(doc *questionDoc) retrieval.Result {
	parts := make([]string, 0, 2)
	if doc.Title != "" {
		parts = append(parts, doc.Title)
	}
	if doc.Body != "" {
		parts = append(parts, doc.Body)
	}
	id := "unknown"
	if doc.QuestionID != nil {
		id = fmt.Sprint(doc.QuestionID)
	}
	return retrieval.Result{
		Content:        strings.Join(parts, " "),
		SourceID:       "question_" + id,
		Title:          doc.Title,
		RelevanceScore: normalizeScore(doc.Score),
		Tags:           doc.Tags,
	}
}
