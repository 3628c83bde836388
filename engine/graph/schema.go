package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/pkoukk/tiktoken-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	nodeSchemaQuery = "CALL db.schema.nodeTypeProperties()"
	relSchemaQuery  = "CALL db.schema.relTypeProperties()"
	schemaHeader    = "NEO4J SCHEMA"
	schemaRecordCap = 5000

	FallbackSchema = schemaHeader + "\n" +
		"==================================================\n\n" +
		"Schema retrieval failed. Use standard StackExchange node labels and relationship types."
)

// TokenCounter returns the token length of a prompt fragment.
type TokenCounter func(text string) int

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// DefaultTokenCounter uses the cl100k encoding and falls back to a 4 chars per token estimate.
func DefaultTokenCounter(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return (len(text) + 3) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}

type SchemaOptions struct {
	Database  string
	MaxTokens int
	CacheTTL  time.Duration
	Counter   TokenCounter
}

// SchemaProvider renders the graph schema for prompts. Renders are cached in
// Redis when a client is given and concurrent misses share one fetch.
type SchemaProvider struct {
	runner Runner
	cache  redis.UniversalClient
	opts   SchemaOptions
	group  singleflight.Group
}

func NewSchemaProvider(runner Runner, cache redis.UniversalClient, opts SchemaOptions) *SchemaProvider {
	if opts.Counter == nil {
		opts.Counter = DefaultTokenCounter
	}
	if opts.Database == "" {
		opts.Database = "neo4j"
	}
	return &SchemaProvider{runner: runner, cache: cache, opts: opts}
}

func (p *SchemaProvider) cacheKey() string {
	return "ragrouter:graph:schema:" + p.opts.Database
}

// Schema returns the rendered schema, or FallbackSchema when the graph is unreachable.
func (p *SchemaProvider) Schema(ctx context.Context) string {
	log := logger.FromContext(ctx)
	if p.cache != nil {
		cached, err := p.cache.Get(ctx, p.cacheKey()).Result()
		switch {
		case err == nil:
			return cached
		case !errors.Is(err, redis.Nil):
			log.Warn("Schema cache read failed", "error", err)
		}
	}
	v, err, _ := p.group.Do(p.cacheKey(), func() (any, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		log.Error("Error retrieving graph schema", "error", err)
		return FallbackSchema
	}
	text, _ := v.(string)
	if p.cache != nil {
		if err := p.cache.Set(ctx, p.cacheKey(), text, p.opts.CacheTTL).Err(); err != nil {
			log.Warn("Schema cache write failed", "error", err)
		}
	}
	return text
}

// Invalidate drops the cached schema.
func (p *SchemaProvider) Invalidate(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Del(ctx, p.cacheKey()).Err()
}

type property struct {
	name  string
	types []string
}

func (p *SchemaProvider) fetch(ctx context.Context) (string, error) {
	nodeRows, _, err := p.runner.Run(ctx, nodeSchemaQuery, schemaRecordCap)
	if err != nil {
		return "", fmt.Errorf("node schema: %w", err)
	}
	relRows, _, err := p.runner.Run(ctx, relSchemaQuery, schemaRecordCap)
	if err != nil {
		return "", fmt.Errorf("relationship schema: %w", err)
	}
	nodes := map[string][]property{}
	for _, row := range nodeRows {
		labels := stringList(row["nodeLabels"])
		if len(labels) == 0 {
			continue
		}
		addProperty(nodes, labels[0], row)
	}
	rels := map[string][]property{}
	for _, row := range relRows {
		relType := strings.Trim(asString(row["relType"]), ":`")
		if relType == "" {
			continue
		}
		addProperty(rels, relType, row)
	}
	var b strings.Builder
	b.WriteString(schemaHeader + "\n" + strings.Repeat("=", 50) + "\n\n")
	writeSection(&b, "NODE LABELS:", nodes)
	b.WriteString("\n")
	writeSection(&b, "RELATIONSHIP TYPES:", rels)
	text := b.String()
	return p.truncate(ctx, text), nil
}

func addProperty(into map[string][]property, key string, row Record) {
	props := into[key]
	if name := asString(row["propertyName"]); name != "" {
		props = append(props, property{name: name, types: stringList(row["propertyTypes"])})
	}
	into[key] = props
}

func writeSection(b *strings.Builder, title string, entries map[string][]property) {
	b.WriteString(title + "\n")
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  - %s\n", k)
		props := entries[k]
		if len(props) == 0 {
			continue
		}
		b.WriteString("    Properties:\n")
		for _, prop := range props {
			types := "unknown"
			if len(prop.types) > 0 {
				types = strings.Join(prop.types, ", ")
			}
			fmt.Fprintf(b, "      - %s: %s\n", prop.name, types)
		}
	}
}

// truncate cuts the schema at a line boundary once it exceeds the token budget.
func (p *SchemaProvider) truncate(ctx context.Context, text string) string {
	limit := p.opts.MaxTokens
	if limit <= 0 || p.opts.Counter(text) <= limit {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 1 && p.opts.Counter(strings.Join(lines, "\n")) > limit {
		lines = lines[:len(lines)-1]
	}
	kept := strings.Join(lines, "\n")
	logger.FromContext(ctx).Warn("Schema exceeds token budget, truncating", "max_tokens", limit)
	return kept + fmt.Sprintf(
		"\n\n[Schema truncated - showing first %d characters. "+
			"Use standard StackExchange node labels and relationship types.]",
		len(kept),
	)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
