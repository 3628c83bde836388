package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Record is one row of a Cypher result with driver types converted to plain values.
type Record map[string]any

// Runner executes read-only Cypher and returns at most limit records.
// more reports whether the stream had further records.
type Runner interface {
	Run(ctx context.Context, cypher string, limit int) (records []Record, more bool, err error)
	Close(ctx context.Context) error
}

// Neo4jRunner runs queries in read sessions.
type Neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewNeo4jRunner(ctx context.Context, uri, user, password, database string) (*Neo4jRunner, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: create driver: %s", core.RedactError(err))
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %s", core.RedactError(err))
	}
	return &Neo4jRunner{driver: driver, database: database}, nil
}

func (r *Neo4jRunner) Run(ctx context.Context, cypher string, limit int) ([]Record, bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.database,
	})
	defer session.Close(ctx)
	result, err := session.Run(ctx, cypher, nil)
	if err != nil {
		return nil, false, err
	}
	records := make([]Record, 0)
	more := false
	for result.Next(ctx) {
		if limit > 0 && len(records) >= limit {
			more = true
			break
		}
		rec := result.Record()
		row := make(Record, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = convertValue(rec.Values[i])
		}
		records = append(records, row)
	}
	if !more {
		if err := result.Err(); err != nil {
			return nil, false, err
		}
	}
	return records, more, nil
}

func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// convertValue maps driver graph types to JSON friendly maps.
func convertValue(v any) any {
	switch val := v.(type) {
	case dbtype.Node:
		return map[string]any{
			"id":         val.ElementId,
			"labels":     val.Labels,
			"properties": val.Props,
		}
	case dbtype.Relationship:
		return map[string]any{
			"id":         val.ElementId,
			"type":       val.Type,
			"start":      val.StartElementId,
			"end":        val.EndElementId,
			"properties": val.Props,
		}
	case dbtype.Path:
		nodes := make([]any, len(val.Nodes))
		for i, n := range val.Nodes {
			nodes[i] = convertValue(n)
		}
		rels := make([]any, len(val.Relationships))
		for i, rel := range val.Relationships {
			rels[i] = convertValue(rel)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = convertValue(item)
		}
		return out
	default:
		return v
	}
}

// ErrorKind separates errors the model can fix from ones it cannot.
type ErrorKind string

const (
	ErrorKindSyntax      ErrorKind = "syntax"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindExecution   ErrorKind = "execution"
)

// Classify maps a driver error to an ErrorKind.
func Classify(err error) ErrorKind {
	if neo4j.IsConnectivityError(err) {
		return ErrorKindUnavailable
	}
	if neo4jErr, ok := err.(*neo4j.Neo4jError); ok {
		switch {
		case strings.HasPrefix(neo4jErr.Code, "Neo.ClientError.Statement"):
			return ErrorKindSyntax
		case strings.HasPrefix(neo4jErr.Code, "Neo.TransientError"),
			strings.HasPrefix(neo4jErr.Code, "Neo.ClientError.Database.DatabaseNotFound"):
			return ErrorKindUnavailable
		}
	}
	return ErrorKindExecution
}

// ErrorMessage renders an error the way the model sees it.
func ErrorMessage(err error) string {
	msg := core.RedactError(err)
	switch Classify(err) {
	case ErrorKindSyntax:
		return "Cypher syntax error: " + msg
	case ErrorKindUnavailable:
		return "Neo4j service unavailable: " + msg
	default:
		return "Query execution error: " + msg
	}
}
