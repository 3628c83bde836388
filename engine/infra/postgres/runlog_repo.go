package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	orchestratorAgentName = "orchestrator"
	defaultRecentLimit    = 50
	maxRecentLimit        = 500
)

// DB is the query surface shared by pgxpool.Pool and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Prices are USD per 1K tokens.
type Prices struct {
	InputPer1K  float64
	OutputPer1K float64
}

// RunLogRepo writes one llm_logs row per orchestrated run together with its
// quality checks and guardrail events.
type RunLogRepo struct {
	db       DB
	provider string
	model    string
	prices   Prices
}

func NewRunLogRepo(db DB, provider, model string, prices Prices) *RunLogRepo {
	return &RunLogRepo{db: db, provider: provider, model: model, prices: prices}
}

type evalCheck struct {
	name    string
	passed  bool
	score   *float64
	details string
}

type guardrailRow struct {
	name   string
	reason string
}

// Record implements orchestrator.Recorder.
func (r *RunLogRepo) Record(ctx context.Context, run *orchestrator.Run) error {
	if run == nil {
		return errors.New("run is required")
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run log tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()
	logID, err := r.insertLog(ctx, tx, run)
	if err != nil {
		return err
	}
	if err := insertChecks(ctx, tx, logID, checksFor(run)); err != nil {
		return err
	}
	if err := insertGuardrails(ctx, tx, logID, guardrailsFor(run)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run log: %w", err)
	}
	return nil
}

func (r *RunLogRepo) cost(inputTokens, outputTokens int) (in, out, total float64) {
	in = float64(inputTokens) / 1000 * r.prices.InputPer1K
	out = float64(outputTokens) / 1000 * r.prices.OutputPer1K
	return in, out, in + out
}

func (r *RunLogRepo) insertLog(ctx context.Context, tx pgx.Tx, run *orchestrator.Run) (int64, error) {
	var (
		answer, route, errText *string
		inTok, outTok          int
		raw                    []byte
		err                    error
	)
	if run.Answer != nil {
		answer = &run.Answer.Answer
		rt := string(run.Answer.Routing.Route)
		route = &rt
		inTok, outTok = run.Answer.Usage.PromptTokens, run.Answer.Usage.CompletionTokens
		raw, err = json.Marshal(run.Answer)
		if err != nil {
			return 0, fmt.Errorf("encode run answer: %w", err)
		}
	}
	if run.Err != nil {
		msg := core.RedactError(run.Err)
		errText = &msg
	}
	inCost, outCost, total := r.cost(inTok, outTok)
	query, args, err := squirrel.
		Insert("llm_logs").
		Columns(
			"run_id",
			"agent_name",
			"route",
			"provider",
			"model",
			"user_prompt",
			"assistant_answer",
			"total_input_tokens",
			"total_output_tokens",
			"input_cost",
			"output_cost",
			"total_cost",
			"error",
			"raw_json",
			"created_at",
		).
		Values(
			run.ID,
			orchestratorAgentName,
			route,
			r.provider,
			r.model,
			run.Question,
			answer,
			inTok,
			outTok,
			inCost,
			outCost,
			total,
			errText,
			raw,
			run.StartedAt.UTC(),
		).
		Suffix("RETURNING id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build llm_logs insert: %w", err)
	}
	var id int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert llm_logs: %w", err)
	}
	return id, nil
}

func checksFor(run *orchestrator.Run) []evalCheck {
	if run.Answer == nil {
		return nil
	}
	ans := run.Answer
	confidence := ans.Confidence
	checks := []evalCheck{
		{name: "routing_rationale", passed: ans.Routing.Validate() == nil, details: ans.Routing.Rationale},
		{name: "sources_cited", passed: len(ans.Sources) > 0, details: fmt.Sprintf("%d sources", len(ans.Sources))},
		{name: "confidence", passed: confidence > 0, score: &confidence},
	}
	for _, tag := range ans.AgentsUsed {
		res, ok := ans.Agents[tag]
		if !ok || res == nil {
			continue
		}
		checks = append(checks, evalCheck{
			name:    string(tag) + "_within_budget",
			passed:  !res.LimitReached,
			details: fmt.Sprintf("%d/%d tool calls", res.Budget.CallsMade, res.Budget.CurrentLimit),
		})
	}
	return checks
}

func guardrailsFor(run *orchestrator.Run) []guardrailRow {
	if run.Answer == nil {
		return nil
	}
	var rows []guardrailRow
	for _, tag := range run.Answer.AgentsUsed {
		res, ok := run.Answer.Agents[tag]
		if !ok || res == nil {
			continue
		}
		for _, g := range res.Guardrails {
			rows = append(rows, guardrailRow{
				name:   g.Kind,
				reason: fmt.Sprintf("%s %s: %s", tag, g.Tool, g.Reason),
			})
		}
	}
	return rows
}

func insertChecks(ctx context.Context, tx pgx.Tx, logID int64, checks []evalCheck) error {
	if len(checks) == 0 {
		return nil
	}
	builder := squirrel.
		Insert("eval_checks").
		Columns("log_id", "check_name", "passed", "score", "details").
		PlaceholderFormat(squirrel.Dollar)
	for _, c := range checks {
		builder = builder.Values(logID, c.name, c.passed, c.score, c.details)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build eval_checks insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert eval_checks: %w", err)
	}
	return nil
}

func insertGuardrails(ctx context.Context, tx pgx.Tx, logID int64, rows []guardrailRow) error {
	if len(rows) == 0 {
		return nil
	}
	builder := squirrel.
		Insert("guardrail_events").
		Columns("log_id", "guardrail_name", "triggered", "reason").
		PlaceholderFormat(squirrel.Dollar)
	for _, g := range rows {
		builder = builder.Values(logID, g.name, true, g.reason)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build guardrail_events insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert guardrail_events: %w", err)
	}
	return nil
}

// LogSummary is one row of the recent runs listing.
type LogSummary struct {
	ID                int64     `db:"id"                  json:"id"`
	RunID             string    `db:"run_id"              json:"run_id"`
	CreatedAt         time.Time `db:"created_at"          json:"created_at"`
	AgentName         string    `db:"agent_name"          json:"agent_name"`
	Route             *string   `db:"route"               json:"route"`
	Model             *string   `db:"model"               json:"model"`
	UserPrompt        string    `db:"user_prompt"         json:"user_prompt"`
	TotalCost         *float64  `db:"total_cost"          json:"total_cost"`
	TotalInputTokens  int       `db:"total_input_tokens"  json:"total_input_tokens"`
	TotalOutputTokens int       `db:"total_output_tokens" json:"total_output_tokens"`
	Error             *string   `db:"error"               json:"error,omitempty"`
}

// ListRecent returns the newest runs first.
func (r *RunLogRepo) ListRecent(ctx context.Context, limit int) ([]LogSummary, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)
	query, args, err := squirrel.
		Select(
			"id",
			"run_id::text AS run_id",
			"created_at",
			"agent_name",
			"route",
			"model",
			"user_prompt",
			"total_cost",
			"total_input_tokens",
			"total_output_tokens",
			"error",
		).
		From("llm_logs").
		OrderBy("created_at DESC").
		Limit(uint64(limit)). // #nosec G115 -- limit is clamped to (0, maxRecentLimit]
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent logs query: %w", err)
	}
	var out []LogSummary
	if err := pgxscan.Select(ctx, r.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list recent logs: %w", err)
	}
	return out, nil
}

// CostStats aggregates cost over every recorded run.
type CostStats struct {
	TotalCost    float64 `db:"total_cost"    json:"total_cost"`
	TotalQueries int64   `db:"total_queries" json:"total_queries"`
	AvgCost      float64 `db:"-"             json:"avg_cost"`
}

func (r *RunLogRepo) CostStats(ctx context.Context) (CostStats, error) {
	query, args, err := squirrel.
		Select("COALESCE(SUM(total_cost), 0) AS total_cost", "COUNT(id) AS total_queries").
		From("llm_logs").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return CostStats{}, fmt.Errorf("build cost stats query: %w", err)
	}
	var stats CostStats
	if err := pgxscan.Get(ctx, r.db, &stats, query, args...); err != nil {
		return CostStats{}, fmt.Errorf("cost stats: %w", err)
	}
	if stats.TotalQueries > 0 {
		stats.AvgCost = stats.TotalCost / float64(stats.TotalQueries)
	}
	return stats, nil
}
