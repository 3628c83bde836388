package server

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/compozy/ragrouter/engine/orchestrator"
	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	healthCheckTimeout = 2 * time.Second
	codeInvalidInput   = "INVALID_INPUT"
	codeTimeout        = "QUERY_TIMEOUT"
)

type queryRequest struct {
	Question string `json:"question" binding:"required,max=4000"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data, "message": "Success"})
}

// respondProblem writes an RFC 7807 body and logs it at a level matching the status.
func respondProblem(c *gin.Context, problem *core.Problem) {
	problem = core.NormalizeProblem(problem)
	log := logger.FromContext(c.Request.Context())
	fields := []any{"status", problem.Status, "detail", problem.Detail, "route", c.FullPath()}
	if code, ok := problem.Extras["code"]; ok {
		fields = append(fields, "code", code)
	}
	if problem.Status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
	} else {
		log.Warn("Request failed", fields...)
	}
	payload, err := json.Marshal(core.BuildProblemBody(problem))
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/problem+json",
			[]byte(`{"status":500,"error":"Internal Server Error"}`))
		c.Abort()
		return
	}
	c.Data(problem.Status, "application/problem+json", payload)
	c.Abort()
}

func statusForQueryError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, codeTimeout
	}
	switch core.ErrorCode(err) {
	case orchestrator.ErrCodeEmptyInput:
		return http.StatusBadRequest, orchestrator.ErrCodeEmptyInput
	case orchestrator.ErrCodeAgentsFailed, orchestrator.ErrCodeModelCall, orchestrator.ErrCodeInvalidRoute:
		return http.StatusBadGateway, core.ErrorCode(err)
	default:
		return http.StatusInternalServerError, core.ErrorCode(err)
	}
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondProblem(c, &core.Problem{
			Status: http.StatusBadRequest,
			Detail: "request body must be {\"question\": \"...\"} with a non-empty question",
			Extras: map[string]any{"code": codeInvalidInput},
		})
		return
	}
	answer, err := s.deps.Query.Query(c.Request.Context(), req.Question)
	if err != nil {
		status, code := statusForQueryError(err)
		problem := core.ProblemFromError(status, err)
		if code != "" {
			problem.Extras = map[string]any{"code": code}
		}
		respondProblem(c, problem)
		return
	}
	respondOK(c, answer)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	names := slices.Sorted(maps.Keys(s.deps.Checks))
	results := make(map[string]string, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	healthy := true
	for _, name := range names {
		check := s.deps.Checks[name]
		wg.Go(func() {
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			err := check(checkCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[name] = core.RedactError(err)
				return
			}
			results[name] = "ok"
		})
	}
	wg.Wait()
	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"data": gin.H{
			"status":  status,
			"version": s.deps.Version,
			"checks":  results,
		},
		"message": "Success",
	})
}

func (s *Server) handleLogs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondProblem(c, &core.Problem{
				Status: http.StatusBadRequest,
				Detail: "limit must be a positive integer",
				Extras: map[string]any{"code": codeInvalidInput},
			})
			return
		}
		limit = n
	}
	logs, err := s.deps.RunLog.ListRecent(c.Request.Context(), limit)
	if err != nil {
		respondProblem(c, core.ProblemFromError(http.StatusInternalServerError, err))
		return
	}
	respondOK(c, logs)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.deps.RunLog.CostStats(c.Request.Context())
	if err != nil {
		respondProblem(c, core.ProblemFromError(http.StatusInternalServerError, err))
		return
	}
	respondOK(c, stats)
}
