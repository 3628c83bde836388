package core

import (
	"maps"
	"net/http"
)

// Problem captures the information returned in an RFC 7807 error response.
type Problem struct {
	Type     string
	Title    string
	Status   int
	Detail   string
	Instance string
	Extras   map[string]any
}

// NormalizeProblem fills the status, title and type defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	if problem.Type == "" {
		problem.Type = "about:blank"
	}
	return problem
}

// BuildProblemBody renders the problem. Extras never override the reserved keys.
func BuildProblemBody(problem *Problem) map[string]any {
	body := map[string]any{
		"status": problem.Status,
		"error":  problem.Title,
		"type":   problem.Type,
	}
	if problem.Detail != "" {
		body["details"] = problem.Detail
	}
	if problem.Instance != "" {
		body["instance"] = problem.Instance
	}
	extras := maps.Clone(problem.Extras)
	maps.DeleteFunc(extras, func(k string, _ any) bool { return isReservedProblemKey(k) && k != "code" })
	maps.Copy(body, extras)
	return body
}

func isReservedProblemKey(key string) bool {
	switch key {
	case "status", "error", "details", "code", "type", "instance":
		return true
	default:
		return false
	}
}

// ProblemFromError maps a coded error to a problem with the given status.
func ProblemFromError(status int, err error) *Problem {
	p := &Problem{Status: status, Detail: RedactError(err)}
	if code := ErrorCode(err); code != "" {
		p.Extras = map[string]any{"code": code}
	}
	return NormalizeProblem(p)
}
