package cypher

import (
	"fmt"
	"regexp"
	"strings"
)

// Reason names why a query was rejected.
type Reason string

const (
	ReasonEmpty               Reason = "EMPTY"
	ReasonForbiddenWriteOp    Reason = "FORBIDDEN_WRITE_OP"
	ReasonDisallowedClause    Reason = "DISALLOWED_CLAUSE"
	ReasonUnbalancedDelimiter Reason = "UNBALANCED_DELIMITER"
)

// ForbiddenKeywords are write clauses a read-only agent may never emit.
var ForbiddenKeywords = []string{"CREATE", "DELETE", "SET", "REMOVE", "MERGE"}

var (
	forbiddenRes = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(ForbiddenKeywords))
		for i, kw := range ForbiddenKeywords {
			out[i] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
		}
		return out
	}()
	groupByRe = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
)

type delimiter struct {
	open, close byte
	name        string
}

var delimiters = []delimiter{
	{'(', ')', "parenthesis"},
	{'[', ']', "bracket"},
	{'{', '}', "brace"},
}

// Verdict is the outcome of Validate. Reason and Message are empty when accepted.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"rejection_reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Validate runs lexical safety checks in a fixed order and stops at the first failure.
// It does not parse Cypher.
func Validate(query string) Verdict {
	if strings.TrimSpace(query) == "" {
		return reject(ReasonEmpty, "Query is empty")
	}
	for i, re := range forbiddenRes {
		if re.MatchString(query) {
			return reject(ReasonForbiddenWriteOp,
				"Forbidden write operation detected: %s. Only read-only queries are allowed.", ForbiddenKeywords[i])
		}
	}
	if groupByRe.MatchString(query) {
		return reject(ReasonDisallowedClause,
			"GROUP BY is not allowed. Use WITH aggregation instead (e.g., WITH ... count(...) AS ...).")
	}
	for _, d := range delimiters {
		diff := strings.Count(query, string(d.open)) - strings.Count(query, string(d.close))
		if diff == 0 {
			continue
		}
		side := "opening"
		if diff < 0 {
			side = "closing"
			diff = -diff
		}
		return reject(ReasonUnbalancedDelimiter, "Unbalanced %s: %d extra %s %s", d.name, diff, side, d.name)
	}
	return Verdict{Accepted: true}
}
