package tools

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/compozy/ragrouter/engine/governor"
	"github.com/tidwall/gjson"
)

// Record is one entry of the per-query tool call log.
type Record struct {
	Seq       int             `json:"seq"`
	Tool      string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	Query     string          `json:"query,omitempty"`
	// Slot is the governor slot; zero when the call was denied or rejected before acquiring.
	Slot      int       `json:"slot,omitempty"`
	Denied    bool      `json:"denied,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	GuardrailBudgetExceeded     = "budget_exceeded"
	GuardrailValidationRejected = "validation_rejected"
)

// GuardrailEvent records a denial or rejection the model had to recover from.
type GuardrailEvent struct {
	Kind      string    `json:"kind"`
	Tool      string    `json:"tool_name"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Scope is the state owned by exactly one query of one agent. It is built
// fresh for every query and dropped when the query returns.
type Scope struct {
	Governor *governor.Governor

	mu         sync.Mutex
	records    []Record
	guardrails []GuardrailEvent
	sources    []string
	seen       map[string]struct{}
	now        func() time.Time
}

func NewScope(g *governor.Governor) *Scope {
	return &Scope{Governor: g, seen: map[string]struct{}{}, now: time.Now}
}

// begin appends a record in invocation order and returns its index.
func (s *Scope) begin(tool string, args json.RawMessage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := Record{
		Seq:       len(s.records) + 1,
		Tool:      tool,
		Arguments: slices.Clone(args),
		Query:     gjson.GetBytes(args, "query").String(),
		Timestamp: s.now(),
	}
	s.records = append(s.records, rec)
	return len(s.records) - 1
}

func (s *Scope) settle(idx, slot int, denied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[idx].Slot = slot
	s.records[idx].Denied = denied
}

func (s *Scope) guardrail(kind, tool, reason, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guardrails = append(s.guardrails, GuardrailEvent{
		Kind: kind, Tool: tool, Reason: reason, Detail: detail, Timestamp: s.now(),
	})
}

func (s *Scope) addSources(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.sources = append(s.sources, id)
	}
}

// Records returns a copy of the call log in invocation order.
func (s *Scope) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Accepted returns the calls that were granted a slot.
func (s *Scope) Accepted() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Slot > 0 {
			out = append(out, r)
		}
	}
	return out
}

func (s *Scope) Guardrails() []GuardrailEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.guardrails)
}

// Sources lists source ids seen in tool results, first occurrence first.
func (s *Scope) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sources)
}
