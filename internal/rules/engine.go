package rules

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Urgency levels for rule matches, ordered from informational to critical.
const (
	UrgencyInfo     = "info"
	UrgencyWarning  = "warning"
	UrgencyCritical = "critical"
)

// Op is a comparison operator applied to one extracted field.
type Op string

const (
	OpExists   Op = "exists"
	OpMissing  Op = "missing"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpContains Op = "contains"
	OpEq       Op = "eq"
)

// Rule is one categorization or validation check over extracted data.
type Rule struct {
	ID      string
	Field   string
	Op      Op
	Value   any
	Urgency string
	Message string
	// Notify marks matches that should fan out to alert-dispatch.
	Notify bool
}

// Match is a rule that fired against a document.
type Match struct {
	RuleID  string
	Field   string
	Urgency string
	Message string
	Notify  bool
}

// Engine evaluates a fixed rule set against extracted document data.
type Engine struct {
	rules  []Rule
	logger *slog.Logger
}

func NewEngine(rules []Rule, logger *slog.Logger) *Engine {
	return &Engine{rules: rules, logger: logger}
}

// Apply evaluates every rule and returns the matches in rule order.
func (e *Engine) Apply(data map[string]any) []Match {
	var matches []Match
	for _, r := range e.rules {
		if !evaluate(r, data) {
			continue
		}
		e.logger.Debug("rule matched", "rule", r.ID, "field", r.Field, "urgency", r.Urgency)
		matches = append(matches, Match{
			RuleID:  r.ID,
			Field:   r.Field,
			Urgency: r.Urgency,
			Message: r.Message,
			Notify:  r.Notify,
		})
	}
	return matches
}

// NotifiableMatches filters matches down to the levels that warrant alerting.
func NotifiableMatches(matches []Match, urgencyLevels []string) []Match {
	wanted := make(map[string]bool, len(urgencyLevels))
	for _, u := range urgencyLevels {
		wanted[u] = true
	}
	var out []Match
	for _, m := range matches {
		if m.Notify && (len(wanted) == 0 || wanted[m.Urgency]) {
			out = append(out, m)
		}
	}
	return out
}

func evaluate(r Rule, data map[string]any) bool {
	v, ok := data[r.Field]
	switch r.Op {
	case OpExists:
		return ok && v != nil && fmt.Sprint(v) != ""
	case OpMissing:
		return !ok || v == nil || fmt.Sprint(v) == ""
	case OpContains:
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(r.Value)))
	case OpEq:
		if !ok {
			return false
		}
		if a, aok := asFloat(v); aok {
			if b, bok := asFloat(r.Value); bok {
				return a == b
			}
		}
		return fmt.Sprint(v) == fmt.Sprint(r.Value)
	case OpGt, OpLt:
		if !ok {
			return false
		}
		a, aok := asFloat(v)
		b, bok := asFloat(r.Value)
		if !aok || !bok {
			return false
		}
		if r.Op == OpGt {
			return a > b
		}
		return a < b
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// DefaultRules covers the common validations for procurement documents.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:      "missing-amount",
			Field:   "amount",
			Op:      OpMissing,
			Urgency: UrgencyWarning,
			Message: "document has no recognizable amount",
			Notify:  true,
		},
		{
			ID:      "missing-reference",
			Field:   "invoiceNumber",
			Op:      OpMissing,
			Urgency: UrgencyInfo,
			Message: "document has no invoice or announcement number",
		},
		{
			ID:      "large-amount",
			Field:   "amount",
			Op:      OpGt,
			Value:   1_000_000.0,
			Urgency: UrgencyCritical,
			Message: "amount exceeds the review threshold",
			Notify:  true,
		},
		{
			ID:      "deadline-present",
			Field:   "deadline",
			Op:      OpExists,
			Urgency: UrgencyWarning,
			Message: "submission deadline detected",
			Notify:  true,
		},
		{
			ID:      "tenge-currency",
			Field:   "currency",
			Op:      OpEq,
			Value:   "KZT",
			Urgency: UrgencyInfo,
			Message: "tender amount denominated in tenge",
		},
	}
}
