// Package rules provides the CEL-Go based reason rule engine.
//
// Reason rules annotate flagged accounts with extra reason codes. They are
// boolean CEL expressions over an account's graph facts and never change
// a score.
package rules

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Engine is the CEL-based reason rule engine.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.ReasonRule
	Program cel.Program
}

// Facts are the per-account values exposed to reason rules.
type Facts struct {
	AccountID string
	Score     float64
	InDegree  int
	OutDegree int
	Degree    int
	TotalTx   int

	// Patterns holds reported pattern names, e.g. "cycle" or "fan_in".
	Patterns []string

	// RingID is empty when the account is in no ring.
	RingID string

	// Activity aggregates. A NaN mean or deviation (too few valid amounts)
	// reaches rules as 0, since CEL refuses to order NaN.
	DistinctReceivers int
	SentMean          float64
	SentStd           float64
	ReceivedMean      float64
	ReceivedStd       float64

	// ActiveHours spans the first to the last timestamped row.
	ActiveHours float64
}

// NewEngine creates a new reason rule engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("account_id", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("in_degree", cel.IntType),
		cel.Variable("out_degree", cel.IntType),
		cel.Variable("degree", cel.IntType),
		cel.Variable("total_tx", cel.IntType),
		cel.Variable("patterns", cel.ListType(cel.StringType)),
		cel.Variable("ring_id", cel.StringType),
		cel.Variable("distinct_receivers", cel.IntType),
		cel.Variable("sent_mean", cel.DoubleType),
		cel.Variable("sent_std", cel.DoubleType),
		cel.Variable("received_mean", cel.DoubleType),
		cel.Variable("received_std", cel.DoubleType),
		cel.Variable("active_hours", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg domain.ReasonRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and appends it to the evaluation order.
func (e *Engine) LoadRule(cfg domain.ReasonRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.rules = append(e.rules, compiled)
	return nil
}

// LoadRules compiles and loads the enabled rules of configs in order.
func (e *Engine) LoadRules(configs []domain.ReasonRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules. On a compile error the previous
// rule set stays active.
func (e *Engine) ReloadRules(configs []domain.ReasonRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next = append(next, compiled)
	}

	e.rules = next
	return nil
}

// Evaluate runs every loaded rule against facts in load order and returns
// the reasons of the rules that matched. Rules that fail at runtime are
// skipped; their errors are joined into the returned error while the
// reasons of the other rules are still returned.
func (e *Engine) Evaluate(ctx context.Context, facts Facts) ([]string, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	patterns := facts.Patterns
	if patterns == nil {
		patterns = []string{}
	}
	activation := map[string]any{
		"account_id": facts.AccountID,
		"score":      facts.Score,
		"in_degree":  int64(facts.InDegree),
		"out_degree": int64(facts.OutDegree),
		"degree":     int64(facts.Degree),
		"total_tx":   int64(facts.TotalTx),
		"patterns":   patterns,
		"ring_id":    facts.RingID,

		"distinct_receivers": int64(facts.DistinctReceivers),
		"sent_mean":          finite(facts.SentMean),
		"sent_std":           finite(facts.SentStd),
		"received_mean":      finite(facts.ReceivedMean),
		"received_std":       finite(facts.ReceivedStd),
		"active_hours":       facts.ActiveHours,
	}

	var reasons []string
	var errs []error
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return reasons, err
		}

		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Config.ID, err))
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			reasons = append(reasons, rule.Config.Reason)
		}
	}

	return reasons, errors.Join(errs...)
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the currently loaded rule configurations in order.
func (e *Engine) GetLoadedRules() []domain.ReasonRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.ReasonRule, 0, len(e.rules))
	for _, compiled := range e.rules {
		out = append(out, compiled.Config)
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(cfg domain.ReasonRule) (*CompiledRule, error) {
	if cfg.ID == "" || cfg.Reason == "" {
		return nil, fmt.Errorf("%w: id and reason are required", domain.ErrInvalidRuleInput)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s must return bool, got %s", domain.ErrInvalidRuleInput, cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
