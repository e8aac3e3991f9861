package domain

import "context"

// Rule defines an evaluation executed within a transaction boundary, after
// the mutation function has run and before the state is committed. Evaluate
// runs under the store's write lock; any ledger call it makes must use ctx.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
