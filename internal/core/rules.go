package core

import "medichain/pkg/domain"

type (
	// Rule aliases domain.Rule.
	Rule = domain.Rule
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
)

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in invariant set:
// transition legality, history integrity and inventory consistency.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(BatchTransitionRule())
	engine.Register(HistoryIntegrityRule())
	engine.Register(InventoryConsistencyRule())
	return engine
}
