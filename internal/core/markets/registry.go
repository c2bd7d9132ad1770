package markets

import (
	"fmt"
	"sync"
)

// Registry maps between the three identifiers a binary market carries:
// the condition id (market key), and the YES/NO outcome token ids
// (asset ids on the data feed). Order placement addresses tokens, the
// feed addresses assets, positions are keyed by condition and side.
type Registry struct {
	mu          sync.RWMutex
	byCondition map[string]TokenPair
	assetToCond map[string]string
	assetToSide map[string]Side
}

func NewRegistry() *Registry {
	return &Registry{
		byCondition: make(map[string]TokenPair),
		assetToCond: make(map[string]string),
		assetToSide: make(map[string]Side),
	}
}

// Register records a market's token pair, replacing any previous entry
// for the same condition id.
func (r *Registry) Register(pair TokenPair) error {
	if pair.ConditionID == "" || pair.YesToken == "" || pair.NoToken == "" {
		return fmt.Errorf("incomplete token pair for condition %q", pair.ConditionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byCondition[pair.ConditionID]; ok {
		delete(r.assetToCond, old.YesToken)
		delete(r.assetToCond, old.NoToken)
		delete(r.assetToSide, old.YesToken)
		delete(r.assetToSide, old.NoToken)
	}
	r.byCondition[pair.ConditionID] = pair
	r.assetToCond[pair.YesToken] = pair.ConditionID
	r.assetToCond[pair.NoToken] = pair.ConditionID
	r.assetToSide[pair.YesToken] = Yes
	r.assetToSide[pair.NoToken] = No
	return nil
}

// TokenID resolves the asset id used to trade one side of a market.
func (r *Registry) TokenID(conditionID string, side Side) (string, error) {
	r.mu.RLock()
	pair, ok := r.byCondition[conditionID]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("market %s not registered", conditionID)
	}
	return pair.Token(side)
}

// Pair returns the full token pair for a condition id.
func (r *Registry) Pair(conditionID string) (TokenPair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pair, ok := r.byCondition[conditionID]
	return pair, ok
}

// ConditionOf maps a feed asset id back to its market.
func (r *Registry) ConditionOf(assetID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cond, ok := r.assetToCond[assetID]
	return cond, ok
}

// SideOf maps a feed asset id to the outcome side it represents.
func (r *Registry) SideOf(assetID string) (Side, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	side, ok := r.assetToSide[assetID]
	return side, ok
}

// Assets returns every registered outcome token id, for feed
// subscription.
func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.assetToCond))
	for asset := range r.assetToCond {
		out = append(out, asset)
	}
	return out
}

// Conditions returns every registered market id.
func (r *Registry) Conditions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byCondition))
	for cond := range r.byCondition {
		out = append(out, cond)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCondition)
}
