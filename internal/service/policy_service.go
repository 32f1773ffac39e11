// Package service contains application services.
package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/rpcgate/rpcgate/internal/adapter/outbound/cel"
	"github.com/rpcgate/rpcgate/internal/domain/policy"
)

// CompiledRule represents a pre-compiled call-policy rule ready for evaluation.
type CompiledRule struct {
	Name    string
	Program cel.Program
	Action  policy.Action
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for CEL evaluation results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit, (zero, false) on miss.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision in the cache. If at capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey generates a unique hash for the evaluation context.
func computeCacheKey(evalCtx policy.EvaluationContext) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(evalCtx.Method)
	_, _ = h.Write([]byte{0}) // separator
	_, _ = h.WriteString(evalCtx.Transport)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(evalCtx.Origin)
	return h.Sum64()
}

// PolicyService evaluates CEL-based call-policy rules. Rules are compiled
// once at construction and evaluated in configuration order; the first rule
// whose condition holds decides. An empty rule set allows every call.
//
// The compiled rule set is immutable after construction, so Evaluate needs
// no locking on the rule path; only the decision cache synchronizes.
type PolicyService struct {
	evaluator *celeval.Evaluator
	rules     []CompiledRule
	cache     *ResultCache
	logger    *slog.Logger
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// NewPolicyService compiles the given rules and returns a ready evaluator.
// A rule that fails to compile aborts startup with an error.
func NewPolicyService(rules []policy.Rule, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &PolicyService{
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	compiled, err := s.compileRules(rules)
	if err != nil {
		return nil, err
	}
	s.rules = compiled

	logger.Info("call policy initialized", "rules_compiled", len(compiled), "cache_max_size", s.cache.maxSize)
	return s, nil
}

// compileRules validates and compiles CEL expressions in configuration order.
func (s *PolicyService) compileRules(rules []policy.Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))
	for _, rule := range rules {
		if err := s.evaluator.ValidateExpression(rule.Condition); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		prg, err := s.evaluator.Compile(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %q: %w", rule.Name, err)
		}
		compiled = append(compiled, CompiledRule{
			Name:    rule.Name,
			Program: prg,
			Action:  rule.Action,
		})
	}
	return compiled, nil
}

// RuleCount returns the number of compiled rules.
func (s *PolicyService) RuleCount() int {
	return len(s.rules)
}

// Evaluate decides whether the call described by evalCtx is permitted.
// A rule whose condition errors at runtime is skipped (logged once per
// occurrence); when no rule matches, the call is allowed.
func (s *PolicyService) Evaluate(evalCtx policy.EvaluationContext) policy.Decision {
	if len(s.rules) == 0 {
		return policy.Decision{Allowed: true}
	}

	key := computeCacheKey(evalCtx)
	if d, ok := s.cache.Get(key); ok {
		return d
	}

	decision := policy.Decision{Allowed: true}
	for i := range s.rules {
		rule := &s.rules[i]
		match, err := s.evaluator.Evaluate(rule.Program, evalCtx)
		if err != nil {
			s.logger.Warn("policy rule evaluation failed, skipping rule",
				"rule", rule.Name, "method", evalCtx.Method, "error", err)
			continue
		}
		if match {
			decision = policy.Decision{
				Allowed:  rule.Action == policy.ActionAllow,
				RuleName: rule.Name,
			}
			break
		}
	}

	s.cache.Put(key, decision)
	return decision
}
