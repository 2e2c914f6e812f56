package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"

	"agents/sentinel-sensor/internal/logging"
)

type compiledRule struct {
	policy Policy
	re     *regexp.Regexp
}

// ruleSet is never modified after it is published.
type ruleSet struct {
	version string
	rules   []compiledRule
	total   int
}

// Store holds the active rule set. Update publishes a complete new set with a
// single pointer swap, so Match only ever sees a whole set.
type Store struct {
	current atomic.Pointer[ruleSet]
	logger  *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Store{logger: logger.With("component", "policy")}
	s.current.Store(&ruleSet{})
	return s
}

// Update replaces the active rules with policies, in order. Rules whose
// pattern is empty or does not compile are left out of the new set and
// reported as *PolicyError; the remaining rules are still installed.
func (s *Store) Update(policies []Policy, version string) []error {
	next := &ruleSet{
		version: version,
		rules:   make([]compiledRule, 0, len(policies)),
		total:   len(policies),
	}

	var errs []error
	for i, p := range policies {
		re, err := compile(p.Pattern)
		if err != nil {
			perr := &PolicyError{Index: i, Policy: p.Label(), Err: err}
			s.logger.Warn("skipping policy", "error", perr)
			errs = append(errs, perr)
			continue
		}
		next.rules = append(next.rules, compiledRule{policy: p, re: re})
	}

	s.current.Store(next)
	s.logger.Info("policies synced", "rules", len(next.rules), "rejected", len(errs), "version", version)
	return errs
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, errors.New("empty pattern")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return re, nil
}

// Match returns the first rule, in stored order, whose pattern matches
// content (case-insensitive). Later rules are not evaluated.
func (s *Store) Match(content string) (Policy, bool) {
	set := s.current.Load()
	for i := range set.rules {
		if s.evaluate(&set.rules[i], content) {
			return set.rules[i].policy, true
		}
	}
	return Policy{}, false
}

func (s *Store) evaluate(rule *compiledRule, content string) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("policy evaluation panicked", "policy", rule.policy.Label(), "panic", r)
			matched = false
		}
	}()
	return rule.re.MatchString(content)
}

// Len is the number of usable rules in the active set.
func (s *Store) Len() int {
	return len(s.current.Load().rules)
}

// Version is the HQ policy version of the active set, if HQ sent one.
func (s *Store) Version() string {
	return s.current.Load().version
}

// Policies returns a copy of the usable rules in match order.
func (s *Store) Policies() []Policy {
	set := s.current.Load()
	out := make([]Policy, len(set.rules))
	for i, r := range set.rules {
		out[i] = r.policy
	}
	return out
}
