// Package retry implements the stage retry policy engine. The engine is a
// pure function of its inputs: it never inspects clocks, stores, or global
// state, so every decision is independently testable.
package retry

import (
	"time"

	"lettercast/internal/domain"
)

// Stage identifies which pipeline phase is consulting the policy.
type Stage string

const (
	StageCollect  Stage = "collect"
	StageFilter   Stage = "filter"
	StageGenerate Stage = "generate"
	StageDeliver  Stage = "deliver"
)

// Backoff selects how the delay grows with the retry count.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffFixed       Backoff = "fixed"
)

// Rule is one row of the policy table.
type Rule struct {
	MaxRetries int
	Backoff    Backoff
	Base       time.Duration
}

func (r Rule) delay(retryCount int) time.Duration {
	switch r.Backoff {
	case BackoffExponential:
		return r.Base * time.Duration(1<<retryCount)
	case BackoffLinear:
		return r.Base * time.Duration(retryCount+1)
	default:
		return r.Base
	}
}

// Decision is the computed outcome for one (stage, kind, retryCount) input.
type Decision struct {
	Retry          bool
	Delay          time.Duration
	NextRetryCount int
}

type ruleKey struct {
	stage Stage
	kind  domain.ErrorKind
}

// Policy maps (stage, error kind) pairs to rules. Error kinds without a rule
// are non-retryable and therefore terminal for the affected item.
type Policy struct {
	rules map[ruleKey]Rule
}

// Default returns the design-table policy.
func Default() Policy {
	p := Policy{rules: map[ruleKey]Rule{}}
	p.Set(StageCollect, domain.KindMailQuota, Rule{MaxRetries: 3, Backoff: BackoffExponential, Base: 2 * time.Second})
	p.Set(StageCollect, domain.KindSiteUnreachable, Rule{MaxRetries: 2, Backoff: BackoffLinear, Base: 5 * time.Second})
	p.Set(StageFilter, domain.KindSiteUnreachable, Rule{MaxRetries: 2, Backoff: BackoffLinear, Base: 5 * time.Second})
	p.Set(StageGenerate, domain.KindAutomationTimeout, Rule{MaxRetries: 2, Backoff: BackoffFixed, Base: 5 * time.Second})
	p.Set(StageGenerate, domain.KindGenerationTimeout, Rule{MaxRetries: 1, Backoff: BackoffFixed, Base: 30 * time.Second})
	p.Set(StageDeliver, domain.KindTransientSend, Rule{MaxRetries: 3, Backoff: BackoffExponential, Base: 2 * time.Second})
	return p
}

// Set installs or overrides the rule for a (stage, kind) pair.
func (p Policy) Set(stage Stage, kind domain.ErrorKind, r Rule) {
	p.rules[ruleKey{stage, kind}] = r
}

// Rule returns the installed rule for a (stage, kind) pair.
func (p Policy) Rule(stage Stage, kind domain.ErrorKind) (Rule, bool) {
	r, ok := p.rules[ruleKey{stage, kind}]
	return r, ok
}

// Decide maps (stage, error kind, current retry count) to a Decision. Retry
// is false once retryCount reaches the rule's MaxRetries, and always false
// for kinds without a rule. Under exponential backoff the delay is
// monotonically non-decreasing in retryCount.
func (p Policy) Decide(stage Stage, kind domain.ErrorKind, retryCount int) Decision {
	rule, ok := p.rules[ruleKey{stage, kind}]
	if !ok || retryCount >= rule.MaxRetries {
		return Decision{Retry: false, NextRetryCount: retryCount}
	}
	return Decision{
		Retry:          true,
		Delay:          rule.delay(retryCount),
		NextRetryCount: retryCount + 1,
	}
}
