package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tollgate/tollgate/internal/domain/classify"
)

// Evaluator combines a workspace's rules, leases, and the smart-rule
// evaluator into a single decision for a classified tool call. It plays
// the role the teacher's PolicyService plays for CEL rules, generalized
// from a single compiled-program match to this spec's rule/lease
// specificity ranking and smart-rule precedence (spec §4.5).
type Evaluator struct {
	store     Store
	smartEval SmartRuleEvaluator
	logger    *slog.Logger
	cache     *snapshotCache

	// defaultDec is the operator-configured baseline (spec §4.5 step 8).
	defaultDec Decision
	// externalDomainDefault is the decision used in place of defaultDec
	// when no rule/lease candidate matched AND the call carries the
	// external_domain risk flag, but only when that would otherwise make
	// the baseline stricter (spec scenario S3: a permissive baseline still
	// requires approval for an unreviewed external-domain call; a baseline
	// already at deny/approval_required is never loosened by this).
	externalDomainDefault Decision
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithSnapshotTTL sets how long a workspace's rule/lease listing is
// memoized before the evaluator re-reads the store. Zero disables caching.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(e *Evaluator) {
		e.cache = newSnapshotCache(ttl)
	}
}

// WithDefaultDecision overrides the baseline decision returned when no
// rule or lease matches. The spec's baseline default is permissive
// ("Default allow"); operators may configure a stricter default. This
// does not disable the external-domain escalation -- see
// WithExternalDomainDefault.
func WithDefaultDecision(d Decision) Option {
	return func(e *Evaluator) {
		e.defaultDec = d
	}
}

// WithExternalDomainDefault overrides the decision substituted for the
// baseline when a call has no matching rule/lease but is flagged
// external_domain (spec §4.3, scenario S3). Defaults to
// approval_required.
func WithExternalDomainDefault(d Decision) Option {
	return func(e *Evaluator) {
		e.externalDomainDefault = d
	}
}

// NewEvaluator builds an Evaluator backed by store for rule/lease data and
// smartEval for natural-language smart-rule conditions.
func NewEvaluator(store Store, smartEval SmartRuleEvaluator, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     store,
		smartEval: smartEval,
		logger:    logger,
		cache:     newSnapshotCache(0),
		defaultDec: Decision{
			Outcome: DecisionAllowed,
			Reason:  "Default allow",
		},
		externalDomainDefault: Decision{
			Outcome: DecisionApprovalRequired,
			Reason:  "external-domain call with no matching rule or lease",
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolveDefault implements spec §4.5 step 8: the default decision is a
// configurable baseline, but an external-domain call still escalates past
// a permissive baseline even with nothing else to go on. It never
// loosens an already-strict baseline (deny/approval_required).
func (e *Evaluator) resolveDefault(evalCtx EvaluationContext) Decision {
	if evalCtx.RiskFlags.ExternalDomain && e.defaultDec.Outcome == DecisionAllowed {
		return e.externalDomainDefault
	}
	return e.defaultDec
}

// InvalidateWorkspace drops any cached rule/lease snapshot for a
// workspace. Callers should invoke this after SaveRule, DeleteRule,
// SaveLease, or DeleteLease against the same Store.
func (e *Evaluator) InvalidateWorkspace(workspace string) {
	e.cache.invalidate(workspace)
}

// candidate is a matching rule or lease ranked by its specificity key.
type candidate struct {
	specificity [5]int
	createdAt   time.Time
	outcome     DecisionOutcome
	reason      string
	matchedID   string
}

// Evaluate runs the full §4.5 algorithm against a classified tool call.
func (e *Evaluator) Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error) {
	snap, err := e.loadSnapshot(ctx, evalCtx.Workspace)
	if err != nil {
		return Decision{}, fmt.Errorf("load rules/leases: %w", err)
	}

	var smartRules, patternRules []Rule
	for _, r := range snap.rules {
		if !r.Enabled {
			continue
		}
		if r.IsSmart() {
			smartRules = append(smartRules, r)
		} else {
			patternRules = append(patternRules, r)
		}
	}

	if dec, matched := e.evaluateSmartRules(ctx, evalCtx, smartRules); matched {
		return dec, nil
	}

	now := time.Now()
	var candidates []candidate

	for _, r := range patternRules {
		if !ruleMatches(r, evalCtx) {
			continue
		}
		candidates = append(candidates, candidate{
			specificity: ruleSpecificity(r),
			createdAt:   r.CreatedAt,
			outcome:     effectToOutcome(r.Effect),
			reason:      fmt.Sprintf("matched rule %q", ruleLabel(r)),
			matchedID:   r.ID,
		})
	}

	for _, l := range snap.leases {
		if l.Expired(now) {
			continue
		}
		if !leaseMatches(l, evalCtx) {
			continue
		}
		candidates = append(candidates, candidate{
			specificity: leaseSpecificity(l),
			createdAt:   l.CreatedAt,
			outcome:     DecisionAllowed,
			reason:      fmt.Sprintf("matched lease %s", l.ID),
			matchedID:   l.ID,
		})
	}

	if len(candidates) == 0 {
		return e.resolveDefault(evalCtx), nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		for k := 0; k < 5; k++ {
			if a.specificity[k] != b.specificity[k] {
				return a.specificity[k] > b.specificity[k]
			}
		}
		return a.createdAt.After(b.createdAt)
	})

	top := candidates[0]
	return Decision{
		Outcome:   top.outcome,
		Reason:    top.reason,
		MatchedID: top.matchedID,
	}, nil
}

// loadSnapshot returns a workspace's rules and leases, preferring a
// not-yet-expired cached listing over a fresh store read.
func (e *Evaluator) loadSnapshot(ctx context.Context, workspace string) (snapshot, error) {
	now := time.Now()
	if s, ok := e.cache.get(workspace, now); ok {
		return s, nil
	}

	rules, err := e.store.ListEnabledRules(ctx, workspace)
	if err != nil {
		return snapshot{}, fmt.Errorf("list rules: %w", err)
	}
	leases, err := e.store.ListActiveLeases(ctx, workspace)
	if err != nil {
		return snapshot{}, fmt.Errorf("list leases: %w", err)
	}

	s := snapshot{rules: rules, leases: leases, fetchedAt: now}
	e.cache.put(workspace, s)
	return s, nil
}

// evaluateSmartRules runs the cheap scope pre-filter then invokes the
// smart-rule evaluator in parallel for every surviving rule. Per spec
// §4.5 step 3, if any rule's verdict is "matches", the most recently
// created one wins regardless of pattern-rule results.
func (e *Evaluator) evaluateSmartRules(ctx context.Context, evalCtx EvaluationContext, rules []Rule) (Decision, bool) {
	if len(rules) == 0 || e.smartEval == nil {
		return Decision{}, false
	}

	type hit struct {
		rule   Rule
		result SmartRuleVerdict
	}

	var (
		mu   sync.Mutex
		hits []hit
		wg   sync.WaitGroup
	)

	for _, r := range rules {
		if r.UpstreamID != "" && !strings.EqualFold(r.UpstreamID, evalCtx.UpstreamID) {
			continue
		}
		if r.ToolName != "" && !strings.EqualFold(r.ToolName, evalCtx.ToolName) {
			continue
		}

		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdict, err := e.smartEval.Evaluate(ctx, evalCtx.ToolName, evalCtx.Arguments, r.SmartCondition)
			if err != nil {
				e.logger.Warn("smart rule evaluation failed", "rule_id", r.ID, "error", err)
				return
			}
			if !verdict.Matches {
				return
			}
			mu.Lock()
			hits = append(hits, hit{rule: r, result: verdict})
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(hits) == 0 {
		return Decision{}, false
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].rule.CreatedAt.After(hits[j].rule.CreatedAt)
	})
	winner := hits[0]

	reason := winner.result.Reason
	if reason == "" {
		reason = fmt.Sprintf("smart rule %q matched", ruleLabel(winner.rule))
	}

	return Decision{
		Outcome:   effectToOutcome(winner.rule.Effect),
		Reason:    reason,
		MatchedID: winner.rule.ID,
	}, true
}

func ruleLabel(r Rule) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func effectToOutcome(e Effect) DecisionOutcome {
	switch e {
	case EffectAllow:
		return DecisionAllowed
	case EffectDeny:
		return DecisionDenied
	case EffectRequireApproval:
		return DecisionApprovalRequired
	default:
		return DecisionDenied
	}
}

// ruleMatches implements spec §4.5 step 4 for pattern rules.
func ruleMatches(r Rule, ctx EvaluationContext) bool {
	if r.ActionClass != classify.ActionAny && r.ActionClass != ctx.ActionClass {
		return false
	}
	if r.UpstreamID != "" && r.UpstreamID != ctx.UpstreamID {
		return false
	}
	if r.ToolName != "" && !strings.EqualFold(r.ToolName, ctx.ToolName) {
		return false
	}
	if r.Recipient != "" && !strings.EqualFold(r.Recipient, ctx.Resource.Recipient) {
		return false
	}
	if r.DomainPattern != "" && !domainMatches(r.DomainPattern, r.DomainMatchType, ctx.Resource) {
		return false
	}
	return true
}

// leaseMatches implements spec §4.5 step 5; a lease always constrains
// action-class.
func leaseMatches(l Lease, ctx EvaluationContext) bool {
	if l.ActionClass != classify.ActionAny && l.ActionClass != ctx.ActionClass {
		return false
	}
	if l.UpstreamID != "" && l.UpstreamID != ctx.UpstreamID {
		return false
	}
	if l.ToolName != "" && !strings.EqualFold(l.ToolName, ctx.ToolName) {
		return false
	}
	if l.Recipient != "" && !strings.EqualFold(l.Recipient, ctx.Resource.Recipient) {
		return false
	}
	if l.DomainPattern != "" && !domainMatches(l.DomainPattern, l.DomainMatchType, ctx.Resource) {
		return false
	}
	return true
}

// domainMatches compares a rule/lease domain pattern against the context's
// resource domain and URL host under the given match type.
func domainMatches(pattern string, matchType MatchType, res classify.Resource) bool {
	pattern = strings.ToLower(pattern)
	candidates := []string{strings.ToLower(res.Domain), strings.ToLower(res.URLHost), strings.ToLower(res.RecipientDomain)}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		switch matchType {
		case MatchSuffix:
			if candidate == pattern || strings.HasSuffix(candidate, "."+pattern) {
				return true
			}
		default: // MatchExact
			if candidate == pattern {
				return true
			}
		}
	}
	return false
}

// ruleSpecificity computes the 5-tuple specificity key for a pattern rule:
// (tool_name, upstream_id, recipient, domain, action_class != any).
func ruleSpecificity(r Rule) [5]int {
	return [5]int{
		boolInt(r.ToolName != ""),
		boolInt(r.UpstreamID != ""),
		boolInt(r.Recipient != ""),
		boolInt(r.DomainPattern != ""),
		boolInt(r.ActionClass != classify.ActionAny),
	}
}

// leaseSpecificity mirrors ruleSpecificity; leases implicitly constrain
// action-class so that component is always 1.
func leaseSpecificity(l Lease) [5]int {
	return [5]int{
		boolInt(l.ToolName != ""),
		boolInt(l.UpstreamID != ""),
		boolInt(l.Recipient != ""),
		boolInt(l.DomainPattern != ""),
		1,
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
