package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safetyhub/escalation-engine/internal/domain"
	"github.com/safetyhub/escalation-engine/internal/incident"
	"github.com/safetyhub/escalation-engine/internal/observability"
	"go.uber.org/zap"
)

const executedBySystem = "escalation-engine"

// RuleSource supplies active escalation rules. Implementations must order by
// priority ascending with id ascending as tie-break; the engine re-sorts
// defensively so the ordering contract holds regardless of source.
type RuleSource interface {
	GetActiveRules(ctx context.Context) ([]domain.EscalationRule, error)
}

// HistoryStore is the append-only escalation audit store and fire guard.
// Record must enforce uniqueness on (incident, rule, signature, action) and
// surface violations as domain.ErrDuplicateFire. FiredActionIDs reports the
// per-action guard state: a subset of a rule's actions means a prior run was
// interrupted before its deferred actions executed, and only the missing
// actions run on resume.
type HistoryStore interface {
	FiredActionIDs(ctx context.Context, incidentID, ruleID, signature string) ([]string, error)
	Record(ctx context.Context, row *domain.EscalationHistory) error
}

// Notifier hands NOTIFY actions to the dispatch pipeline. Implementations
// must not block on channel transport.
type Notifier interface {
	EnqueueAction(ctx context.Context, snapshot domain.IncidentSnapshot, rule domain.EscalationRule, action domain.EscalationAction, correlationID string) ([]domain.NotificationHistory, error)
}

// Outcome summarizes one rule's evaluation for one incident.
type Outcome struct {
	RuleID    string
	RuleName  string
	Signature string
	Fired     bool
	Actions   []ActionResult
}

// ActionResult summarizes one action execution attempt.
type ActionResult struct {
	ActionID   string
	Type       domain.ActionType
	Target     string
	Successful bool
	Deferred   bool
	Error      string
}

// Engine orchestrates rule evaluation per incident: it selects matching,
// not-yet-fired rules, executes their actions in declared order with
// per-action failure isolation, and writes the audit trail.
type Engine struct {
	rules       RuleSource
	history     HistoryStore
	notifier    Notifier
	mutator     incident.Mutator
	snapshots   incident.SnapshotProvider
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	interval    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	deferCtx context.Context
	deferred sync.WaitGroup
}

func NewEngine(
	rules RuleSource,
	history HistoryStore,
	notifier Notifier,
	mutator incident.Mutator,
	snapshots incident.SnapshotProvider,
	concurrency int,
	sweepInterval time.Duration,
	logger *zap.Logger,
) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		rules:       rules,
		history:     history,
		notifier:    notifier,
		mutator:     mutator,
		snapshots:   snapshots,
		logger:      logger,
		concurrency: concurrency,
		interval:    sweepInterval,
		now:         time.Now,
	}, nil
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Evaluate runs every active rule against one incident snapshot. Action and
// dispatch failures are isolated and recorded; only rule-source or
// audit-store failures abort the call.
func (e *Engine) Evaluate(ctx context.Context, snapshot domain.IncidentSnapshot) ([]Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := e.now()
	rules, err := e.rules.GetActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active rules: %w", err)
	}

	ordered := make([]domain.EscalationRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	now := e.now()
	outcomes := make([]Outcome, 0, len(ordered))
	for _, rule := range ordered {
		if !rule.IsActive || !Matches(rule, snapshot, now) {
			continue
		}
		if e.metrics != nil {
			e.metrics.IncRuleMatched()
		}

		signature := Signature(rule, snapshot)
		firedIDs, err := e.history.FiredActionIDs(ctx, snapshot.ID, rule.ID, signature)
		if err != nil {
			return nil, fmt.Errorf("fire-guard lookup failed: %w", err)
		}
		fired := make(map[string]bool, len(firedIDs))
		for _, id := range firedIDs {
			fired[id] = true
		}

		outcome := Outcome{RuleID: rule.ID, RuleName: rule.Name, Signature: signature}
		if len(fired) > 0 && allActionsFired(rule.Actions, fired) {
			outcomes = append(outcomes, outcome)
			continue
		}

		results, err := e.executeRule(ctx, rule, snapshot, signature, fired)
		if err != nil {
			return nil, err
		}
		outcome.Fired = true
		outcome.Actions = results
		outcomes = append(outcomes, outcome)
		if e.metrics != nil {
			e.metrics.IncRuleFired()
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveEvaluationDuration(e.now().Sub(start))
	}
	return outcomes, nil
}

// allActionsFired reports whether every action of the rule already has its
// audit row for this signature.
func allActionsFired(actions []domain.EscalationAction, fired map[string]bool) bool {
	for _, action := range actions {
		if !fired[action.ID] {
			return false
		}
	}
	return true
}

// executeRule runs the rule's actions in declared order, skipping actions a
// prior interrupted run already recorded.
func (e *Engine) executeRule(ctx context.Context, rule domain.EscalationRule, snapshot domain.IncidentSnapshot, signature string, fired map[string]bool) ([]ActionResult, error) {
	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}

	actions := make([]domain.EscalationAction, len(rule.Actions))
	copy(actions, rule.Actions)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Position < actions[j].Position })

	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		if fired[action.ID] {
			continue
		}
		if action.Type != domain.ActionNotify && action.Delay > 0 {
			e.scheduleDeferred(rule, snapshot, action, signature, correlationID)
			results = append(results, ActionResult{
				ActionID: action.ID,
				Type:     action.Type,
				Target:   action.Target,
				Deferred: true,
			})
			continue
		}

		result, err := e.runAction(ctx, rule, snapshot, action, signature, correlationID)
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateFire) {
				// A racing evaluation of the same incident recorded this
				// firing first; stop here and let its rows stand.
				e.logger.Debug("duplicate fire detected, skipping rule",
					zap.String("incidentId", snapshot.ID),
					zap.String("ruleId", rule.ID),
					zap.String("signature", signature),
				)
				return results, nil
			}
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// runAction executes one action and appends exactly one history row for the
// attempt. Action failures come back inside the ActionResult; the returned
// error is reserved for audit-store failures and duplicate-fire detection.
func (e *Engine) runAction(ctx context.Context, rule domain.EscalationRule, snapshot domain.IncidentSnapshot, action domain.EscalationAction, signature, correlationID string) (ActionResult, error) {
	var execErr error
	details := ""

	switch action.Type {
	case domain.ActionNotify:
		rows, err := e.notifier.EnqueueAction(ctx, snapshot, rule, action, correlationID)
		if err != nil {
			execErr = err
		} else {
			details = fmt.Sprintf("queued %d notifications", len(rows))
		}
	case domain.ActionEscalate:
		execErr = e.mutate(ctx, snapshot.ID, action, incident.Mutator.Escalate)
	case domain.ActionAssign:
		execErr = e.mutate(ctx, snapshot.ID, action, incident.Mutator.Assign)
	case domain.ActionCustom:
		execErr = e.mutate(ctx, snapshot.ID, action, incident.Mutator.Custom)
	default:
		execErr = fmt.Errorf("%w: unsupported action type %q", domain.ErrValidation, action.Type)
	}

	result := ActionResult{
		ActionID:   action.ID,
		Type:       action.Type,
		Target:     action.Target,
		Successful: execErr == nil,
	}
	if execErr != nil {
		result.Error = execErr.Error()
		e.logger.Warn("escalation action failed",
			zap.String("incidentId", snapshot.ID),
			zap.String("ruleId", rule.ID),
			zap.String("actionType", action.Type.String()),
			zap.Error(execErr),
		)
	}
	if e.metrics != nil {
		e.metrics.IncActionExecuted(action.Type.String(), execErr == nil)
	}

	ruleID := rule.ID
	row := &domain.EscalationHistory{
		ID:            uuid.NewString(),
		IncidentID:    snapshot.ID,
		RuleID:        &ruleID,
		RuleName:      rule.Name,
		Signature:     signature,
		ActionID:      action.ID,
		ActionType:    action.Type,
		ActionTarget:  action.Target,
		ActionDetails: details,
		IsSuccessful:  execErr == nil,
		ErrorMessage:  result.Error,
		ExecutedAt:    e.now().UTC(),
		ExecutedBy:    executedBySystem,
		CorrelationID: correlationID,
	}
	if err := e.history.Record(ctx, row); err != nil {
		if errors.Is(err, domain.ErrDuplicateFire) {
			return result, err
		}
		return result, fmt.Errorf("failed to record escalation history: %w", err)
	}

	return result, nil
}

func (e *Engine) mutate(ctx context.Context, incidentID string, action domain.EscalationAction, op func(incident.Mutator, context.Context, string, string, map[string]string) error) error {
	if e.mutator == nil {
		return fmt.Errorf("incident mutator not configured")
	}
	return op(e.mutator, ctx, incidentID, action.Target, action.Parameters)
}

// scheduleDeferred runs a delayed non-notify action on an engine-owned timer
// so it never blocks evaluation of other rules or incidents. The history row
// is written when the action actually executes; a shutdown before the timer
// fires leaves no row for this action, and the next sweep re-runs exactly the
// missing actions through the per-action guard.
func (e *Engine) scheduleDeferred(rule domain.EscalationRule, snapshot domain.IncidentSnapshot, action domain.EscalationAction, signature, correlationID string) {
	ctx := e.lifecycleContext()
	e.deferred.Add(1)
	go func() {
		defer e.deferred.Done()

		timer := time.NewTimer(action.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := e.runAction(ctx, rule, snapshot, action, signature, correlationID); err != nil && !errors.Is(err, domain.ErrDuplicateFire) {
			e.logger.Error("deferred escalation action failed",
				zap.String("incidentId", snapshot.ID),
				zap.String("ruleId", rule.ID),
				zap.Error(err),
			)
		}
	}()
}

func (e *Engine) lifecycleContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deferCtx != nil {
		return e.deferCtx
	}
	return context.Background()
}

func (e *Engine) setLifecycleContext(ctx context.Context) {
	e.mu.Lock()
	e.deferCtx = ctx
	e.mu.Unlock()
}

// Drain waits for in-flight deferred actions after the lifecycle context is
// cancelled.
func (e *Engine) Drain() {
	e.deferred.Wait()
}
