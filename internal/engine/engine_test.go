package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

type fakeRuleSource struct {
	rules []domain.EscalationRule
	err   error
}

func (f *fakeRuleSource) GetActiveRules(ctx context.Context) ([]domain.EscalationRule, error) {
	return f.rules, f.err
}

type fakeHistoryStore struct {
	mu       sync.Mutex
	rows     []domain.EscalationHistory
	recordFn func(ctx context.Context, row *domain.EscalationHistory) error
}

func (f *fakeHistoryStore) FiredActionIDs(ctx context.Context, incidentID, ruleID, signature string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, row := range f.rows {
		if row.IncidentID == incidentID && row.RuleID != nil && *row.RuleID == ruleID && row.Signature == signature {
			ids = append(ids, row.ActionID)
		}
	}
	return ids, nil
}

func (f *fakeHistoryStore) Record(ctx context.Context, row *domain.EscalationHistory) error {
	if f.recordFn != nil {
		if err := f.recordFn(ctx, row); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *row)
	return nil
}

func (f *fakeHistoryStore) recorded() []domain.EscalationHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EscalationHistory, len(f.rows))
	copy(out, f.rows)
	return out
}

type fakeNotifier struct {
	enqueueFn func(ctx context.Context, snapshot domain.IncidentSnapshot, rule domain.EscalationRule, action domain.EscalationAction, correlationID string) ([]domain.NotificationHistory, error)
}

func (f *fakeNotifier) EnqueueAction(ctx context.Context, snapshot domain.IncidentSnapshot, rule domain.EscalationRule, action domain.EscalationAction, correlationID string) ([]domain.NotificationHistory, error) {
	if f.enqueueFn == nil {
		return nil, nil
	}
	return f.enqueueFn(ctx, snapshot, rule, action, correlationID)
}

type fakeMutator struct {
	mu       sync.Mutex
	calls    []string
	escalate func(ctx context.Context, incidentID, target string, params map[string]string) error
}

func (f *fakeMutator) record(op, incidentID, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%s:%s", op, incidentID, target))
}

func (f *fakeMutator) Escalate(ctx context.Context, incidentID, target string, params map[string]string) error {
	f.record("escalate", incidentID, target)
	if f.escalate != nil {
		return f.escalate(ctx, incidentID, target, params)
	}
	return nil
}

func (f *fakeMutator) Assign(ctx context.Context, incidentID, target string, params map[string]string) error {
	f.record("assign", incidentID, target)
	return nil
}

func (f *fakeMutator) Custom(ctx context.Context, incidentID, target string, params map[string]string) error {
	f.record("custom", incidentID, target)
	return nil
}

func (f *fakeMutator) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeSnapshotProvider struct {
	snapshots []domain.IncidentSnapshot
	err       error
}

func (f *fakeSnapshotProvider) GetOpenIncidentSnapshots(ctx context.Context) ([]domain.IncidentSnapshot, error) {
	return f.snapshots, f.err
}

func newTestEngine(t *testing.T, rules *fakeRuleSource, history *fakeHistoryStore, notifier *fakeNotifier, mutator *fakeMutator) *Engine {
	t.Helper()
	e, err := NewEngine(rules, history, notifier, mutator, &fakeSnapshotProvider{}, 4, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestEvaluateFiresMatchingRuleOnce(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID:       "rule-1",
			Name:     "critical open incidents",
			IsActive: true,
			Priority: 10,
			TriggerSeverities: []domain.Severity{
				domain.SeverityCritical,
			},
			Actions: []domain.EscalationAction{
				{ID: "action-1", Type: domain.ActionEscalate, Target: "level-2", Position: 0},
			},
		},
	}}
	history := &fakeHistoryStore{}
	mutator := &fakeMutator{}
	e := newTestEngine(t, rules, history, &fakeNotifier{}, mutator)

	outcomes, err := e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Fired {
		t.Fatalf("outcomes = %+v, want one fired outcome", outcomes)
	}

	rows := history.recorded()
	if len(rows) != 1 {
		t.Fatalf("history rows = %d, want 1", len(rows))
	}
	if !rows[0].IsSuccessful || rows[0].RuleName != "critical open incidents" {
		t.Fatalf("unexpected history row %+v", rows[0])
	}
	if rows[0].ExecutedBy != "escalation-engine" {
		t.Fatalf("executedBy = %s", rows[0].ExecutedBy)
	}

	// Second evaluation of the same state is guarded.
	outcomes, err = e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() second pass error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Fired {
		t.Fatalf("second pass outcomes = %+v, want guarded outcome", outcomes)
	}
	if got := len(history.recorded()); got != 1 {
		t.Fatalf("history rows after second pass = %d, want 1", got)
	}
}

func TestEvaluateExecutesRulesInPriorityOrder(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID: "rule-b", Name: "b", IsActive: true, Priority: 20,
			Actions: []domain.EscalationAction{{ID: "a-b", Type: domain.ActionAssign, Target: "team-b"}},
		},
		{
			ID: "rule-c", Name: "c", IsActive: true, Priority: 10,
			Actions: []domain.EscalationAction{{ID: "a-c", Type: domain.ActionAssign, Target: "team-c"}},
		},
		{
			ID: "rule-a", Name: "a", IsActive: true, Priority: 10,
			Actions: []domain.EscalationAction{{ID: "a-a", Type: domain.ActionAssign, Target: "team-a"}},
		},
	}}
	history := &fakeHistoryStore{}
	mutator := &fakeMutator{}
	e := newTestEngine(t, rules, history, &fakeNotifier{}, mutator)

	outcomes, err := e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	gotOrder := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		gotOrder = append(gotOrder, outcome.RuleID)
	}
	wantOrder := []string{"rule-a", "rule-c", "rule-b"}
	if strings.Join(gotOrder, ",") != strings.Join(wantOrder, ",") {
		t.Fatalf("rule order = %v, want %v", gotOrder, wantOrder)
	}

	// Each matching rule leaves its own audit row carrying that rule's name.
	rows := history.recorded()
	if len(rows) != 3 {
		t.Fatalf("history rows = %d, want one per matching rule", len(rows))
	}
	names := make(map[string]bool, len(rows))
	for _, row := range rows {
		names[row.RuleName] = true
	}
	if len(names) != 3 || !names["a"] || !names["b"] || !names["c"] {
		t.Fatalf("recorded rule names = %v, want distinct a, b, c", names)
	}
}

func TestEvaluateResumesMissingActionsAfterInterruption(t *testing.T) {
	t.Parallel()

	rule := domain.EscalationRule{
		ID: "rule-1", Name: "escalate then assign", IsActive: true, Priority: 1,
		Actions: []domain.EscalationAction{
			{ID: "action-1", Type: domain.ActionEscalate, Target: "level-2", Position: 0},
			{ID: "action-2", Type: domain.ActionAssign, Target: "on-call", Position: 1},
		},
	}
	rules := &fakeRuleSource{rules: []domain.EscalationRule{rule}}

	// A prior run recorded the first action and was interrupted before the
	// second executed.
	snapshot := baseSnapshot()
	ruleID := rule.ID
	history := &fakeHistoryStore{rows: []domain.EscalationHistory{
		{
			ID:           "hist-1",
			IncidentID:   snapshot.ID,
			RuleID:       &ruleID,
			RuleName:     rule.Name,
			Signature:    Signature(rule, snapshot),
			ActionID:     "action-1",
			ActionType:   domain.ActionEscalate,
			IsSuccessful: true,
		},
	}}
	mutator := &fakeMutator{}
	e := newTestEngine(t, rules, history, &fakeNotifier{}, mutator)

	outcomes, err := e.Evaluate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Fired {
		t.Fatalf("outcomes = %+v, want one resumed firing", outcomes)
	}
	if len(outcomes[0].Actions) != 1 || outcomes[0].Actions[0].ActionID != "action-2" {
		t.Fatalf("actions = %+v, want only the missing action", outcomes[0].Actions)
	}

	calls := mutator.recorded()
	if len(calls) != 1 || calls[0] != "assign:"+snapshot.ID+":on-call" {
		t.Fatalf("mutator calls = %v, want only the missing assign", calls)
	}
	if got := len(history.recorded()); got != 2 {
		t.Fatalf("history rows = %d, want the prior row plus the resumed action", got)
	}

	// With every action recorded, the rule is fully guarded.
	outcomes, err = e.Evaluate(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Evaluate() second pass error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Fired {
		t.Fatalf("second pass outcomes = %+v, want guarded outcome", outcomes)
	}
	if got := len(history.recorded()); got != 2 {
		t.Fatalf("history rows after second pass = %d, want 2", got)
	}
}

func TestEvaluateIsolatesActionFailures(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID: "rule-1", Name: "two actions", IsActive: true, Priority: 1,
			Actions: []domain.EscalationAction{
				{ID: "action-1", Type: domain.ActionEscalate, Target: "level-2", Position: 0},
				{ID: "action-2", Type: domain.ActionAssign, Target: "on-call", Position: 1},
			},
		},
	}}
	history := &fakeHistoryStore{}
	mutator := &fakeMutator{
		escalate: func(ctx context.Context, incidentID, target string, params map[string]string) error {
			return errors.New("incident api unavailable")
		},
	}
	e := newTestEngine(t, rules, history, &fakeNotifier{}, mutator)

	outcomes, err := e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v, action failures must not propagate", err)
	}
	if len(outcomes) != 1 || len(outcomes[0].Actions) != 2 {
		t.Fatalf("outcomes = %+v, want 1 outcome with 2 actions", outcomes)
	}
	if outcomes[0].Actions[0].Successful {
		t.Fatal("first action should have failed")
	}
	if !outcomes[0].Actions[1].Successful {
		t.Fatal("second action should still run and succeed")
	}

	rows := history.recorded()
	if len(rows) != 2 {
		t.Fatalf("history rows = %d, want one per attempted action", len(rows))
	}
	if rows[0].IsSuccessful || rows[0].ErrorMessage == "" {
		t.Fatalf("failed attempt row = %+v, want isSuccessful=false with message", rows[0])
	}
	if !rows[1].IsSuccessful {
		t.Fatalf("second attempt row = %+v, want success", rows[1])
	}
}

func TestEvaluateStopsRuleOnDuplicateFire(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID: "rule-1", Name: "racing rule", IsActive: true, Priority: 1,
			Actions: []domain.EscalationAction{
				{ID: "action-1", Type: domain.ActionAssign, Target: "on-call", Position: 0},
				{ID: "action-2", Type: domain.ActionAssign, Target: "manager", Position: 1},
			},
		},
	}}
	history := &fakeHistoryStore{
		recordFn: func(ctx context.Context, row *domain.EscalationHistory) error {
			return fmt.Errorf("%w: already recorded", domain.ErrDuplicateFire)
		},
	}
	mutator := &fakeMutator{}
	e := newTestEngine(t, rules, history, &fakeNotifier{}, mutator)

	outcomes, err := e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v, duplicate fire must be benign", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	// The racing evaluation owns the firing: only the first action was
	// attempted before the duplicate surfaced.
	if got := len(mutator.recorded()); got != 1 {
		t.Fatalf("mutator calls = %d, want 1", got)
	}
}

func TestEvaluatePropagatesRuleSourceFailure(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{err: errors.New("connection refused")}
	e := newTestEngine(t, rules, &fakeHistoryStore{}, &fakeNotifier{}, &fakeMutator{})

	if _, err := e.Evaluate(context.Background(), baseSnapshot()); err == nil {
		t.Fatal("Evaluate() expected error when rule source fails")
	}
}

func TestEvaluateSkipsInactiveRules(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID: "rule-1", Name: "disabled", IsActive: false, Priority: 1,
			Actions: []domain.EscalationAction{{ID: "action-1", Type: domain.ActionAssign, Target: "on-call"}},
		},
	}}
	history := &fakeHistoryStore{}
	e := newTestEngine(t, rules, history, &fakeNotifier{}, &fakeMutator{})

	outcomes, err := e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none for inactive rule", outcomes)
	}
}

func TestEvaluateNotifyActionQueuesNotifications(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID: "rule-1", Name: "notify safety", IsActive: true, Priority: 1,
			Actions: []domain.EscalationAction{
				{
					ID: "action-1", Type: domain.ActionNotify, Target: "safety-team",
					TemplateID: "incident-alert",
					Channels:   []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
				},
			},
		},
	}}
	history := &fakeHistoryStore{}
	notifier := &fakeNotifier{
		enqueueFn: func(ctx context.Context, snapshot domain.IncidentSnapshot, rule domain.EscalationRule, action domain.EscalationAction, correlationID string) ([]domain.NotificationHistory, error) {
			if correlationID == "" {
				t.Error("correlation id should be generated")
			}
			return []domain.NotificationHistory{{ID: "n-1"}, {ID: "n-2"}}, nil
		},
	}
	e := newTestEngine(t, rules, history, notifier, &fakeMutator{})

	outcomes, err := e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !outcomes[0].Actions[0].Successful {
		t.Fatalf("notify action = %+v, want success", outcomes[0].Actions[0])
	}

	rows := history.recorded()
	if len(rows) != 1 || rows[0].ActionDetails != "queued 2 notifications" {
		t.Fatalf("history rows = %+v, want queued details", rows)
	}
}

func TestEvaluateDefersDelayedNonNotifyAction(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID: "rule-1", Name: "deferred escalate", IsActive: true, Priority: 1,
			Actions: []domain.EscalationAction{
				{ID: "action-1", Type: domain.ActionEscalate, Target: "level-2", Delay: 10 * time.Millisecond},
			},
		},
	}}
	history := &fakeHistoryStore{}
	executed := make(chan struct{})
	mutator := &fakeMutator{
		escalate: func(ctx context.Context, incidentID, target string, params map[string]string) error {
			close(executed)
			return nil
		},
	}
	e := newTestEngine(t, rules, history, &fakeNotifier{}, mutator)

	outcomes, err := e.Evaluate(context.Background(), baseSnapshot())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !outcomes[0].Actions[0].Deferred {
		t.Fatalf("action result = %+v, want deferred", outcomes[0].Actions[0])
	}
	if got := len(history.recorded()); got != 0 {
		t.Fatalf("history rows before delay = %d, want 0", got)
	}

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred action did not execute")
	}
	e.Drain()

	if got := len(history.recorded()); got != 1 {
		t.Fatalf("history rows after delay = %d, want 1", got)
	}
}

func TestSweepEvaluatesAllOpenIncidents(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleSource{rules: []domain.EscalationRule{
		{
			ID: "rule-1", Name: "assign all", IsActive: true, Priority: 1,
			Actions: []domain.EscalationAction{{ID: "action-1", Type: domain.ActionAssign, Target: "on-call"}},
		},
	}}
	history := &fakeHistoryStore{}
	mutator := &fakeMutator{}
	first := baseSnapshot()
	second := baseSnapshot()
	second.ID = "inc-2"
	snapshots := &fakeSnapshotProvider{snapshots: []domain.IncidentSnapshot{first, second}}

	e, err := NewEngine(rules, history, &fakeNotifier{}, mutator, snapshots, 2, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if got := len(history.recorded()); got != 2 {
		t.Fatalf("history rows = %d, want one per incident", got)
	}
}

func TestSweepPropagatesProviderFailure(t *testing.T) {
	t.Parallel()

	snapshots := &fakeSnapshotProvider{err: errors.New("incident api down")}
	e, err := NewEngine(&fakeRuleSource{}, &fakeHistoryStore{}, &fakeNotifier{}, &fakeMutator{}, snapshots, 2, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if err := e.Sweep(context.Background()); err == nil {
		t.Fatal("Sweep() expected error when snapshot provider fails")
	}
}
