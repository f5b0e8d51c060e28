package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/safetyhub/escalation-engine/internal/domain"
	"github.com/safetyhub/escalation-engine/internal/engine"
	"github.com/safetyhub/escalation-engine/internal/observability"
	"github.com/safetyhub/escalation-engine/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type EvaluationService interface {
	Evaluate(ctx context.Context, snapshot domain.IncidentSnapshot) ([]engine.Outcome, error)
}

type EscalationHistoryLister interface {
	List(ctx context.Context, params repository.EscalationListParams) ([]domain.EscalationHistory, int64, error)
	SummaryByRule(ctx context.Context, since time.Time) ([]repository.RuleFireCount, error)
}

type RuleReader interface {
	GetActiveRules(ctx context.Context) ([]domain.EscalationRule, error)
	GetByID(ctx context.Context, id string) (*domain.EscalationRule, error)
}

type EscalationHandler struct {
	evaluator EvaluationService
	history   EscalationHistoryLister
	rules     RuleReader
}

func NewEscalationHandler(evaluator EvaluationService, history EscalationHistoryLister, rules RuleReader) (*EscalationHandler, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluation service is required")
	}
	if history == nil {
		return nil, fmt.Errorf("escalation history lister is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("rule reader is required")
	}
	return &EscalationHandler{evaluator: evaluator, history: history, rules: rules}, nil
}

func RegisterEscalationRoutes(router fiber.Router, evaluator EvaluationService, history EscalationHistoryLister, rules RuleReader) error {
	h, err := NewEscalationHandler(evaluator, history, rules)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/incidents/:id/evaluate", h.EvaluateIncident)
	v1.Get("/escalations", h.ListEscalations)
	v1.Get("/escalations/summary", h.SummarizeEscalations)
	v1.Get("/rules", h.ListRules)
	v1.Get("/rules/:id", h.GetRule)

	return nil
}

type evaluateRequest struct {
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	Department     string     `json:"department"`
	Location       string     `json:"location"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastResponseAt *time.Time `json:"lastResponseAt,omitempty"`
}

type outcomeResponse struct {
	RuleID   string                 `json:"ruleId"`
	RuleName string                 `json:"ruleName"`
	Fired    bool                   `json:"fired"`
	Actions  []actionResultResponse `json:"actions,omitempty"`
}

type actionResultResponse struct {
	ActionID   string `json:"actionId"`
	Type       string `json:"type"`
	Target     string `json:"target"`
	Successful bool   `json:"successful"`
	Deferred   bool   `json:"deferred,omitempty"`
	Error      string `json:"error,omitempty"`
}

type evaluateResponse struct {
	IncidentID string            `json:"incidentId"`
	Outcomes   []outcomeResponse `json:"outcomes"`
}

type escalationHistoryResponse struct {
	ID            string    `json:"id"`
	IncidentID    string    `json:"incidentId"`
	RuleID        *string   `json:"ruleId,omitempty"`
	RuleName      string    `json:"ruleName"`
	ActionType    string    `json:"actionType"`
	ActionTarget  string    `json:"actionTarget"`
	ActionDetails string    `json:"actionDetails,omitempty"`
	IsSuccessful  bool      `json:"isSuccessful"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	ExecutedAt    time.Time `json:"executedAt"`
	ExecutedBy    string    `json:"executedBy"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

type listEscalationsResponse struct {
	Data []escalationHistoryResponse `json:"data"`
	Meta listMeta                    `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *EscalationHandler) EvaluateIncident(c *fiber.Ctx) error {
	incidentID := strings.TrimSpace(c.Params("id"))
	if incidentID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "incident id is required")
	}

	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	snapshot, err := requestToSnapshot(incidentID, req)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithCorrelationID(c.Context(), requestCorrelationID(c))
	outcomes, err := h.evaluator.Evaluate(ctx, snapshot)
	if err != nil {
		return toHTTPError(err)
	}

	resp := evaluateResponse{IncidentID: incidentID, Outcomes: make([]outcomeResponse, 0, len(outcomes))}
	for _, outcome := range outcomes {
		item := outcomeResponse{
			RuleID:   outcome.RuleID,
			RuleName: outcome.RuleName,
			Fired:    outcome.Fired,
		}
		for _, action := range outcome.Actions {
			item.Actions = append(item.Actions, actionResultResponse{
				ActionID:   action.ActionID,
				Type:       action.Type.String(),
				Target:     action.Target,
				Successful: action.Successful,
				Deferred:   action.Deferred,
				Error:      action.Error,
			})
		}
		resp.Outcomes = append(resp.Outcomes, item)
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *EscalationHandler) ListEscalations(c *fiber.Ctx) error {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)
	if page < 1 {
		return toHTTPError(fmt.Errorf("%w: page must be >= 1", domain.ErrValidation))
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return toHTTPError(fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize))
	}

	params := repository.EscalationListParams{
		IncidentID: strings.TrimSpace(c.Query("incidentId")),
		RuleID:     strings.TrimSpace(c.Query("ruleId")),
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}

	if rawSuccessful := strings.TrimSpace(c.Query("successful")); rawSuccessful != "" {
		switch strings.ToLower(rawSuccessful) {
		case "true":
			value := true
			params.Successful = &value
		case "false":
			value := false
			params.Successful = &value
		default:
			return toHTTPError(fmt.Errorf("%w: successful must be true or false", domain.ErrValidation))
		}
	}

	since, err := parseRFC3339Query(c.Query("since"), "since")
	if err != nil {
		return toHTTPError(err)
	}
	params.Since = since

	rows, total, err := h.history.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]escalationHistoryResponse, 0, len(rows))
	for _, row := range rows {
		data = append(data, escalationHistoryResponse{
			ID:            row.ID,
			IncidentID:    row.IncidentID,
			RuleID:        row.RuleID,
			RuleName:      row.RuleName,
			ActionType:    row.ActionType.String(),
			ActionTarget:  row.ActionTarget,
			ActionDetails: row.ActionDetails,
			IsSuccessful:  row.IsSuccessful,
			ErrorMessage:  row.ErrorMessage,
			ExecutedAt:    row.ExecutedAt,
			ExecutedBy:    row.ExecutedBy,
			CorrelationID: row.CorrelationID,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listEscalationsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

type ruleFireCountResponse struct {
	RuleID    *string   `json:"ruleId,omitempty"`
	RuleName  string    `json:"ruleName"`
	Fired     int64     `json:"fired"`
	Failed    int64     `json:"failed"`
	LastFired time.Time `json:"lastFired"`
}

// SummarizeEscalations aggregates firings per rule over a window, default 24h.
func (h *EscalationHandler) SummarizeEscalations(c *fiber.Ctx) error {
	since, err := parseRFC3339Query(c.Query("since"), "since")
	if err != nil {
		return toHTTPError(err)
	}
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if since != nil {
		cutoff = *since
	}

	counts, err := h.history.SummaryByRule(c.Context(), cutoff)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]ruleFireCountResponse, 0, len(counts))
	for _, count := range counts {
		data = append(data, ruleFireCountResponse{
			RuleID:    count.RuleID,
			RuleName:  count.RuleName,
			Fired:     count.Fired,
			Failed:    count.Failed,
			LastFired: count.LastFired,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"since": cutoff,
		"data":  data,
	})
}

type ruleResponse struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	IsActive            bool                 `json:"isActive"`
	Priority            int                  `json:"priority"`
	TriggerSeverities   []string             `json:"triggerSeverities,omitempty"`
	TriggerStatuses     []string             `json:"triggerStatuses,omitempty"`
	TriggerDepartments  []string             `json:"triggerDepartments,omitempty"`
	TriggerLocations    []string             `json:"triggerLocations,omitempty"`
	TriggerAfterSeconds *int64               `json:"triggerAfterSeconds,omitempty"`
	Actions             []ruleActionResponse `json:"actions"`
}

type ruleActionResponse struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Target       string   `json:"target"`
	TemplateID   string   `json:"templateId,omitempty"`
	Channels     []string `json:"channels,omitempty"`
	DelaySeconds int64    `json:"delaySeconds,omitempty"`
	Position     int      `json:"position"`
}

// ListRules exposes the active rule set read-only; rule authoring stays with
// the surrounding application.
func (h *EscalationHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.rules.GetActiveRules(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		data = append(data, ruleToResponse(&rules[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *EscalationHandler) GetRule(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "rule id is required")
	}

	rule, err := h.rules.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(ruleToResponse(rule))
}

func ruleToResponse(rule *domain.EscalationRule) ruleResponse {
	resp := ruleResponse{
		ID:                 rule.ID,
		Name:               rule.Name,
		Description:        rule.Description,
		IsActive:           rule.IsActive,
		Priority:           rule.Priority,
		TriggerDepartments: rule.TriggerDepartments,
		TriggerLocations:   rule.TriggerLocations,
		Actions:            make([]ruleActionResponse, 0, len(rule.Actions)),
	}
	for _, sev := range rule.TriggerSeverities {
		resp.TriggerSeverities = append(resp.TriggerSeverities, sev.String())
	}
	for _, status := range rule.TriggerStatuses {
		resp.TriggerStatuses = append(resp.TriggerStatuses, status.String())
	}
	if rule.TriggerAfterDuration != nil {
		secs := int64(rule.TriggerAfterDuration.Seconds())
		resp.TriggerAfterSeconds = &secs
	}
	for _, action := range rule.Actions {
		item := ruleActionResponse{
			ID:           action.ID,
			Type:         action.Type.String(),
			Target:       action.Target,
			TemplateID:   action.TemplateID,
			DelaySeconds: int64(action.Delay.Seconds()),
			Position:     action.Position,
		}
		for _, ch := range action.Channels {
			item.Channels = append(item.Channels, ch.String())
		}
		resp.Actions = append(resp.Actions, item)
	}
	return resp
}

func requestToSnapshot(incidentID string, req evaluateRequest) (domain.IncidentSnapshot, error) {
	severity, err := domain.ParseSeverityFromString(req.Severity)
	if err != nil {
		return domain.IncidentSnapshot{}, err
	}
	status, err := domain.ParseIncidentStatusFromString(req.Status)
	if err != nil {
		return domain.IncidentSnapshot{}, err
	}
	if req.CreatedAt.IsZero() {
		return domain.IncidentSnapshot{}, fmt.Errorf("%w: createdAt is required", domain.ErrValidation)
	}

	return domain.IncidentSnapshot{
		ID:             incidentID,
		Severity:       severity,
		Status:         status,
		Department:     strings.TrimSpace(req.Department),
		Location:       strings.TrimSpace(req.Location),
		CreatedAt:      req.CreatedAt,
		LastResponseAt: req.LastResponseAt,
	}, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
