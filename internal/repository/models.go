package repository

import (
	"encoding/json"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

// RuleModel is the persistence model for the escalation_rules table. Trigger
// sets are typed in memory and serialized to JSON text only here, at the
// storage boundary.
type RuleModel struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	Name               string `gorm:"type:varchar(255);not null"`
	Description        string `gorm:"type:text"`
	IsActive           bool   `gorm:"not null;default:true"`
	TriggerSeverities  string `gorm:"type:text"`
	TriggerStatuses    string `gorm:"type:text"`
	TriggerDepartments string `gorm:"type:text"`
	TriggerLocations   string `gorm:"type:text"`
	TriggerAfterSecs   *int64
	Priority           int           `gorm:"not null;default:100"`
	Actions            []ActionModel `gorm:"foreignKey:RuleID"`
	CreatedBy          string        `gorm:"type:varchar(64)"`
	CreatedAt          time.Time
	UpdatedBy          string `gorm:"type:varchar(64)"`
	UpdatedAt          time.Time
}

func (RuleModel) TableName() string {
	return "escalation_rules"
}

// ActionModel is the persistence model for escalation_actions.
type ActionModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	RuleID     string            `gorm:"type:uuid;not null"`
	Type       domain.ActionType `gorm:"type:varchar(16);not null"`
	Target     string            `gorm:"type:varchar(255);not null"`
	TemplateID string            `gorm:"type:varchar(64)"`
	Parameters string            `gorm:"type:text"`
	DelaySecs  int64             `gorm:"not null;default:0"`
	Channels   string            `gorm:"type:text"`
	Position   int               `gorm:"not null;default:0"`
}

func (ActionModel) TableName() string {
	return "escalation_actions"
}

// EscalationHistoryModel is the persistence model for escalation_history.
// RuleID has ON DELETE SET NULL so audit rows outlive rule deletion; the
// rule-name snapshot keeps them readable.
type EscalationHistoryModel struct {
	ID            string            `gorm:"type:uuid;primaryKey"`
	IncidentID    string            `gorm:"type:varchar(64);not null"`
	RuleID        *string           `gorm:"type:uuid"`
	RuleName      string            `gorm:"type:varchar(255);not null"`
	Signature     string            `gorm:"type:varchar(32);not null"`
	ActionID      string            `gorm:"type:uuid;not null"`
	ActionType    domain.ActionType `gorm:"type:varchar(16);not null"`
	ActionTarget  string            `gorm:"type:varchar(255);not null"`
	ActionDetails string            `gorm:"type:text"`
	IsSuccessful  bool              `gorm:"not null"`
	ErrorMessage  string            `gorm:"type:text"`
	ExecutedAt    time.Time         `gorm:"not null"`
	ExecutedBy    string            `gorm:"type:varchar(64);not null"`
	CorrelationID string            `gorm:"type:varchar(36)"`
}

func (EscalationHistoryModel) TableName() string {
	return "escalation_history"
}

// NotificationHistoryModel is the persistence model for notification_history.
type NotificationHistoryModel struct {
	ID                string                    `gorm:"type:uuid;primaryKey"`
	IncidentID        string                    `gorm:"type:varchar(64);not null"`
	RecipientID       string                    `gorm:"type:varchar(64);not null"`
	RecipientType     string                    `gorm:"type:varchar(32)"`
	TemplateID        string                    `gorm:"type:varchar(64)"`
	Channel           domain.Channel            `gorm:"type:varchar(10);not null"`
	Priority          domain.Priority           `gorm:"type:varchar(10);not null"`
	Subject           string                    `gorm:"type:text"`
	Content           string                    `gorm:"type:text"`
	Status            domain.NotificationStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage      string                    `gorm:"type:text"`
	ProviderMessageID *string                   `gorm:"type:varchar(255)"`
	ScheduledAt       *time.Time                `gorm:"type:timestamptz"`
	SendingAt         *time.Time                `gorm:"type:timestamptz"`
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	RetryOf           *string `gorm:"type:uuid"`
	Metadata          string  `gorm:"type:text"`
	CorrelationID     string  `gorm:"type:varchar(36)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (NotificationHistoryModel) TableName() string {
	return "notification_history"
}

func ruleModelToDomain(m *RuleModel) *domain.EscalationRule {
	if m == nil {
		return nil
	}

	rule := &domain.EscalationRule{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		IsActive:    m.IsActive,
		Priority:    m.Priority,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedBy:   m.UpdatedBy,
		UpdatedAt:   m.UpdatedAt,
	}
	unmarshalList(m.TriggerSeverities, &rule.TriggerSeverities)
	unmarshalList(m.TriggerStatuses, &rule.TriggerStatuses)
	unmarshalList(m.TriggerDepartments, &rule.TriggerDepartments)
	unmarshalList(m.TriggerLocations, &rule.TriggerLocations)
	if m.TriggerAfterSecs != nil {
		d := time.Duration(*m.TriggerAfterSecs) * time.Second
		rule.TriggerAfterDuration = &d
	}
	rule.Actions = make([]domain.EscalationAction, 0, len(m.Actions))
	for i := range m.Actions {
		rule.Actions = append(rule.Actions, *actionModelToDomain(&m.Actions[i]))
	}
	return rule
}

func ruleModelFromDomain(r *domain.EscalationRule) *RuleModel {
	if r == nil {
		return nil
	}

	m := &RuleModel{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		IsActive:           r.IsActive,
		TriggerSeverities:  marshalList(r.TriggerSeverities),
		TriggerStatuses:    marshalList(r.TriggerStatuses),
		TriggerDepartments: marshalList(r.TriggerDepartments),
		TriggerLocations:   marshalList(r.TriggerLocations),
		Priority:           r.Priority,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt,
		UpdatedBy:          r.UpdatedBy,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.TriggerAfterDuration != nil {
		secs := int64(r.TriggerAfterDuration.Seconds())
		m.TriggerAfterSecs = &secs
	}
	m.Actions = make([]ActionModel, 0, len(r.Actions))
	for i := range r.Actions {
		m.Actions = append(m.Actions, *actionModelFromDomain(&r.Actions[i]))
	}
	return m
}

func actionModelToDomain(m *ActionModel) *domain.EscalationAction {
	if m == nil {
		return nil
	}

	action := &domain.EscalationAction{
		ID:         m.ID,
		RuleID:     m.RuleID,
		Type:       m.Type,
		Target:     m.Target,
		TemplateID: m.TemplateID,
		Delay:      time.Duration(m.DelaySecs) * time.Second,
		Position:   m.Position,
	}
	unmarshalMap(m.Parameters, &action.Parameters)
	unmarshalList(m.Channels, &action.Channels)
	return action
}

func actionModelFromDomain(a *domain.EscalationAction) *ActionModel {
	if a == nil {
		return nil
	}

	return &ActionModel{
		ID:         a.ID,
		RuleID:     a.RuleID,
		Type:       a.Type,
		Target:     a.Target,
		TemplateID: a.TemplateID,
		Parameters: marshalMap(a.Parameters),
		DelaySecs:  int64(a.Delay.Seconds()),
		Channels:   marshalList(a.Channels),
		Position:   a.Position,
	}
}

func escalationHistoryModelFromDomain(h *domain.EscalationHistory) *EscalationHistoryModel {
	if h == nil {
		return nil
	}

	return &EscalationHistoryModel{
		ID:            h.ID,
		IncidentID:    h.IncidentID,
		RuleID:        h.RuleID,
		RuleName:      h.RuleName,
		Signature:     h.Signature,
		ActionID:      h.ActionID,
		ActionType:    h.ActionType,
		ActionTarget:  h.ActionTarget,
		ActionDetails: h.ActionDetails,
		IsSuccessful:  h.IsSuccessful,
		ErrorMessage:  h.ErrorMessage,
		ExecutedAt:    h.ExecutedAt,
		ExecutedBy:    h.ExecutedBy,
		CorrelationID: h.CorrelationID,
	}
}

func escalationHistoryModelToDomain(m *EscalationHistoryModel) *domain.EscalationHistory {
	if m == nil {
		return nil
	}

	return &domain.EscalationHistory{
		ID:            m.ID,
		IncidentID:    m.IncidentID,
		RuleID:        m.RuleID,
		RuleName:      m.RuleName,
		Signature:     m.Signature,
		ActionID:      m.ActionID,
		ActionType:    m.ActionType,
		ActionTarget:  m.ActionTarget,
		ActionDetails: m.ActionDetails,
		IsSuccessful:  m.IsSuccessful,
		ErrorMessage:  m.ErrorMessage,
		ExecutedAt:    m.ExecutedAt,
		ExecutedBy:    m.ExecutedBy,
		CorrelationID: m.CorrelationID,
	}
}

func notificationModelFromDomain(n *domain.NotificationHistory) *NotificationHistoryModel {
	if n == nil {
		return nil
	}

	return &NotificationHistoryModel{
		ID:                n.ID,
		IncidentID:        n.IncidentID,
		RecipientID:       n.RecipientID,
		RecipientType:     n.RecipientType,
		TemplateID:        n.TemplateID,
		Channel:           n.Channel,
		Priority:          n.Priority,
		Subject:           n.Subject,
		Content:           n.Content,
		Status:            n.Status,
		ErrorMessage:      n.ErrorMessage,
		ProviderMessageID: n.ProviderMessageID,
		ScheduledAt:       n.ScheduledAt,
		SendingAt:         n.SendingAt,
		SentAt:            n.SentAt,
		DeliveredAt:       n.DeliveredAt,
		ReadAt:            n.ReadAt,
		RetryOf:           n.RetryOf,
		Metadata:          marshalMap(n.Metadata),
		CorrelationID:     n.CorrelationID,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationHistoryModel) *domain.NotificationHistory {
	if m == nil {
		return nil
	}

	n := &domain.NotificationHistory{
		ID:                m.ID,
		IncidentID:        m.IncidentID,
		RecipientID:       m.RecipientID,
		RecipientType:     m.RecipientType,
		TemplateID:        m.TemplateID,
		Channel:           m.Channel,
		Priority:          m.Priority,
		Subject:           m.Subject,
		Content:           m.Content,
		Status:            m.Status,
		ErrorMessage:      m.ErrorMessage,
		ProviderMessageID: m.ProviderMessageID,
		ScheduledAt:       m.ScheduledAt,
		SendingAt:         m.SendingAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		ReadAt:            m.ReadAt,
		RetryOf:           m.RetryOf,
		CorrelationID:     m.CorrelationID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	unmarshalMap(m.Metadata, &n.Metadata)
	return n
}

func marshalList[T any](list []T) string {
	if len(list) == 0 {
		return ""
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return ""
	}
	return string(raw)
}

func unmarshalList[T any](raw string, into *[]T) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), into)
}

func marshalMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(raw)
}

func unmarshalMap(raw string, into *map[string]string) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), into)
}
