package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safetyhub/escalation-engine/internal/directory"
	"github.com/safetyhub/escalation-engine/internal/domain"
	"github.com/safetyhub/escalation-engine/internal/observability"
	"github.com/safetyhub/escalation-engine/internal/queue"
	"github.com/safetyhub/escalation-engine/internal/sender"
	"github.com/safetyhub/escalation-engine/internal/template"
	"go.uber.org/zap"
)

const (
	defaultSendTimeout = 10 * time.Second

	metadataContactKey = "contact"
	metadataTargetKey  = "target"
)

// NotificationStore is the dispatcher's view of the notification audit
// repository.
type NotificationStore interface {
	Create(ctx context.Context, n *domain.NotificationHistory) error
	GetByID(ctx context.Context, id string) (*domain.NotificationHistory, error)
	ClaimForSending(ctx context.Context, id string) (*domain.NotificationHistory, error)
	MarkSent(ctx context.Context, id string, providerMessageID *string, at time.Time) error
	MarkFailed(ctx context.Context, id, errorMessage string, at time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkRead(ctx context.Context, id string, at time.Time) error
	GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.NotificationHistory, error)
	ClearScheduledAt(ctx context.Context, id string) (bool, error)
}

// SendRequest describes one synchronous direct send.
type SendRequest struct {
	IncidentID    string
	RecipientID   string
	RecipientType string
	Contact       string
	TemplateID    string
	Channel       domain.Channel
	Priority      domain.Priority
	Parameters    map[string]string
	CorrelationID string
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.IncidentID) == "" {
		return fmt.Errorf("%w: incidentId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(r.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(r.Contact) == "" {
		return fmt.Errorf("%w: contact is required", domain.ErrValidation)
	}
	if strings.TrimSpace(r.TemplateID) == "" {
		return fmt.Errorf("%w: templateId is required", domain.ErrValidation)
	}
	if !r.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, r.Channel)
	}
	if !r.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", domain.ErrValidation, r.Priority)
	}
	return nil
}

// Dispatcher owns the notification pipeline: audit-first persistence, queue
// publication, and the single-attempt transport contract. Retry policy lives
// with callers; a failed attempt is terminal here.
type Dispatcher struct {
	store       NotificationStore
	directory   directory.UserDirectory
	templates   template.Resolver
	publisher   queue.Publisher
	sender      sender.ChannelSender
	logger      *zap.Logger
	metrics     *observability.Metrics
	sendTimeout time.Duration
	now         func() time.Time
}

func NewDispatcher(
	store NotificationStore,
	dir directory.UserDirectory,
	templates template.Resolver,
	publisher queue.Publisher,
	channelSender sender.ChannelSender,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if dir == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template resolver is required")
	}
	if channelSender == nil {
		return nil, fmt.Errorf("channel sender is required")
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		store:       store,
		directory:   dir,
		templates:   templates,
		publisher:   publisher,
		sender:      channelSender,
		logger:      logger,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Send performs one synchronous delivery attempt: Pending row first, then a
// single transport call. A transport failure ends in the terminal Failed row
// and is not an error of Send itself; only store and template failures
// propagate.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*domain.NotificationHistory, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rendered, err := d.templates.Resolve(ctx, req.TemplateID, req.Parameters)
	if err != nil {
		return nil, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		if fromCtx, ok := observability.CorrelationIDFromContext(ctx); ok {
			correlationID = fromCtx
		} else {
			correlationID = uuid.NewString()
		}
	}

	row := d.newPendingRow(req, rendered, correlationID, nil)
	if err := d.store.Create(ctx, row); err != nil {
		return nil, err
	}

	if err := d.Deliver(ctx, row); err != nil {
		return nil, err
	}
	return d.store.GetByID(ctx, row.ID)
}

// EnqueueAction fans a NOTIFY action out to one Pending row per resolved
// recipient per configured channel and publishes delivery messages. A
// positive action delay becomes scheduledAt and publication is left to the
// scheduler. Publish failures degrade that row to Failed without aborting
// the rest of the fan-out.
func (d *Dispatcher) EnqueueAction(ctx context.Context, snapshot domain.IncidentSnapshot, rule domain.EscalationRule, action domain.EscalationAction, correlationID string) ([]domain.NotificationHistory, error) {
	recipients, err := d.directory.Resolve(ctx, action.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve notification target %q: %w", action.Target, err)
	}

	params := actionParameters(snapshot, rule, action)
	rendered, err := d.templates.Resolve(ctx, action.TemplateID, params)
	if err != nil {
		return nil, err
	}

	var scheduledAt *time.Time
	if action.Delay > 0 {
		due := d.now().UTC().Add(action.Delay)
		scheduledAt = &due
	}

	rows := make([]domain.NotificationHistory, 0, len(recipients)*len(action.Channels))
	for _, recipient := range recipients {
		for _, channel := range action.Channels {
			req := SendRequest{
				IncidentID:    snapshot.ID,
				RecipientID:   recipient.ID,
				RecipientType: recipient.Type,
				Contact:       recipient.Contact(channel),
				TemplateID:    action.TemplateID,
				Channel:       channel,
				Priority:      priorityForSeverity(snapshot.Severity),
				Parameters:    params,
				CorrelationID: correlationID,
			}
			req.Parameters[metadataTargetKey] = action.Target

			row := d.newPendingRow(req, rendered, correlationID, scheduledAt)
			if err := d.store.Create(ctx, row); err != nil {
				return nil, err
			}

			if req.Contact == "" {
				d.failRow(ctx, row, fmt.Sprintf("recipient %s has no %s contact", recipient.ID, row.Channel))
				rows = append(rows, *row)
				continue
			}
			if scheduledAt != nil {
				rows = append(rows, *row)
				continue
			}

			if err := d.publish(ctx, row); err != nil {
				d.logger.Warn("failed to publish delivery message",
					zap.String("notificationId", row.ID),
					zap.String("channel", row.Channel.String()),
					zap.Error(err),
				)
				d.failRow(ctx, row, fmt.Sprintf("queue publish failed: %v", err))
			}
			rows = append(rows, *row)
		}
	}

	return rows, nil
}

// Deliver runs the single transport attempt for one Pending row. Transport
// failures mark the row Failed and return nil; only audit-store failures
// come back as errors so the queue layer can retry the bookkeeping, never
// the send.
func (d *Dispatcher) Deliver(ctx context.Context, row *domain.NotificationHistory) error {
	if row.Status != domain.NotificationPending {
		d.logger.Debug("skipping non-pending notification",
			zap.String("notificationId", row.ID),
			zap.String("status", row.Status.String()),
		)
		return nil
	}

	contact := strings.TrimSpace(row.Metadata[metadataContactKey])
	if contact == "" {
		return d.markFailed(ctx, row, "no contact on record")
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := d.now()
	result, err := d.sender.Send(sendCtx, row.Channel, contact, row.Subject, row.Content)
	if d.metrics != nil {
		d.metrics.ObserveNotificationSendDuration(row.Channel.String(), d.now().Sub(start))
	}

	if err != nil {
		return d.markFailed(ctx, row, err.Error())
	}
	if result == nil || !result.Accepted {
		reason := "send not accepted"
		if result != nil && result.Body != "" {
			reason = result.Body
		}
		return d.markFailed(ctx, row, reason)
	}

	var providerMessageID *string
	if result.ProviderMessageID != "" {
		providerMessageID = &result.ProviderMessageID
	}
	if err := d.store.MarkSent(ctx, row.ID, providerMessageID, d.now().UTC()); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.IncNotificationSent(row.Channel.String())
	}
	d.logger.Info("notification sent",
		zap.String("notificationId", row.ID),
		zap.String("channel", row.Channel.String()),
		zap.String("incidentId", row.IncidentID),
	)
	return nil
}

// MarkDelivered records an asynchronous provider delivery callback.
func (d *Dispatcher) MarkDelivered(ctx context.Context, notificationID string) error {
	return d.store.MarkDelivered(ctx, notificationID, d.now().UTC())
}

// MarkRead records a read receipt.
func (d *Dispatcher) MarkRead(ctx context.Context, notificationID string) error {
	return d.store.MarkRead(ctx, notificationID, d.now().UTC())
}

func (d *Dispatcher) newPendingRow(req SendRequest, rendered template.Rendered, correlationID string, scheduledAt *time.Time) *domain.NotificationHistory {
	now := d.now().UTC()
	metadata := map[string]string{metadataContactKey: req.Contact}
	if target := req.Parameters[metadataTargetKey]; target != "" {
		metadata[metadataTargetKey] = target
	}

	return &domain.NotificationHistory{
		ID:            uuid.NewString(),
		IncidentID:    req.IncidentID,
		RecipientID:   req.RecipientID,
		RecipientType: req.RecipientType,
		TemplateID:    req.TemplateID,
		Channel:       req.Channel,
		Priority:      req.Priority,
		Subject:       rendered.Subject,
		Content:       rendered.Content,
		Status:        domain.NotificationPending,
		ScheduledAt:   scheduledAt,
		Metadata:      metadata,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (d *Dispatcher) publish(ctx context.Context, row *domain.NotificationHistory) error {
	if d.publisher == nil {
		return fmt.Errorf("queue publisher not configured")
	}
	return d.publisher.Publish(ctx, queue.QueueName(row.Channel), queue.DeliveryMessage{
		NotificationID: row.ID,
		IncidentID:     row.IncidentID,
		CorrelationID:  row.CorrelationID,
		Channel:        row.Channel,
		Priority:       row.Priority,
	})
}

func (d *Dispatcher) markFailed(ctx context.Context, row *domain.NotificationHistory, reason string) error {
	if err := d.store.MarkFailed(ctx, row.ID, reason, d.now().UTC()); err != nil {
		return err
	}
	row.Status = domain.NotificationFailed
	row.ErrorMessage = reason
	if d.metrics != nil {
		d.metrics.IncNotificationFailed(row.Channel.String(), failureReasonLabel(reason))
	}
	d.logger.Warn("notification failed",
		zap.String("notificationId", row.ID),
		zap.String("channel", row.Channel.String()),
		zap.String("reason", reason),
	)
	return nil
}

// failRow is markFailed with store errors demoted to logs, for fan-out paths
// where one bad row must not abort the rest.
func (d *Dispatcher) failRow(ctx context.Context, row *domain.NotificationHistory, reason string) {
	if err := d.markFailed(ctx, row, reason); err != nil {
		d.logger.Error("failed to mark notification failed",
			zap.String("notificationId", row.ID),
			zap.Error(err),
		)
	}
}

func failureReasonLabel(reason string) string {
	switch {
	case strings.Contains(reason, "context deadline exceeded"):
		return "timeout"
	case strings.Contains(reason, "publish"):
		return "publish"
	case strings.Contains(reason, "contact"):
		return "no_contact"
	default:
		return "transport"
	}
}

func actionParameters(snapshot domain.IncidentSnapshot, rule domain.EscalationRule, action domain.EscalationAction) map[string]string {
	params := map[string]string{
		"incidentId": snapshot.ID,
		"severity":   snapshot.Severity.String(),
		"status":     snapshot.Status.String(),
		"department": snapshot.Department,
		"location":   snapshot.Location,
		"ruleName":   rule.Name,
	}
	for k, v := range action.Parameters {
		params[k] = v
	}
	return params
}

// priorityForSeverity maps incident severity to delivery priority.
func priorityForSeverity(severity domain.Severity) domain.Priority {
	switch severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		return domain.PriorityHigh
	case domain.SeverityMedium:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}
