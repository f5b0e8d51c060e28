package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepository persists the notification audit trail. Status
// transitions are guarded in SQL so the Pending -> Sent -> Delivered -> Read
// ladder stays monotonic under concurrent workers and provider callbacks.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts the Pending audit row before any transport attempt.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.NotificationHistory) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: notification %s already exists", domain.ErrConflict, n.ID)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*domain.NotificationHistory, error) {
	var model NotificationHistoryModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: notification %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return notificationModelToDomain(&model), nil
}

// ClaimForSending atomically claims a Pending row for its single transport
// attempt. A nil row with a nil error means another worker holds the claim or
// the row already left Pending; callers ack and skip. The claim never
// expires: a crash mid-send leaves the row claimed rather than risking a
// second send.
func (r *NotificationRepository) ClaimForSending(ctx context.Context, id string) (*domain.NotificationHistory, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&NotificationHistoryModel{}).
		Where("id = ? AND status = ? AND sending_at IS NULL", id, domain.NotificationPending).
		Updates(map[string]interface{}{"sending_at": now, "updated_at": now})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim notification for sending: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Missing row surfaces ErrNotFound from the read; held or settled
		// rows are skipped silently.
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

// MarkSent moves a Pending notification to Sent.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string, providerMessageID *string, at time.Time) error {
	updates := map[string]interface{}{
		"status":     domain.NotificationSent,
		"sent_at":    at,
		"updated_at": at,
	}
	if providerMessageID != nil {
		updates["provider_message_id"] = *providerMessageID
	}
	return r.transition(ctx, id, updates, domain.NotificationPending)
}

// MarkFailed moves a Pending or Sent notification to the terminal Failed
// state with the attempt's error message.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id, errorMessage string, at time.Time) error {
	updates := map[string]interface{}{
		"status":        domain.NotificationFailed,
		"error_message": errorMessage,
		"updated_at":    at,
	}
	return r.transition(ctx, id, updates, domain.NotificationPending, domain.NotificationSent)
}

// MarkDelivered records a provider delivery callback for a Sent notification.
func (r *NotificationRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	updates := map[string]interface{}{
		"status":       domain.NotificationDelivered,
		"delivered_at": at,
		"updated_at":   at,
	}
	return r.transition(ctx, id, updates, domain.NotificationSent)
}

// MarkRead records a read receipt for a Delivered notification.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string, at time.Time) error {
	updates := map[string]interface{}{
		"status":     domain.NotificationRead,
		"read_at":    at,
		"updated_at": at,
	}
	return r.transition(ctx, id, updates, domain.NotificationDelivered)
}

// transition applies a guarded status update. Zero rows affected means the
// row is missing or not in an eligible state; a follow-up read picks the
// right sentinel.
func (r *NotificationRepository) transition(ctx context.Context, id string, updates map[string]interface{}, from ...domain.NotificationStatus) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationHistoryModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update notification status: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: notification %s is %s", domain.ErrConflict, id, current.Status)
}

// NotificationListParams filter and page the notification audit trail.
type NotificationListParams struct {
	IncidentID  string
	RecipientID string
	Channel     string
	Status      string
	Since       *time.Time
	Limit       int
	Offset      int
}

// List returns notification rows newest-first.
func (r *NotificationRepository) List(ctx context.Context, params NotificationListParams) ([]domain.NotificationHistory, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationHistoryModel{})
	if params.IncidentID != "" {
		query = query.Where("incident_id = ?", params.IncidentID)
	}
	if params.RecipientID != "" {
		query = query.Where("recipient_id = ?", params.RecipientID)
	}
	if params.Channel != "" {
		query = query.Where("channel = ?", params.Channel)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Since != nil {
		query = query.Where("created_at >= ?", *params.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var models []NotificationHistoryModel
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(params.Offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	rows := make([]domain.NotificationHistory, 0, len(models))
	for i := range models {
		rows = append(rows, *notificationModelToDomain(&models[i]))
	}
	return rows, total, nil
}

// GetDueScheduled returns Pending notifications whose scheduled time has
// passed, oldest first.
func (r *NotificationRepository) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.NotificationHistory, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []NotificationHistoryModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", domain.NotificationPending, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled notifications: %w", err)
	}

	rows := make([]domain.NotificationHistory, 0, len(models))
	for i := range models {
		rows = append(rows, *notificationModelToDomain(&models[i]))
	}
	return rows, nil
}

// ClearScheduledAt claims a due notification for publishing. Zero rows
// affected means another scheduler instance claimed it first.
func (r *NotificationRepository) ClearScheduledAt(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationHistoryModel{}).
		Where("id = ? AND status = ? AND scheduled_at IS NOT NULL", id, domain.NotificationPending).
		Updates(map[string]interface{}{"scheduled_at": nil, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim scheduled notification: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
