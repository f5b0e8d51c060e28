package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/safetyhub/escalation-engine/internal/domain"
	"github.com/safetyhub/escalation-engine/internal/repository"
)

// NotificationReader serves the audit-trail read endpoints.
type NotificationReader interface {
	GetByID(ctx context.Context, id string) (*domain.NotificationHistory, error)
	List(ctx context.Context, params repository.NotificationListParams) ([]domain.NotificationHistory, int64, error)
}

// DeliveryCallback records asynchronous provider delivery and read events.
type DeliveryCallback interface {
	MarkDelivered(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
}

type NotificationHandler struct {
	reader    NotificationReader
	callbacks DeliveryCallback
}

func NewNotificationHandler(reader NotificationReader, callbacks DeliveryCallback) (*NotificationHandler, error) {
	if reader == nil {
		return nil, fmt.Errorf("notification reader is required")
	}
	if callbacks == nil {
		return nil, fmt.Errorf("delivery callback is required")
	}
	return &NotificationHandler{reader: reader, callbacks: callbacks}, nil
}

func RegisterNotificationRoutes(router fiber.Router, reader NotificationReader, callbacks DeliveryCallback) error {
	h, err := NewNotificationHandler(reader, callbacks)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/delivered", h.MarkDelivered)
	v1.Post("/notifications/:id/read", h.MarkRead)

	return nil
}

type notificationResponse struct {
	ID                string     `json:"id"`
	IncidentID        string     `json:"incidentId"`
	RecipientID       string     `json:"recipientId"`
	RecipientType     string     `json:"recipientType,omitempty"`
	TemplateID        string     `json:"templateId,omitempty"`
	Channel           string     `json:"channel"`
	Priority          string     `json:"priority"`
	Subject           string     `json:"subject,omitempty"`
	Status            string     `json:"status"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	ScheduledAt       *time.Time `json:"scheduledAt,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	CorrelationID     string     `json:"correlationId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.reader.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)
	if page < 1 {
		return toHTTPError(fmt.Errorf("%w: page must be >= 1", domain.ErrValidation))
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return toHTTPError(fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize))
	}

	params := repository.NotificationListParams{
		IncidentID:  strings.TrimSpace(c.Query("incidentId")),
		RecipientID: strings.TrimSpace(c.Query("recipientId")),
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status := domain.NotificationStatus(strings.ToUpper(rawStatus))
		if !status.IsValid() {
			return toHTTPError(fmt.Errorf("%w: invalid status %q", domain.ErrValidation, rawStatus))
		}
		params.Status = status.String()
	}
	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return toHTTPError(err)
		}
		params.Channel = channel.String()
	}

	since, err := parseRFC3339Query(c.Query("since"), "since")
	if err != nil {
		return toHTTPError(err)
	}
	params.Since = since

	notifications, total, err := h.reader.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		data = append(data, toNotificationResponse(&notifications[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *NotificationHandler) MarkDelivered(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.callbacks.MarkDelivered(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.NotificationDelivered.String(),
	})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.callbacks.MarkRead(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.NotificationRead.String(),
	})
}

func toNotificationResponse(n *domain.NotificationHistory) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:                n.ID,
		IncidentID:        n.IncidentID,
		RecipientID:       n.RecipientID,
		RecipientType:     n.RecipientType,
		TemplateID:        n.TemplateID,
		Channel:           n.Channel.String(),
		Priority:          n.Priority.String(),
		Subject:           n.Subject,
		Status:            n.Status.String(),
		ErrorMessage:      n.ErrorMessage,
		ProviderMessageID: n.ProviderMessageID,
		ScheduledAt:       n.ScheduledAt,
		SentAt:            n.SentAt,
		DeliveredAt:       n.DeliveredAt,
		ReadAt:            n.ReadAt,
		CorrelationID:     n.CorrelationID,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}
