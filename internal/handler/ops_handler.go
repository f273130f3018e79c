package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/service"
)

const defaultListLimit = 50

type opsService interface {
	Stats(ctx context.Context) (*service.Stats, error)
	ListUserNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

// OpsHandler serves read-only views over stored notifications and the
// outbox backlog.
type OpsHandler struct {
	service opsService
}

type notificationResponse struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type listNotificationsResponse struct {
	Notifications []notificationResponse `json:"notifications"`
}

func NewOpsHandler(svc opsService) *OpsHandler {
	return &OpsHandler{service: svc}
}

func (h *OpsHandler) RegisterRoutes(app fiber.Router) {
	v1 := app.Group("/v1")
	v1.Get("/outbox/stats", h.GetStats)
	v1.Get("/users/:userId/notifications", h.ListUserNotifications)
}

func (h *OpsHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *OpsHandler) ListUserNotifications(c *fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	notifications, err := h.service.ListUserNotifications(c.Context(), c.Params("userId"), limit)
	if err != nil {
		return toHTTPError(err)
	}

	resp := listNotificationsResponse{
		Notifications: make([]notificationResponse, 0, len(notifications)),
	}
	for i := range notifications {
		resp.Notifications = append(resp.Notifications, toNotificationResponse(&notifications[i]))
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	return notificationResponse{
		ID:           n.ID,
		UserID:       n.UserID,
		Type:         n.Type.String(),
		Title:        n.Title,
		Body:         n.Body,
		Status:       n.Status.String(),
		SentAt:       n.SentAt,
		ErrorMessage: n.ErrorMessage,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
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
