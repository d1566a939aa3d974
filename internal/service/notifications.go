package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

type notificationsDoc struct {
	Items []model.Notification    `json:"items"`
	Stats model.NotificationStats `json:"stats"`
}

// NotificationInput: поля создаваемого уведомления.
type NotificationInput struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Link    string `json:"link"`
}

// NotificationService: уведомления админ-панели в notifications.json.
type NotificationService struct {
	file   *recordFile[notificationsDoc]
	now    func() time.Time
	logger *slog.Logger
}

// NewNotificationService создаёт сервис поверх каталога админ-данных.
func NewNotificationService(store *mirror.Store, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		file:   newRecordFile[notificationsDoc](store, NotificationsFile),
		now:    time.Now,
		logger: logger.With(slog.String("service", "notifications")),
	}
}

// List возвращает уведомления (новые первыми), status фильтрует, если не пуст.
func (s *NotificationService) List(_ context.Context, status string) ([]model.Notification, model.NotificationStats, error) {
	if status != "" && !validNotificationStatus(status) {
		return nil, model.NotificationStats{}, fmt.Errorf("%w: недопустимый status %q", ErrValidation, status)
	}
	doc, err := s.file.read()
	if err != nil {
		return nil, model.NotificationStats{}, err
	}
	out := make([]model.Notification, 0, len(doc.Items))
	for i := len(doc.Items) - 1; i >= 0; i-- {
		if status == "" || doc.Items[i].Status == status {
			out = append(out, doc.Items[i])
		}
	}
	return out, notificationStats(doc.Items), nil
}

// Create добавляет непрочитанное уведомление.
func (s *NotificationService) Create(_ context.Context, in NotificationInput) (*model.Notification, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: title и message обязательны", ErrValidation)
	}
	if in.Type == "" {
		in.Type = "info"
	}
	now := s.now().UTC()
	n := model.Notification{
		ID:        uuid.New().String(),
		Title:     in.Title,
		Message:   in.Message,
		Type:      in.Type,
		Status:    model.NotificationUnread,
		Link:      in.Link,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.file.update(func(doc *notificationsDoc) error {
		doc.Items = append(doc.Items, n)
		doc.Stats = notificationStats(doc.Items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// SetStatus меняет статус уведомления (read, archived, unread).
func (s *NotificationService) SetStatus(_ context.Context, id, status string) (*model.Notification, error) {
	if !validNotificationStatus(status) {
		return nil, fmt.Errorf("%w: недопустимый status %q", ErrValidation, status)
	}
	var updated model.Notification
	err := s.file.update(func(doc *notificationsDoc) error {
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				doc.Items[i].Status = status
				doc.Items[i].UpdatedAt = s.now().UTC()
				updated = doc.Items[i]
				doc.Stats = notificationStats(doc.Items)
				return nil
			}
		}
		return fmt.Errorf("%w: уведомление %q", ErrNotFound, id)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// MarkAllRead отмечает все непрочитанные как прочитанные и возвращает их количество.
func (s *NotificationService) MarkAllRead(_ context.Context) (int, error) {
	count := 0
	err := s.file.update(func(doc *notificationsDoc) error {
		now := s.now().UTC()
		for i := range doc.Items {
			if doc.Items[i].Status == model.NotificationUnread {
				doc.Items[i].Status = model.NotificationRead
				doc.Items[i].UpdatedAt = now
				count++
			}
		}
		doc.Stats = notificationStats(doc.Items)
		return nil
	})
	return count, err
}

// Delete удаляет уведомление.
func (s *NotificationService) Delete(_ context.Context, id string) error {
	return s.file.update(func(doc *notificationsDoc) error {
		for i := range doc.Items {
			if doc.Items[i].ID == id {
				doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
				doc.Stats = notificationStats(doc.Items)
				return nil
			}
		}
		return fmt.Errorf("%w: уведомление %q", ErrNotFound, id)
	})
}

func validNotificationStatus(status string) bool {
	switch status {
	case model.NotificationUnread, model.NotificationRead, model.NotificationArchived:
		return true
	}
	return false
}

func notificationStats(items []model.Notification) model.NotificationStats {
	st := model.NotificationStats{Total: len(items)}
	for _, n := range items {
		switch n.Status {
		case model.NotificationUnread:
			st.Unread++
		case model.NotificationRead:
			st.Read++
		case model.NotificationArchived:
			st.Archived++
		}
	}
	return st
}
