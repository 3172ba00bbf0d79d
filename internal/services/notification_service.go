package services

import (
	"context"
	"errors"
	"time"

	"trackhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// defaultNotificationTTL is how long a notification lives before the
// retention sweep may collect it.
const defaultNotificationTTL = 30 * 24 * time.Hour

// Sender delivers one notification over an external channel. Delivery is best
// effort: a failing sender is logged, the stored notification stays around
// for later re-delivery.
type Sender interface {
	Send(ctx context.Context, n *models.Notification) error
}

// NotificationService 通知存储与外发服务
type NotificationService struct {
	db      *gorm.DB
	logger  *logrus.Logger
	senders map[string]Sender
}

func NewNotificationService(db *gorm.DB, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{
		db:      db,
		logger:  logger,
		senders: map[string]Sender{},
	}
}

// RegisterSender attaches an external delivery channel ("email", "webhook").
func (s *NotificationService) RegisterSender(channel string, sender Sender) {
	s.senders[channel] = sender
}

// Store persists a notification and then pushes it through every registered
// external channel. Defaults: medium priority, 30-day expiry. The durable
// write is the contract; delivery failures never surface to the caller.
func (s *NotificationService) Store(ctx context.Context, n *models.Notification) (uint, error) {
	if n.Priority == "" {
		n.Priority = "medium"
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = n.CreatedAt.Add(defaultNotificationTTL)
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return 0, err
	}
	for channel := range s.senders {
		s.DeliverExternal(ctx, n, channel)
	}
	return n.ID, nil
}

// DeliverExternal pushes an already-stored notification through a channel.
// Failures are logged and swallowed; they never reach the automation run.
func (s *NotificationService) DeliverExternal(ctx context.Context, n *models.Notification, channel string) {
	sender, ok := s.senders[channel]
	if !ok {
		s.logger.Debugf("notification: no sender registered for channel %q", channel)
		return
	}
	if err := sender.Send(ctx, n); err != nil {
		s.logger.Warnf("notification: delivery via %s failed for notification %d: %v", channel, n.ID, err)
	}
}

// ListForUser returns a user's notifications, newest first, capped at 50.
func (s *NotificationService) ListForUser(ctx context.Context, userID uint, unreadOnly bool) ([]models.Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	var notifications []models.Notification
	if err := query.Order("created_at DESC").Limit(50).Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead flags a notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id uint) (*models.Notification, error) {
	var notification models.Notification
	if err := s.db.WithContext(ctx).First(&notification, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	now := time.Now()
	notification.Read = true
	notification.ReadAt = &now
	if err := s.db.WithContext(ctx).Save(&notification).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}

// Delete removes a notification.
func (s *NotificationService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Notification{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// CleanupExpired deletes notifications past their expiry and read ones older
// than the retention window. Called by the retention sweep.
func (s *NotificationService) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-defaultNotificationTTL)
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("read = ? AND read_at < ?", true, cutoff).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
