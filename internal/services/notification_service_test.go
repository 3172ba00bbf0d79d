package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"trackhub/internal/models"
)

func TestNotificationService_StoreDefaults(t *testing.T) {
	db := newEngineTestDB(t)
	svc := NewNotificationService(db, quietLogger())

	id, err := svc.Store(context.Background(), &models.Notification{
		UserID:  1,
		Type:    "task_assigned",
		Message: "you got a task",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	var n models.Notification
	if err := db.First(&n, id).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if n.Priority != "medium" {
		t.Errorf("expected default priority medium, got %s", n.Priority)
	}
	// 默认 30 天过期
	ttl := n.ExpiresAt.Sub(n.CreatedAt)
	if ttl != defaultNotificationTTL {
		t.Errorf("expected TTL %v, got %v", defaultNotificationTTL, ttl)
	}
	if n.Read {
		t.Error("new notification must be unread")
	}
}

func TestNotificationService_ListForUser(t *testing.T) {
	db := newEngineTestDB(t)
	svc := NewNotificationService(db, quietLogger())

	ctx := context.Background()
	for i := 0; i < 55; i++ {
		if _, err := svc.Store(ctx, &models.Notification{
			UserID:    1,
			Type:      "task_updated",
			Message:   fmt.Sprintf("update %d", i),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
	// 其他用户的通知不可见
	if _, err := svc.Store(ctx, &models.Notification{UserID: 2, Type: "task_updated", Message: "other"}); err != nil {
		t.Fatalf("store other: %v", err)
	}

	list, err := svc.ListForUser(ctx, 1, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 50 {
		t.Fatalf("expected cap of 50, got %d", len(list))
	}
	// 最新的排在最前
	if list[0].Message != "update 54" {
		t.Errorf("expected newest first, got %q", list[0].Message)
	}

	// 标记一条已读后，unreadOnly 过滤生效
	if _, err := svc.MarkRead(ctx, list[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err := svc.ListForUser(ctx, 1, true)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	for _, n := range unread {
		if n.ID == list[0].ID {
			t.Error("read notification should be filtered out")
		}
	}
}

func TestNotificationService_MarkReadAndDelete(t *testing.T) {
	db := newEngineTestDB(t)
	svc := NewNotificationService(db, quietLogger())
	ctx := context.Background()

	id, err := svc.Store(ctx, &models.Notification{UserID: 1, Type: "task_overdue", Message: "late"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	n, err := svc.MarkRead(ctx, id)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !n.Read || n.ReadAt == nil {
		t.Errorf("expected read with timestamp: %#v", n)
	}

	if _, err := svc.MarkRead(ctx, 9999); err != ErrNotificationNotFound {
		t.Errorf("expected ErrNotificationNotFound, got %v", err)
	}

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, id); err != ErrNotificationNotFound {
		t.Errorf("expected ErrNotificationNotFound on double delete, got %v", err)
	}
}

func TestNotificationService_CleanupExpired(t *testing.T) {
	db := newEngineTestDB(t)
	svc := NewNotificationService(db, quietLogger())
	ctx := context.Background()
	now := time.Now()

	// 已过期
	expired := &models.Notification{
		UserID:    1,
		Type:      "task_due_soon",
		Message:   "old",
		CreatedAt: now.Add(-40 * 24 * time.Hour),
		ExpiresAt: now.Add(-10 * 24 * time.Hour),
	}
	// 已读且超过保留期
	readAt := now.Add(-35 * 24 * time.Hour)
	staleRead := &models.Notification{
		UserID:    1,
		Type:      "task_due_soon",
		Message:   "stale read",
		CreatedAt: now.Add(-36 * 24 * time.Hour),
		ExpiresAt: now.Add(24 * time.Hour),
		Read:      true,
		ReadAt:    &readAt,
	}
	// 仍然有效
	fresh := &models.Notification{
		UserID:    1,
		Type:      "task_due_soon",
		Message:   "fresh",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	for _, n := range []*models.Notification{expired, staleRead, fresh} {
		if err := db.Create(n).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	deleted, err := svc.CleanupExpired(ctx, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}

	var remaining []models.Notification
	db.Find(&remaining)
	if len(remaining) != 1 || remaining[0].Message != "fresh" {
		t.Fatalf("unexpected survivors: %#v", remaining)
	}
}

type failingSender struct{ calls int }

func (f *failingSender) Send(ctx context.Context, n *models.Notification) error {
	f.calls++
	return fmt.Errorf("smtp down")
}

type recordingSender struct{ sent []uint }

func (r *recordingSender) Send(ctx context.Context, n *models.Notification) error {
	r.sent = append(r.sent, n.ID)
	return nil
}

func TestNotificationService_StoreDeliversToRegisteredChannels(t *testing.T) {
	db := newEngineTestDB(t)
	svc := NewNotificationService(db, quietLogger())

	recorder := &recordingSender{}
	failing := &failingSender{}
	svc.RegisterSender("webhook", recorder)
	svc.RegisterSender("email", failing)

	id, err := svc.Store(context.Background(), &models.Notification{
		UserID:  1,
		Type:    "task_assigned",
		Message: "hello",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	// 落库后推送到每个注册渠道
	if len(recorder.sent) != 1 || recorder.sent[0] != id {
		t.Fatalf("expected delivery of notification %d, got %v", id, recorder.sent)
	}
	// 失败的渠道只尝试一次且不影响 Store
	if failing.calls != 1 {
		t.Fatalf("expected 1 attempt on failing channel, got %d", failing.calls)
	}

	var count int64
	db.Model(&models.Notification{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 stored notification, got %d", count)
	}
}

func TestNotificationService_DeliverExternalBestEffort(t *testing.T) {
	db := newEngineTestDB(t)
	svc := NewNotificationService(db, quietLogger())

	sender := &failingSender{}
	svc.RegisterSender("email", sender)

	n := &models.Notification{UserID: 1, Type: "task_assigned", Message: "hi"}

	// 发送失败只记日志，不向上冒泡；未注册的渠道是静默 no-op
	svc.DeliverExternal(context.Background(), n, "email")
	svc.DeliverExternal(context.Background(), n, "sms")

	if sender.calls != 1 {
		t.Fatalf("expected 1 send attempt, got %d", sender.calls)
	}
}
