package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"trackhub/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

// EmailSender delivers notifications over SMTP to the recipient's address.
type EmailSender struct {
	db   *gorm.DB
	host string
	port int
	user string
	pass string
	from string
}

func NewEmailSender(db *gorm.DB, host string, port int, user, pass, from string) *EmailSender {
	return &EmailSender{db: db, host: host, port: port, user: user, pass: pass, from: from}
}

func (s *EmailSender) Send(ctx context.Context, n *models.Notification) error {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, n.UserID).Error; err != nil {
		return fmt.Errorf("email: resolve recipient %d: %w", n.UserID, err)
	}
	if user.Email == "" {
		return fmt.Errorf("email: user %d has no address", n.UserID)
	}

	subject := n.Title
	if subject == "" {
		subject = n.Type
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.from, user.Email, subject, n.Message)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.pass, s.host)
	}
	return smtp.SendMail(addr, auth, s.from, []string{user.Email}, []byte(msg))
}

// WebhookSender POSTs the notification as JSON to a configured URL
// (e.g. a Slack-compatible incoming webhook).
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url: url,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookSender) Send(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(map[string]interface{}{
		"text":       fmt.Sprintf("[%s] %s: %s", n.Priority, n.Title, n.Message),
		"type":       n.Type,
		"related_to": n.RelatedTo,
		"related_id": n.RelatedID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
