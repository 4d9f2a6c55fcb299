package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/ReilBleem13/PalMessenger/internal/config"
	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/ReilBleem13/PalMessenger/internal/metrics"
	webpush "github.com/SherClockHolmes/webpush-go"
)

type SubscriptionRepo interface {
	ListByUser(ctx context.Context, userID int64) ([]domain.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type sendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// Notification is the JSON the service worker receives. Title and Body
// are what the OS shows; Data never leaves the encrypted payload.
type Notification struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type WebPushSender struct {
	repo    SubscriptionRepo
	cfg     config.Push
	metrics *metrics.Metrics
	send    sendFunc
}

func NewWebPushSender(repo SubscriptionRepo, cfg config.Push, m *metrics.Metrics) *WebPushSender {
	return &WebPushSender{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		send:    webpush.SendNotificationWithContext,
	}
}

// Notify is best-effort. Failures are logged and never returned; an
// endpoint the push service reports as gone is deleted.
func (ws *WebPushSender) Notify(ctx context.Context, userID int64, title string, payload any) {
	subs, err := ws.repo.ListByUser(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load push subscriptions", "user_id", userID, "error", err)
		ws.metrics.PushNotifications.WithLabelValues("error").Inc()
		return
	}
	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal push payload", "user_id", userID, "error", err)
		return
	}

	body, err := json.Marshal(&Notification{
		Title: title,
		Body:  "You have a new message",
		Data:  data,
	})
	if err != nil {
		slog.Error("Failed to marshal push notification", "user_id", userID, "error", err)
		return
	}

	for _, sub := range subs {
		ws.sendOne(ctx, userID, &sub, body)
	}
}

func (ws *WebPushSender) sendOne(ctx context.Context, userID int64, sub *domain.PushSubscription, body []byte) {
	resp, err := ws.send(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      ws.cfg.Subscriber,
		VAPIDPublicKey:  ws.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: ws.cfg.VAPIDPrivateKey,
		TTL:             ws.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		slog.Warn("Push delivery failed", "user_id", userID, "error", err)
		ws.metrics.PushNotifications.WithLabelValues("error").Inc()
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		slog.Info("Removing stale push subscription", "user_id", userID, "status", resp.StatusCode)
		if err := ws.repo.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
			slog.Warn("Failed to remove stale push subscription", "user_id", userID, "error", err)
		}
		ws.metrics.PushNotifications.WithLabelValues("stale").Inc()
	case resp.StatusCode >= 400:
		slog.Warn("Push service rejected notification", "user_id", userID, "status", resp.StatusCode)
		ws.metrics.PushNotifications.WithLabelValues("rejected").Inc()
	default:
		ws.metrics.PushNotifications.WithLabelValues("sent").Inc()
	}
}

// NopSender is used when no VAPID keys are configured.
type NopSender struct{}

func (NopSender) Notify(ctx context.Context, userID int64, title string, payload any) {
	slog.Debug("Push disabled, skipping notification", "user_id", userID)
}
