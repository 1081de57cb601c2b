// Package push delivers encrypted Web Push messages to browser endpoints and
// classifies what the push service answers.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/keys"
	"github.com/lalithlochan/canteen/internal/subscription"
)

// ErrGone means the push service reported the endpoint permanently
// invalid (HTTP 410). The subscription should be discarded.
var ErrGone = errors.New("push subscription gone")

// StatusError is a non-success answer from the push service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub subscription.Subscription, p Payload) error
}

// Config tunes the Web Push transport.
type Config struct {
	TTL        int           // seconds the push service holds an undelivered message
	MaxRetries uint64        // extra attempts on 429/5xx
	RetryBase  time.Duration // first backoff step
	HTTPClient *http.Client
}

// WebPushSender signs with the VAPID pair and encrypts with the
// subscription keys using webpush-go.
type WebPushSender struct {
	keys   *keys.Manager
	cfg    Config
	logger *zap.Logger
}

// NewWebPushSender creates a Web Push transport.
func NewWebPushSender(km *keys.Manager, cfg Config, logger *zap.Logger) *WebPushSender {
	if cfg.TTL <= 0 {
		cfg.TTL = 86400
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPushSender{keys: km, cfg: cfg, logger: logger}
}

// Send encrypts and posts p to sub. A 410 returns ErrGone; 429 and 5xx are
// retried with exponential backoff until ctx expires or retries run out.
func (s *WebPushSender) Send(ctx context.Context, sub subscription.Subscription, p Payload) error {
	if !s.keys.IsConfigured() {
		return keys.ErrMissingKey
	}

	message, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	creds := s.keys.Credentials()
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}
	// webpush-go adds the mailto: scheme itself.
	opts := &webpush.Options{
		HTTPClient:      s.cfg.HTTPClient,
		Subscriber:      strings.TrimPrefix(creds.Subscriber, "mailto:"),
		TTL:             s.cfg.TTL,
		Urgency:         urgency(p.Urgency),
		VAPIDPublicKey:  creds.PublicKey,
		VAPIDPrivateKey: creds.PrivateKey,
	}

	b := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.RetryBase))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := s.post(ctx, message, target, opts)

		var se *StatusError
		if errors.As(err, &se) && se.Transient() {
			s.logger.Debug("push service busy, retrying",
				zap.String("subscription_id", sub.ID),
				zap.String("host", Host(sub.Endpoint)),
				zap.Int("status", se.StatusCode),
				zap.Int("attempt", attempt),
			)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *WebPushSender) post(ctx context.Context, message []byte, target *webpush.Subscription, opts *webpush.Options) error {
	resp, err := webpush.SendNotificationWithContext(ctx, message, target, opts)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return ErrGone
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func urgency(u Urgency) webpush.Urgency {
	switch u {
	case UrgencyHigh:
		return webpush.UrgencyHigh
	case UrgencyLow:
		return webpush.UrgencyLow
	default:
		return webpush.UrgencyNormal
	}
}

// Host returns the push service host of an endpoint URL, or the raw string
// when it does not parse.
func Host(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
