// Package dispatch renders notifications and fans them out to every live
// subscription of the targeted users.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/canteen/internal/circuitbreaker"
	"github.com/lalithlochan/canteen/internal/metrics"
	"github.com/lalithlochan/canteen/internal/push"
	"github.com/lalithlochan/canteen/internal/subscription"
	"github.com/lalithlochan/canteen/internal/targeting"
	"github.com/lalithlochan/canteen/internal/templates"
)

var (
	ErrTemplateNotFound = errors.New("custom template not found")
	ErrTemplateDisabled = errors.New("custom template disabled")
)

// Dispatch kinds, used in logs, metrics and audit events.
const (
	KindUser     = "user"
	KindRole     = "role"
	KindAll      = "all"
	KindAdvanced = "advanced"
	KindOrder    = "order"
	KindCustom   = "custom_template"
)

const (
	defaultIcon  = "/icons/icon-192x192.png"
	defaultBadge = "/icons/badge-72x72.png"
)

// urgentVibration is the pattern used whenever a notification is delivered
// with high urgency.
var urgentVibration = []int{200, 100, 200, 100, 200}

// Subscriptions is the part of the registry the dispatcher reads and prunes.
type Subscriptions interface {
	All() []subscription.Subscription
	ForUser(userID int64) []subscription.Subscription
	ForRole(role string) []subscription.Subscription
	ForUsers(userIDs []int64) []subscription.Subscription
	Remove(ctx context.Context, id string) bool
}

// TemplateSource looks up order-status templates.
type TemplateSource interface {
	Get(status string) (templates.Template, bool)
}

// CustomTemplateSource looks up operator-authored templates.
type CustomTemplateSource interface {
	Get(ctx context.Context, id string) (*templates.CustomTemplate, error)
}

// Resolver expands targeting criteria into user ids.
type Resolver interface {
	Resolve(ctx context.Context, c targeting.Criteria) ([]int64, error)
}

// KeyStatus reports whether signing keys are available.
type KeyStatus interface {
	IsConfigured() bool
}

// Auditor receives one summary event per dispatch.
type Auditor interface {
	PublishDispatch(ctx context.Context, e Event) error
}

// Config controls delivery policy.
type Config struct {
	// ForceHighUrgency makes every notification require interaction,
	// re-notify, vibrate and travel with high urgency, whatever the caller
	// asked for. Some mobile platforms silently bundle normal-urgency pushes.
	ForceHighUrgency bool
	SendTimeout      time.Duration
	MaxConcurrency   int // 0 is unbounded
}

// Message is an ad-hoc notification before rendering.
type Message struct {
	Title              string
	Body               string
	Icon               string
	Image              string
	URL                string
	Tag                string
	Priority           templates.Priority
	RequireInteraction bool
	Data               map[string]any
}

// Result is what every entry point reports.
type Result struct {
	Success     bool `json:"success"`
	SentCount   int  `json:"sentCount"`
	TargetCount int  `json:"targetCount"`
	PrunedCount int  `json:"prunedCount"`
}

// Event is published to the Auditor after each dispatch.
type Event struct {
	Kind        string    `json:"kind"`
	TargetType  string    `json:"targetType,omitempty"`
	TargetCount int       `json:"targetCount"`
	SentCount   int       `json:"sentCount"`
	PrunedCount int       `json:"prunedCount"`
	DurationMs  int64     `json:"durationMs"`
	At          time.Time `json:"at"`
}

// Dispatcher delivers notifications. All dependencies are injected.
type Dispatcher struct {
	subs      Subscriptions
	templates TemplateSource
	custom    CustomTemplateSource
	resolver  Resolver
	keys      KeyStatus
	sender    push.Sender
	auditor   Auditor
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a Dispatcher.
type Deps struct {
	Subscriptions Subscriptions
	Templates     TemplateSource
	Custom        CustomTemplateSource
	Resolver      Resolver
	Keys          KeyStatus
	Sender        push.Sender
	Auditor       Auditor // optional
}

// New creates a dispatcher.
func New(d Deps, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		subs:      d.Subscriptions,
		templates: d.Templates,
		custom:    d.Custom,
		resolver:  d.Resolver,
		keys:      d.Keys,
		sender:    d.Sender,
		auditor:   d.Auditor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SendToUser notifies every device of one user.
func (d *Dispatcher) SendToUser(ctx context.Context, userID int64, msg Message) Result {
	return d.deliver(ctx, KindUser, "", d.subs.ForUser(userID), d.render(msg))
}

// SendToRole notifies every device registered under role.
func (d *Dispatcher) SendToRole(ctx context.Context, role string, msg Message) Result {
	return d.deliver(ctx, KindRole, "", d.subs.ForRole(role), d.render(msg))
}

// SendToAll notifies every registered device.
func (d *Dispatcher) SendToAll(ctx context.Context, msg Message) Result {
	return d.deliver(ctx, KindAll, "", d.subs.All(), d.render(msg))
}

// SendWithAdvancedTargeting resolves c to users and notifies their devices.
// Resolution errors (unknown target type, directory failure) are returned;
// an empty audience is a zero-count success.
func (d *Dispatcher) SendWithAdvancedTargeting(ctx context.Context, c targeting.Criteria, msg Message) (Result, error) {
	return d.sendTargeted(ctx, KindAdvanced, c, d.render(msg))
}

func (d *Dispatcher) sendTargeted(ctx context.Context, kind string, c targeting.Criteria, p push.Payload) (Result, error) {
	userIDs, err := d.resolver.Resolve(ctx, c)
	if err != nil {
		return Result{}, err
	}

	if len(userIDs) == 0 {
		d.logger.Info("no users matched targeting criteria",
			zap.String("kind", kind),
			zap.String("target_type", string(c.TargetType)),
			zap.Int("values", len(c.Values)),
		)
		return Result{Success: true}, nil
	}

	return d.deliver(ctx, kind, string(c.TargetType), d.subs.ForUsers(userIDs), p), nil
}

// SendOrderUpdate notifies a user that their order moved to status. A
// missing or disabled template is logged and skipped. A non-empty override
// replaces the template message.
func (d *Dispatcher) SendOrderUpdate(ctx context.Context, userID int64, orderNumber, status, override string) Result {
	tpl, ok := d.templates.Get(status)
	if !ok {
		d.logger.Warn("no notification template for order status",
			zap.String("status", status),
			zap.String("order_number", orderNumber),
		)
		return Result{Success: true}
	}
	if !tpl.Enabled {
		d.logger.Info("notification template disabled, skipping order update",
			zap.String("status", status),
			zap.String("order_number", orderNumber),
		)
		return Result{Success: true}
	}

	body := override
	if body == "" {
		body = templates.RenderOrder(tpl.Message, orderNumber)
	}

	p := d.render(Message{
		Title:              templates.RenderOrder(tpl.Title, orderNumber),
		Body:               body,
		Icon:               tpl.Icon,
		URL:                "/orders/" + orderNumber,
		Tag:                "order-" + orderNumber,
		Priority:           tpl.Priority,
		RequireInteraction: tpl.RequireInteraction,
		Data: map[string]any{
			"orderNumber": orderNumber,
			"status":      status,
		},
	})

	return d.deliver(ctx, KindOrder, "", d.subs.ForUser(userID), p)
}

// SendCustomTemplateNotification renders a custom template with customData
// and sends it to the users matched by c.
func (d *Dispatcher) SendCustomTemplateNotification(ctx context.Context, templateID string, c targeting.Criteria, customData map[string]string) (Result, error) {
	tpl, err := d.custom.Get(ctx, templateID)
	if err != nil {
		return Result{}, fmt.Errorf("load custom template: %w", err)
	}
	if tpl == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	if !tpl.Enabled {
		return Result{}, fmt.Errorf("%w: %s", ErrTemplateDisabled, templateID)
	}

	data := map[string]any{"templateId": tpl.ID}
	for k, v := range customData {
		data[k] = v
	}

	p := d.render(Message{
		Title:              templates.Render(tpl.Title, customData),
		Body:               templates.Render(tpl.Message, customData),
		Icon:               tpl.Icon,
		URL:                customData["url"],
		Priority:           tpl.Priority,
		RequireInteraction: tpl.RequireInteraction,
		Data:               data,
	})

	return d.sendTargeted(ctx, KindCustom, c, p)
}

// render turns a message into a provider-ready payload and applies the
// urgency policy.
func (d *Dispatcher) render(msg Message) push.Payload {
	now := d.now()

	priority := msg.Priority
	if !priority.Valid() {
		priority = templates.PriorityNormal
	}

	url := msg.URL
	if url == "" {
		url = "/"
	}
	data := map[string]any{"url": url}
	for k, v := range msg.Data {
		data[k] = v
	}

	p := push.Payload{
		Title:              msg.Title,
		Body:               msg.Body,
		Icon:               msg.Icon,
		Badge:              defaultBadge,
		Image:              msg.Image,
		Data:               data,
		Tag:                msg.Tag,
		RequireInteraction: msg.RequireInteraction,
		Priority:           string(priority),
		Timestamp:          now.UnixMilli(),
	}
	if p.Icon == "" {
		p.Icon = defaultIcon
	}

	if d.cfg.ForceHighUrgency {
		p.RequireInteraction = true
		p.Renotify = true
		p.Vibrate = urgentVibration
		p.Urgency = push.UrgencyHigh
		if p.Tag == "" {
			// Browsers reject renotify without a tag.
			p.Tag = "canteen-" + uuid.NewString()
		}
		return p
	}

	p.Urgency = push.UrgencyNormal
	if priority == templates.PriorityHigh {
		p.Urgency = push.UrgencyHigh
		p.Vibrate = urgentVibration
	}
	p.Renotify = p.Tag != ""
	return p
}

// deliver sends p to every subscription concurrently and waits for all of
// them. One failure never stops the others; gone endpoints are pruned.
func (d *Dispatcher) deliver(ctx context.Context, kind, targetType string, subs []subscription.Subscription, p push.Payload) Result {
	if d.keys == nil || !d.keys.IsConfigured() {
		d.logger.Warn("push keys not configured, notification dropped", zap.String("kind", kind))
		return Result{Success: true}
	}
	if len(subs) == 0 {
		d.logger.Info("no subscriptions to notify", zap.String("kind", kind))
		return Result{Success: true}
	}

	start := d.now()
	var sent, pruned atomic.Int64

	var g errgroup.Group
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}

	for _, sub := range subs {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()

			err := d.sender.Send(sendCtx, sub, p)
			switch {
			case err == nil:
				sent.Add(1)
				metrics.RecordPushSend(metrics.OutcomeSent)

			case errors.Is(err, push.ErrGone):
				metrics.RecordPushSend(metrics.OutcomeGone)
				if d.subs.Remove(ctx, sub.ID) {
					pruned.Add(1)
				}
				d.logger.Info("pruned expired push subscription",
					zap.String("subscription_id", sub.ID),
					zap.Int64("user_id", sub.UserID),
				)

			case errors.Is(err, circuitbreaker.ErrCircuitOpen):
				metrics.RecordPushSend(metrics.OutcomeCircuitOpen)

			case errors.Is(err, context.DeadlineExceeded):
				metrics.RecordPushSend(metrics.OutcomeTimeout)
				d.logger.Warn("push send timed out",
					zap.String("subscription_id", sub.ID),
					zap.String("host", push.Host(sub.Endpoint)),
					zap.Duration("timeout", d.cfg.SendTimeout),
				)

			default:
				metrics.RecordPushSend(metrics.OutcomeFailed)
				d.logger.Warn("push send failed",
					zap.String("subscription_id", sub.ID),
					zap.String("host", push.Host(sub.Endpoint)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Success:     true,
		SentCount:   int(sent.Load()),
		TargetCount: len(subs),
		PrunedCount: int(pruned.Load()),
	}
	elapsed := d.now().Sub(start)

	metrics.RecordDispatch(kind, res.TargetCount, elapsed)
	if res.PrunedCount > 0 {
		metrics.RecordPruned(res.PrunedCount)
		metrics.SetSubscriptions(len(d.subs.All()))
	}

	d.logger.Info("notification dispatched",
		zap.String("kind", kind),
		zap.Int("targets", res.TargetCount),
		zap.Int("sent", res.SentCount),
		zap.Int("pruned", res.PrunedCount),
		zap.Duration("took", elapsed),
	)

	d.audit(ctx, Event{
		Kind:        kind,
		TargetType:  targetType,
		TargetCount: res.TargetCount,
		SentCount:   res.SentCount,
		PrunedCount: res.PrunedCount,
		DurationMs:  elapsed.Milliseconds(),
		At:          start.UTC(),
	})

	return res
}

func (d *Dispatcher) audit(ctx context.Context, e Event) {
	if d.auditor == nil {
		return
	}
	// The dispatch already happened; don't lose the event to a cancelled
	// request context.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := d.auditor.PublishDispatch(actx, e); err != nil {
		d.logger.Warn("failed to publish dispatch audit event",
			zap.String("kind", e.Kind),
			zap.Error(err),
		)
	}
}
