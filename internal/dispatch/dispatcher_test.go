package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/push"
	"github.com/lalithlochan/canteen/internal/subscription"
	"github.com/lalithlochan/canteen/internal/targeting"
	"github.com/lalithlochan/canteen/internal/templates"
)

// mockSender records every send and answers per endpoint.
type mockSender struct {
	mu       sync.Mutex
	calls    []push.Payload
	targets  []string
	failures map[string]error
	delay    time.Duration

	inFlight int
	peak     int
}

func (m *mockSender) Send(ctx context.Context, sub subscription.Subscription, p push.Payload) error {
	m.mu.Lock()
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	m.targets = append(m.targets, sub.Endpoint)
	return m.failures[sub.Endpoint]
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockSender) peakInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func (m *mockSender) last() push.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

type staticKeys bool

func (k staticKeys) IsConfigured() bool { return bool(k) }

type directory struct{ byRole map[string][]int64 }

func (d directory) AllUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, v := range d.byRole {
		ids = append(ids, v...)
	}
	return ids, nil
}

func (d directory) UserIDsByRole(ctx context.Context, roles []string) ([]int64, error) {
	var ids []int64
	for _, r := range roles {
		ids = append(ids, d.byRole[r]...)
	}
	return ids, nil
}

func (directory) UserIDsByDepartment(ctx context.Context, v []string) ([]int64, error) {
	return nil, nil
}
func (directory) UserIDsByYear(ctx context.Context, v []int) ([]int64, error) { return nil, nil }
func (directory) UserIDsByRegisterNumber(ctx context.Context, v []string) ([]int64, error) {
	return nil, nil
}
func (directory) UserIDsByStaffID(ctx context.Context, v []string) ([]int64, error) { return nil, nil }

type recordingAuditor struct {
	mu     sync.Mutex
	events []Event
}

func (a *recordingAuditor) PublishDispatch(ctx context.Context, e Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

type fixture struct {
	d        *Dispatcher
	sender   *mockSender
	registry *subscription.Registry
	store    *templates.Store
	custom   *templates.CustomStore
	auditor  *recordingAuditor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := zap.NewNop()

	registry := subscription.NewRegistry(nil, logger)
	store := templates.NewStore(nil, logger)
	store.Init(context.Background())
	custom := templates.NewCustomStore(templates.NewMemoryCustomRepository(), logger)
	sender := &mockSender{failures: map[string]error{}}
	auditor := &recordingAuditor{}

	d := New(Deps{
		Subscriptions: registry,
		Templates:     store,
		Custom:        custom,
		Resolver:      targeting.NewResolver(directory{byRole: map[string][]int64{"student": {1, 2}, "staff": {3}}}),
		Keys:          staticKeys(true),
		Sender:        sender,
		Auditor:       auditor,
	}, cfg, logger)

	return &fixture{d: d, sender: sender, registry: registry, store: store, custom: custom, auditor: auditor}
}

func (f *fixture) subscribe(url string, userID int64, role string) string {
	return f.registry.Add(context.Background(),
		subscription.Endpoint{URL: url, Keys: subscription.Keys{P256dh: "k", Auth: "a"}},
		userID, role, nil)
}

func TestAdvancedTargeting_PrunesGoneEndpoints(t *testing.T) {
	f := newFixture(t, Config{ForceHighUrgency: true})
	f.subscribe("https://push.example/1", 1, "student")
	f.subscribe("https://push.example/2", 2, "student")
	f.subscribe("https://push.example/3", 2, "student")
	f.sender.failures["https://push.example/2"] = push.ErrGone

	res, err := f.d.SendWithAdvancedTargeting(context.Background(),
		targeting.Criteria{TargetType: targeting.TargetSpecificUsers, Values: []string{"1", "2"}},
		Message{Title: "Canteen closing", Body: "Last orders at 3pm"})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.TargetCount)
	assert.Equal(t, 2, res.SentCount)
	assert.Equal(t, 1, res.PrunedCount)
	assert.Len(t, f.registry.All(), 2)

	_, ok := f.registry.Get(subscription.ID("https://push.example/2"))
	assert.False(t, ok, "gone subscription should be pruned")
}

func TestTransientFailureDoesNotPrune(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 1, "student")
	f.subscribe("https://push.example/2", 1, "student")
	f.sender.failures["https://push.example/1"] = errors.New("connection reset")

	res := f.d.SendToUser(context.Background(), 1, Message{Title: "hi"})

	assert.Equal(t, Result{Success: true, SentCount: 1, TargetCount: 2}, res)
	assert.Len(t, f.registry.All(), 2)
}

func TestEmptyTargetingIsZeroCountSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 1, "student")

	for _, typ := range []targeting.TargetType{targeting.TargetRole, targeting.TargetDepartment, targeting.TargetSpecificUsers} {
		res, err := f.d.SendWithAdvancedTargeting(context.Background(),
			targeting.Criteria{TargetType: typ}, Message{Title: "x"})
		require.NoError(t, err)
		assert.Equal(t, Result{Success: true}, res, string(typ))
	}
	assert.Zero(t, f.sender.count())
}

func TestUnknownTargetTypeIsReported(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.d.SendWithAdvancedTargeting(context.Background(),
		targeting.Criteria{TargetType: "hostel", Values: []string{"A"}}, Message{Title: "x"})
	assert.ErrorIs(t, err, targeting.ErrUnknownTargetType)
}

func TestSendToRoleAndAll(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 1, "student")
	f.subscribe("https://push.example/2", 3, "staff")

	res := f.d.SendToRole(context.Background(), "staff", Message{Title: "Staff meeting"})
	assert.Equal(t, 1, res.SentCount)

	res = f.d.SendToAll(context.Background(), Message{Title: "Holiday"})
	assert.Equal(t, 2, res.SentCount)
	assert.Equal(t, 3, f.sender.count())
}

func TestNoKeysIsNoOp(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.keys = staticKeys(false)
	f.subscribe("https://push.example/1", 1, "student")

	res := f.d.SendToAll(context.Background(), Message{Title: "x"})
	assert.Equal(t, Result{Success: true}, res)
	assert.Zero(t, f.sender.count())
}

func TestOrderUpdate_RendersOrderNumber(t *testing.T) {
	f := newFixture(t, Config{ForceHighUrgency: true})
	f.subscribe("https://push.example/1", 9, "student")

	res := f.d.SendOrderUpdate(context.Background(), 9, "A1B2C3", templates.StatusReady, "")
	require.Equal(t, 1, res.SentCount)

	p := f.sender.last()
	assert.NotContains(t, p.Body, "{orderNumber}")
	assert.Contains(t, p.Body, "A1B2C3")
	assert.Equal(t, "order-A1B2C3", p.Tag)
	assert.Equal(t, "/orders/A1B2C3", p.Data["url"])
	assert.Equal(t, templates.StatusReady, p.Data["status"])
}

func TestOrderUpdate_Override(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 9, "student")

	f.d.SendOrderUpdate(context.Background(), 9, "Z9", templates.StatusPreparing, "Running 5 minutes late")
	assert.Equal(t, "Running 5 minutes late", f.sender.last().Body)
}

func TestOrderUpdate_DisabledTemplateSendsNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 9, "student")

	ready, _ := f.store.Get(templates.StatusReady)
	ready.Enabled = false
	ok, err := f.store.Update(context.Background(), ready)
	require.NoError(t, err)
	require.True(t, ok)

	res := f.d.SendOrderUpdate(context.Background(), 9, "A1B2C3", templates.StatusReady, "")
	assert.Equal(t, Result{Success: true}, res)
	assert.Zero(t, f.sender.count())
}

func TestOrderUpdate_UnknownStatus(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 9, "student")

	res := f.d.SendOrderUpdate(context.Background(), 9, "A1", "refunded", "")
	assert.Equal(t, Result{Success: true}, res)
	assert.Zero(t, f.sender.count())
}

func TestCustomTemplateRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 1, "student")
	f.subscribe("https://push.example/2", 2, "student")
	ctx := context.Background()

	tpl, err := f.custom.Create(ctx, templates.CustomTemplate{
		Name:    "special",
		Title:   "{dish} today",
		Message: "Try our {dish} for {price}",
		Enabled: true,
	}, "operator-1")
	require.NoError(t, err)

	got, err := f.custom.Get(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	criteria := targeting.Criteria{TargetType: targeting.TargetRole, Values: []string{"student"}}
	res, err := f.d.SendCustomTemplateNotification(ctx, tpl.ID, criteria, map[string]string{"dish": "Biryani", "price": "Rs 90"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SentCount)

	p := f.sender.last()
	assert.Equal(t, "Biryani today", p.Title)
	assert.Equal(t, "Try our Biryani for Rs 90", p.Body)
	assert.Equal(t, tpl.ID, p.Data["templateId"])

	ok, err := f.custom.Delete(ctx, tpl.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = f.custom.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.d.SendCustomTemplateNotification(ctx, tpl.ID, criteria, nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestCustomTemplateDisabled(t *testing.T) {
	f := newFixture(t, Config{})
	tpl, err := f.custom.Create(context.Background(), templates.CustomTemplate{Name: "off", Title: "x", Enabled: false}, "op")
	require.NoError(t, err)

	_, err = f.d.SendCustomTemplateNotification(context.Background(), tpl.ID,
		targeting.Criteria{TargetType: targeting.TargetAll}, nil)
	assert.ErrorIs(t, err, ErrTemplateDisabled)
}

func TestUrgencyPolicy(t *testing.T) {
	tests := []struct {
		name     string
		force    bool
		msg      Message
		urgency  push.Urgency
		interact bool
		renotify bool
		vibrate  bool
	}{
		{"forced overrides normal", true, Message{Title: "x", Priority: templates.PriorityNormal}, push.UrgencyHigh, true, true, true},
		{"unforced normal", false, Message{Title: "x"}, push.UrgencyNormal, false, false, false},
		{"unforced high", false, Message{Title: "x", Priority: templates.PriorityHigh, Tag: "t"}, push.UrgencyHigh, false, true, true},
		{"unforced keeps interaction", false, Message{Title: "x", RequireInteraction: true}, push.UrgencyNormal, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{ForceHighUrgency: tt.force})
			p := f.d.render(tt.msg)

			assert.Equal(t, tt.urgency, p.Urgency)
			assert.Equal(t, tt.interact, p.RequireInteraction)
			assert.Equal(t, tt.renotify, p.Renotify)
			assert.Equal(t, tt.vibrate, len(p.Vibrate) > 0)
			if p.Renotify {
				assert.NotEmpty(t, p.Tag, "renotify needs a tag")
			}
			assert.NotEmpty(t, p.Icon)
		})
	}
}

func TestPerSendTimeout(t *testing.T) {
	f := newFixture(t, Config{SendTimeout: 20 * time.Millisecond})
	f.sender.delay = time.Second
	f.subscribe("https://slow.push.example/1", 1, "student")

	start := time.Now()
	res := f.d.SendToUser(context.Background(), 1, Message{Title: "x"})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, res.SentCount)
	assert.Equal(t, 1, res.TargetCount)
}

func TestConcurrencyLimit(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrency: 2})
	f.sender.delay = 30 * time.Millisecond
	for i := 0; i < 6; i++ {
		f.subscribe("https://push.example/"+strings.Repeat("x", i+1), 1, "student")
	}

	start := time.Now()
	res := f.d.SendToUser(context.Background(), 1, Message{Title: "x"})
	elapsed := time.Since(start)

	assert.Equal(t, 6, res.SentCount)
	assert.Equal(t, 2, f.sender.peakInFlight(), "sends should run two at a time")
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond, "six sends at two wide take three rounds")
}

func TestFanOutRunsSendsInParallel(t *testing.T) {
	const (
		n     = 8
		delay = 100 * time.Millisecond
	)
	f := newFixture(t, Config{})
	f.sender.delay = delay
	for i := 0; i < n; i++ {
		f.subscribe("https://push.example/"+strings.Repeat("y", i+1), 1, "student")
	}

	start := time.Now()
	res := f.d.SendToUser(context.Background(), 1, Message{Title: "x"})
	elapsed := time.Since(start)

	assert.Equal(t, n, res.SentCount)
	assert.Equal(t, n, f.sender.peakInFlight(), "every send should be in flight at once")
	assert.Less(t, elapsed, 4*delay, "fan-out took %s, close to serial %s", elapsed, n*delay)
}

func TestAuditEventPublished(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe("https://push.example/1", 1, "student")

	_, err := f.d.SendWithAdvancedTargeting(context.Background(),
		targeting.Criteria{TargetType: targeting.TargetRole, Values: []string{"student"}}, Message{Title: "x"})
	require.NoError(t, err)

	require.Len(t, f.auditor.events, 1)
	e := f.auditor.events[0]
	assert.Equal(t, KindAdvanced, e.Kind)
	assert.Equal(t, "role", e.TargetType)
	assert.Equal(t, 1, e.SentCount)
}

func TestForcedUrgencyTagsAreUnique(t *testing.T) {
	f := newFixture(t, Config{ForceHighUrgency: true})
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.d.now = func() time.Time { return frozen }

	first := f.d.render(Message{Title: "Lunch is ready"})
	second := f.d.render(Message{Title: "Dinner menu posted"})

	require.NotEmpty(t, first.Tag)
	require.NotEmpty(t, second.Tag)
	assert.NotEqual(t, first.Tag, second.Tag, "broadcasts in the same millisecond must not replace each other")
	assert.True(t, strings.HasPrefix(first.Tag, "canteen-"))
}
