// Package subscription keeps track of the browsers and devices that can
// receive push notifications, keyed by a stable id derived from the endpoint.
package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// idLength is how many hex characters of the endpoint hash form the id.
const idLength = 16

// Keys are the client-side encryption keys issued by the browser.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Endpoint is the subscription object a browser hands out from
// PushManager.subscribe().
type Endpoint struct {
	URL  string `json:"endpoint"`
	Keys Keys   `json:"keys"`
}

// DeviceInfo is optional metadata reported by the client.
type DeviceInfo struct {
	UserAgent string `json:"userAgent,omitempty"`
	Platform  string `json:"platform,omitempty"`
	IsMobile  bool   `json:"isMobile,omitempty"`
}

// Subscription is one registered endpoint owned by one user.
type Subscription struct {
	ID           string      `json:"id"`
	Endpoint     string      `json:"endpoint"`
	Keys         Keys        `json:"keys"`
	UserID       int64       `json:"userId"`
	UserRole     string      `json:"userRole"`
	DeviceInfo   *DeviceInfo `json:"deviceInfo,omitempty"`
	SubscribedAt time.Time   `json:"subscribedAt"`
}

// Stats summarizes the registry for the admin dashboard.
type Stats struct {
	Total       int            `json:"totalSubscriptions"`
	ByRole      map[string]int `json:"byRole"`
	UniqueUsers int            `json:"uniqueUsers"`
}

// Store persists subscriptions across restarts. The registry treats it as a
// write-through mirror: the in-memory map stays authoritative and store
// failures are logged, never surfaced to the caller.
type Store interface {
	Save(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]Subscription, error)
}

// Registry is the in-memory set of live subscriptions.
type Registry struct {
	// writeMu orders Add and Remove including their store call, so the
	// store sees mutations in the same order as the map.
	writeMu sync.Mutex
	mu      sync.RWMutex
	subs    map[string]Subscription
	store   Store // nil keeps subscriptions in memory only
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry creates a registry. store may be nil.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		subs:   make(map[string]Subscription),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ID derives the subscription id from an endpoint URL. The same browser
// re-subscribing with the same endpoint always maps to the same id.
func ID(endpointURL string) string {
	sum := sha256.Sum256([]byte(endpointURL))
	return hex.EncodeToString(sum[:])[:idLength]
}

// Load replaces the in-memory set with the contents of the store.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	subs, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = make(map[string]Subscription, len(subs))
	for _, s := range subs {
		r.subs[s.ID] = s
	}

	return len(r.subs), nil
}

// Add registers or overwrites the subscription for endpoint and returns its id.
func (r *Registry) Add(ctx context.Context, endpoint Endpoint, userID int64, role string, device *DeviceInfo) string {
	sub := Subscription{
		ID:           ID(endpoint.URL),
		Endpoint:     endpoint.URL,
		Keys:         endpoint.Keys,
		UserID:       userID,
		UserRole:     role,
		DeviceInfo:   device,
		SubscribedAt: r.now().UTC(),
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	_, existed := r.subs[sub.ID]
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(ctx, sub); err != nil {
			r.logger.Warn("failed to persist subscription",
				zap.Error(err),
				zap.String("subscription_id", sub.ID),
			)
		}
	}

	r.logger.Info("push subscription registered",
		zap.String("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
		zap.String("role", role),
		zap.Bool("replaced", existed),
	)

	return sub.ID
}

// Remove deletes a subscription and reports whether one was present.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			r.logger.Warn("failed to delete persisted subscription",
				zap.Error(err),
				zap.String("subscription_id", id),
			)
		}
	}

	return true
}

// Get returns a copy of the subscription with the given id.
func (r *Registry) Get(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}

// All returns every subscription.
func (r *Registry) All() []Subscription {
	return r.filter(func(Subscription) bool { return true })
}

// ForUser returns the subscriptions owned by userID.
func (r *Registry) ForUser(userID int64) []Subscription {
	return r.filter(func(s Subscription) bool { return s.UserID == userID })
}

// ForRole returns the subscriptions registered under role.
func (r *Registry) ForRole(role string) []Subscription {
	return r.filter(func(s Subscription) bool { return s.UserRole == role })
}

// ForUsers returns the subscriptions whose owner is in userIDs.
func (r *Registry) ForUsers(userIDs []int64) []Subscription {
	if len(userIDs) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return r.filter(func(s Subscription) bool {
		_, ok := set[s.UserID]
		return ok
	})
}

// Stats counts subscriptions by role and distinct owner.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{Total: len(r.subs), ByRole: make(map[string]int)}
	users := make(map[int64]struct{})
	for _, s := range r.subs {
		st.ByRole[s.UserRole]++
		users[s.UserID] = struct{}{}
	}
	st.UniqueUsers = len(users)

	return st
}

func (r *Registry) filter(keep func(Subscription) bool) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for _, s := range r.subs {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
