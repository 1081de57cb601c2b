package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memStore struct {
	saved   map[string]Subscription
	failing bool
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]Subscription)}
}

func (m *memStore) Save(ctx context.Context, sub Subscription) error {
	if m.failing {
		return errors.New("store down")
	}
	m.saved[sub.ID] = sub
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	if m.failing {
		return errors.New("store down")
	}
	delete(m.saved, id)
	return nil
}

func (m *memStore) LoadAll(ctx context.Context) ([]Subscription, error) {
	if m.failing {
		return nil, errors.New("store down")
	}
	var out []Subscription
	for _, s := range m.saved {
		out = append(out, s)
	}
	return out, nil
}

func endpoint(url string) Endpoint {
	return Endpoint{URL: url, Keys: Keys{P256dh: "p256", Auth: "auth"}}
}

func TestAdd_IdempotentID(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	ctx := context.Background()

	first := r.Add(ctx, endpoint("https://push.example.com/abc"), 1, "student", nil)
	second := r.Add(ctx, endpoint("https://push.example.com/abc"), 1, "staff", nil)

	if first != second {
		t.Fatalf("expected same id, got %s and %s", first, second)
	}
	if len(first) != idLength {
		t.Errorf("id length = %d, want %d", len(first), idLength)
	}
	if got := r.Stats().Total; got != 1 {
		t.Errorf("expected 1 subscription, got %d", got)
	}

	sub, ok := r.Get(first)
	if !ok {
		t.Fatal("expected subscription to exist")
	}
	if sub.UserRole != "staff" {
		t.Errorf("re-subscribe should overwrite role, got %s", sub.UserRole)
	}
}

func TestAdd_DistinctEndpoints(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	ctx := context.Background()

	a := r.Add(ctx, endpoint("https://push.example.com/a"), 1, "student", nil)
	b := r.Add(ctx, endpoint("https://push.example.com/b"), 1, "student", nil)

	if a == b {
		t.Fatal("different endpoints must not share an id")
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	ctx := context.Background()

	id := r.Add(ctx, endpoint("https://push.example.com/x"), 7, "student", nil)

	if !r.Remove(ctx, id) {
		t.Fatal("first remove should report deletion")
	}
	if _, ok := r.Get(id); ok {
		t.Error("subscription should be gone")
	}
	if r.Remove(ctx, id) {
		t.Error("second remove should report nothing deleted")
	}
}

func TestLookups(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	ctx := context.Background()

	r.Add(ctx, endpoint("https://push.example.com/1"), 1, "student", nil)
	r.Add(ctx, endpoint("https://push.example.com/2"), 1, "student", &DeviceInfo{IsMobile: true})
	r.Add(ctx, endpoint("https://push.example.com/3"), 2, "staff", nil)
	r.Add(ctx, endpoint("https://push.example.com/4"), 3, "admin", nil)

	if got := len(r.ForUser(1)); got != 2 {
		t.Errorf("ForUser(1) = %d, want 2", got)
	}
	if got := len(r.ForRole("staff")); got != 1 {
		t.Errorf("ForRole(staff) = %d, want 1", got)
	}
	if got := len(r.ForUsers([]int64{1, 3, 99})); got != 3 {
		t.Errorf("ForUsers = %d, want 3", got)
	}
	if got := r.ForUsers(nil); len(got) != 0 {
		t.Errorf("ForUsers(nil) = %d, want 0", len(got))
	}
	if got := len(r.All()); got != 4 {
		t.Errorf("All = %d, want 4", got)
	}

	st := r.Stats()
	if st.Total != 4 || st.UniqueUsers != 3 {
		t.Errorf("stats = %+v", st)
	}
	if st.ByRole["student"] != 2 || st.ByRole["staff"] != 1 || st.ByRole["admin"] != 1 {
		t.Errorf("byRole = %v", st.ByRole)
	}
}

func TestStoreWriteThroughAndLoad(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	r := NewRegistry(store, zap.NewNop())
	id := r.Add(ctx, endpoint("https://push.example.com/persist"), 5, "student", nil)
	r.Add(ctx, endpoint("https://push.example.com/gone"), 6, "student", nil)
	r.Remove(ctx, ID("https://push.example.com/gone"))

	restarted := NewRegistry(store, zap.NewNop())
	n, err := restarted.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d subscriptions, want 1", n)
	}
	if _, ok := restarted.Get(id); !ok {
		t.Error("persisted subscription missing after reload")
	}
}

func TestStoreFailureDoesNotBlockRegistry(t *testing.T) {
	store := newMemStore()
	store.failing = true
	ctx := context.Background()

	r := NewRegistry(store, zap.NewNop())
	id := r.Add(ctx, endpoint("https://push.example.com/y"), 1, "student", nil)

	if _, ok := r.Get(id); !ok {
		t.Fatal("registry must keep the subscription when the store fails")
	}
	if !r.Remove(ctx, id) {
		t.Error("remove should still succeed in memory")
	}
	if _, err := r.Load(ctx); err == nil {
		t.Error("expected load error from failing store")
	}
}

// gatedStore blocks Save until release is closed.
type gatedStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, sub Subscription) error {
	close(g.entered)
	<-g.release
	return g.memStore.Save(ctx, sub)
}

func TestRemoveDuringPendingSaveStaysRemoved(t *testing.T) {
	store := &gatedStore{
		memStore: newMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	ctx := context.Background()
	r := NewRegistry(store, zap.NewNop())

	ep := endpoint("https://push.example.com/race")
	added := make(chan string, 1)
	go func() { added <- r.Add(ctx, ep, 9, "student", nil) }()
	<-store.entered

	removed := make(chan bool, 1)
	go func() { removed <- r.Remove(ctx, ID(ep.URL)) }()

	select {
	case <-removed:
		t.Fatal("remove must wait for the pending save")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	<-added
	if !<-removed {
		t.Fatal("remove should report the subscription as present")
	}

	if _, ok := r.Get(ID(ep.URL)); ok {
		t.Error("subscription should be gone from memory")
	}
	if len(store.saved) != 0 {
		t.Errorf("store should be empty, has %d entries", len(store.saved))
	}

	restarted := NewRegistry(store.memStore, zap.NewNop())
	if n, _ := restarted.Load(ctx); n != 0 {
		t.Errorf("restart restored %d removed subscriptions", n)
	}
}
