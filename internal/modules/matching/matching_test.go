// README: Matching service unit tests covering PickRandomDrivers, dispatch and the widen pass.
package matching

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"rideflow/internal/config"
	"rideflow/internal/maps"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

// ---------------------------------------------------------------------------
// Unit tests: PickRandomDrivers (pure function, no external dependencies)
// ---------------------------------------------------------------------------

func TestPickRandomDrivers_NormalCase(t *testing.T) {
	pool := makeDriverPool(10)
	selected := PickRandomDrivers(pool, 5)
	if len(selected) != 5 {
		t.Fatalf("expected 5, got %d", len(selected))
	}
	assertSubset(t, pool, selected)
	assertUnique(t, selected)
}

func TestPickRandomDrivers_FewerThanN(t *testing.T) {
	pool := makeDriverPool(3)
	selected := PickRandomDrivers(pool, 10)
	if len(selected) != 3 {
		t.Fatalf("expected all 3, got %d", len(selected))
	}
	assertUnique(t, selected)
}

func TestPickRandomDrivers_EmptyPool(t *testing.T) {
	if got := PickRandomDrivers(nil, 5); len(got) != 0 {
		t.Fatalf("expected 0 from nil pool, got %d", len(got))
	}
	if got := PickRandomDrivers([]types.ID{}, 5); len(got) != 0 {
		t.Fatalf("expected 0 from empty pool, got %d", len(got))
	}
}

func TestPickRandomDrivers_NonPositiveN(t *testing.T) {
	pool := makeDriverPool(5)
	for _, n := range []int{0, -1} {
		if got := PickRandomDrivers(pool, n); len(got) != 0 {
			t.Fatalf("expected 0 for n=%d, got %d", n, len(got))
		}
	}
}

func TestPickRandomDrivers_DoesNotMutatePool(t *testing.T) {
	pool := makeDriverPool(5)
	orig := make([]types.ID, len(pool))
	copy(orig, pool)
	PickRandomDrivers(pool, 3)
	for i, d := range pool {
		if d != orig[i] {
			t.Fatalf("pool mutated at index %d: got %s, want %s", i, d, orig[i])
		}
	}
}

// Over many runs each driver should be picked with roughly uniform probability.
func TestPickRandomDrivers_Distribution(t *testing.T) {
	pool := makeDriverPool(10)
	counts := make(map[types.ID]int, len(pool))
	const runs = 1000
	const pick = 5
	for i := 0; i < runs; i++ {
		for _, d := range PickRandomDrivers(pool, pick) {
			counts[d]++
		}
	}
	expected := runs * pick / len(pool)
	lo, hi := expected*40/100, expected*160/100
	for _, d := range pool {
		if c := counts[d]; c < lo || c > hi {
			t.Errorf("driver %s appeared %d times, want roughly %d (+/-60%%)", d, c, expected)
		}
	}
}

func TestPickRandomDrivers_Concurrent(t *testing.T) {
	pool := makeDriverPool(20)
	const goroutines = 8
	var wg sync.WaitGroup
	results := make(chan []types.ID, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- PickRandomDrivers(pool, 5)
		}()
	}
	wg.Wait()
	close(results)

	for sel := range results {
		if len(sel) != 5 {
			t.Fatalf("expected 5, got %d", len(sel))
		}
		assertUnique(t, sel)
		assertSubset(t, pool, sel)
	}
}

// ---------------------------------------------------------------------------
// Dispatch tests with an in-memory location registry
// ---------------------------------------------------------------------------

type recordingNotifier struct {
	mu     sync.Mutex
	offers map[types.ID][]ride.Offer
	fail   map[types.ID]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{offers: make(map[types.ID][]ride.Offer), fail: make(map[types.ID]bool)}
}

func (n *recordingNotifier) Notify(_ context.Context, recipient types.ID, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[recipient] {
		return errors.New("session gone")
	}
	if event != ride.EventNewRide {
		return fmt.Errorf("unexpected event %s", event)
	}
	n.offers[recipient] = append(n.offers[recipient], payload.(ride.Offer))
	return nil
}

func (n *recordingNotifier) recipients() map[types.ID]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[types.ID]int, len(n.offers))
	for id, o := range n.offers {
		out[id] = len(o)
	}
	return out
}

type fakeGeocoder struct {
	points map[string]types.Point
}

func (g fakeGeocoder) ResolveCoordinates(_ context.Context, address string) (types.Point, error) {
	p, ok := g.points[address]
	if !ok {
		return types.Point{}, maps.ErrAddressNotResolvable
	}
	return p, nil
}

type fakeRides struct {
	rides map[types.ID]*ride.Ride
}

func (f fakeRides) Get(_ context.Context, id types.ID) (*ride.Ride, error) {
	r, ok := f.rides[id]
	if !ok {
		return nil, ride.ErrRideNotFound
	}
	return r, nil
}

var delhi = types.Point{Lat: 28.6139, Lng: 77.2090}

func newTestLocator(t *testing.T) *location.Service {
	t.Helper()
	svc := location.NewService(location.NewMemoryRegistry())
	ctx := context.Background()
	updates := []location.Update{
		{DriverID: "car-near-1", VehicleClass: "car", Lat: 28.6200, Lng: 77.2100},
		{DriverID: "car-near-2", VehicleClass: "car", Lat: 28.6100, Lng: 77.2000},
		{DriverID: "car-near-3", VehicleClass: "car", Lat: 28.6150, Lng: 77.2150},
		{DriverID: "car-far", VehicleClass: "car", Lat: 28.7500, Lng: 77.2090},
		{DriverID: "auto-near", VehicleClass: "auto", Lat: 28.6140, Lng: 77.2091},
	}
	for _, u := range updates {
		if _, err := svc.UpdateDriverLocation(ctx, u); err != nil {
			t.Fatalf("seed %s: %v", u.DriverID, err)
		}
	}
	return svc
}

func newTestService(t *testing.T, cfg config.MatchingConfig) (*Service, *MemoryStore, *recordingNotifier) {
	t.Helper()
	store := NewMemoryStore()
	notifier := newRecordingNotifier()
	geocoder := fakeGeocoder{points: map[string]types.Point{"Connaught Place": delhi}}
	svc := NewService(store, newTestLocator(t), geocoder, notifier, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, notifier
}

func testOffer(pickup string, class types.VehicleClass) ride.Offer {
	return ride.Offer{
		RideID:       "ride-1",
		RiderID:      "rider-1",
		Pickup:       pickup,
		Destination:  "India Gate",
		VehicleClass: class,
		Fare:         210,
		Currency:     "INR",
	}
}

func TestDispatchNotifiesEveryCandidate(t *testing.T) {
	svc, store, notifier := newTestService(t, config.MatchingConfig{RadiusKm: 3})
	ctx := context.Background()

	if err := svc.Dispatch(ctx, testOffer("28.6139,77.2090", types.VehicleCar)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := notifier.recipients()
	for _, id := range []types.ID{"car-near-1", "car-near-2", "car-near-3"} {
		if got[id] != 1 {
			t.Fatalf("expected one offer for %s, got %d", id, got[id])
		}
	}
	if got["car-far"] != 0 || got["auto-near"] != 0 {
		t.Fatalf("offer leaked outside radius or class: %v", got)
	}
	if notified, _ := store.NotifiedDrivers(ctx, "ride-1"); len(notified) != 3 {
		t.Fatalf("dispatch not recorded: %v", notified)
	}
	due, _ := store.DueForBroadcast(ctx, time.Now().Add(time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("full dispatch should not wait for a broadcast, got %v", due)
	}
}

func TestDispatchGeocodesAddress(t *testing.T) {
	svc, _, notifier := newTestService(t, config.MatchingConfig{RadiusKm: 3})
	if err := svc.Dispatch(context.Background(), testOffer("Connaught Place", types.VehicleAuto)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := notifier.recipients()
	if len(got) != 1 || got["auto-near"] != 1 {
		t.Fatalf("expected only auto-near, got %v", got)
	}
}

func TestDispatchUnresolvablePickup(t *testing.T) {
	svc, _, notifier := newTestService(t, config.MatchingConfig{RadiusKm: 3})
	err := svc.Dispatch(context.Background(), testOffer("Atlantis", types.VehicleCar))
	if !errors.Is(err, maps.ErrAddressNotResolvable) {
		t.Fatalf("expected ErrAddressNotResolvable, got %v", err)
	}
	if len(notifier.recipients()) != 0 {
		t.Fatalf("no one should be offered an unresolvable ride")
	}
}

func TestDispatchIgnoresNotifyFailures(t *testing.T) {
	svc, store, notifier := newTestService(t, config.MatchingConfig{RadiusKm: 3})
	notifier.fail["car-near-1"] = true

	if err := svc.Dispatch(context.Background(), testOffer("28.6139,77.2090", types.VehicleCar)); err != nil {
		t.Fatalf("dispatch should not fail on a notify error: %v", err)
	}
	if len(notifier.recipients()) != 2 {
		t.Fatalf("other drivers should still be offered the ride")
	}
	notified, _ := store.NotifiedDrivers(context.Background(), "ride-1")
	if len(notified) != 3 {
		t.Fatalf("expected 3 notified drivers recorded, got %v", notified)
	}
}

func TestDispatchSampleThenWiden(t *testing.T) {
	cfg := config.MatchingConfig{RadiusKm: 3, MaxOffers: 1, BroadcastDelay: 30 * time.Second}
	svc, store, notifier := newTestService(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	offer := testOffer("28.6139,77.2090", types.VehicleCar)
	if err := svc.Dispatch(ctx, offer); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(notifier.recipients()) != 1 {
		t.Fatalf("expected one sampled offer, got %v", notifier.recipients())
	}

	svc.SetRideReader(fakeRides{rides: map[types.ID]*ride.Ride{
		"ride-1": {ID: "ride-1", RiderID: "rider-1", Pickup: offer.Pickup, VehicleClass: types.VehicleCar, Status: ride.StatusPending},
	}})

	svc.now = func() time.Time { return base.Add(10 * time.Second) }
	svc.tickBroadcast(ctx)
	if len(notifier.recipients()) != 1 {
		t.Fatalf("widened before the delay elapsed")
	}

	svc.now = func() time.Time { return base.Add(31 * time.Second) }
	svc.tickBroadcast(ctx)
	got := notifier.recipients()
	if len(got) != 3 {
		t.Fatalf("expected all 3 candidates after widening, got %v", got)
	}
	for id, n := range got {
		if n != 1 {
			t.Fatalf("driver %s offered %d times", id, n)
		}
	}
	if due, _ := store.DueForBroadcast(ctx, base.Add(time.Hour), 10); len(due) != 0 {
		t.Fatalf("ride still waiting after broadcast: %v", due)
	}
	if notified, _ := store.NotifiedDrivers(ctx, "ride-1"); len(notified) != 0 {
		t.Fatalf("bookkeeping kept after broadcast: %v", notified)
	}

	svc.tickBroadcast(ctx)
	for id, n := range notifier.recipients() {
		if n != 1 {
			t.Fatalf("driver %s offered again after broadcast", id)
		}
	}
}

func TestWidenSkipsAcceptedRide(t *testing.T) {
	cfg := config.MatchingConfig{RadiusKm: 3, MaxOffers: 1, BroadcastDelay: time.Second}
	svc, store, notifier := newTestService(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if err := svc.Dispatch(ctx, testOffer("28.6139,77.2090", types.VehicleCar)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	svc.SetRideReader(fakeRides{rides: map[types.ID]*ride.Ride{
		"ride-1": {ID: "ride-1", Status: ride.StatusAccepted},
	}})
	svc.now = func() time.Time { return base.Add(time.Minute) }
	svc.tickBroadcast(ctx)

	if len(notifier.recipients()) != 1 {
		t.Fatalf("accepted ride must not be widened")
	}
	if due, _ := store.DueForBroadcast(ctx, base.Add(time.Hour), 10); len(due) != 0 {
		t.Fatalf("accepted ride should leave the waiting set, got %v", due)
	}
}

func TestMemoryStorePrunesBookkeeping(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		id := types.ID(fmt.Sprintf("ride-%d", i))
		if err := store.RecordDispatch(ctx, Dispatch{RideID: id, Notified: []types.ID{"d1"}, DispatchedAt: base}, true); err != nil {
			t.Fatalf("record dispatch: %v", err)
		}
		if err := store.MarkBroadcast(ctx, id, []types.ID{"d2"}); err != nil {
			t.Fatalf("mark broadcast: %v", err)
		}
	}
	if n := len(store.recordedAt) + len(store.notified) + len(store.awaiting); n != 0 {
		t.Fatalf("broadcast rides left %d entries behind", n)
	}

	// Full dispatches never widen; they age out like the Redis keys.
	if err := store.RecordDispatch(ctx, Dispatch{RideID: "old", Notified: []types.ID{"d1"}, DispatchedAt: base}, false); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	later := base.Add(keyTTL + time.Minute)
	if err := store.RecordDispatch(ctx, Dispatch{RideID: "new", Notified: []types.ID{"d1"}, DispatchedAt: later}, false); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	if notified, _ := store.NotifiedDrivers(ctx, "old"); len(notified) != 0 {
		t.Fatalf("expired ride still tracked: %v", notified)
	}
	if notified, _ := store.NotifiedDrivers(ctx, "new"); len(notified) != 1 {
		t.Fatalf("fresh ride lost: %v", notified)
	}
}

func TestRedisStoreDispatchBookkeeping(t *testing.T) {
	addr := os.Getenv("RIDEFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEFLOW_TEST_REDIS_ADDR not set; skipping Redis-backed tests")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	rideID := types.ID(fmt.Sprintf("ride-test-%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		client.Del(ctx, notifiedKey(rideID))
		client.ZRem(ctx, awaitingKey, string(rideID))
	})

	store := NewRedisStore(client)
	at := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if err := store.RecordDispatch(ctx, Dispatch{RideID: rideID, Notified: []types.ID{"d1", "d2"}, DispatchedAt: at}, true); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	if ttl := client.TTL(ctx, notifiedKey(rideID)).Val(); ttl <= 0 || ttl > keyTTL {
		t.Fatalf("notified set should expire within %s, got %s", keyTTL, ttl)
	}
	due, err := store.DueForBroadcast(ctx, time.Now(), 1000)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if !containsID(due, rideID) {
		t.Fatalf("ride should be due for broadcast")
	}
	if err := store.MarkBroadcast(ctx, rideID, []types.ID{"d3"}); err != nil {
		t.Fatalf("mark broadcast: %v", err)
	}
	notified, _ := store.NotifiedDrivers(ctx, rideID)
	if len(notified) != 3 {
		t.Fatalf("expected 3 notified drivers, got %v", notified)
	}
	due, _ = store.DueForBroadcast(ctx, time.Now(), 1000)
	if containsID(due, rideID) {
		t.Fatalf("ride should leave the waiting set after broadcast")
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func makeDriverPool(n int) []types.ID {
	pool := make([]types.ID, n)
	for i := range pool {
		pool[i] = types.ID(fmt.Sprintf("driver_%d", i))
	}
	return pool
}

func assertSubset(t *testing.T, pool, subset []types.ID) {
	t.Helper()
	set := make(map[types.ID]bool, len(pool))
	for _, d := range pool {
		set[d] = true
	}
	for _, d := range subset {
		if !set[d] {
			t.Errorf("selected driver %s not in pool", d)
		}
	}
}

func assertUnique(t *testing.T, ids []types.ID) {
	t.Helper()
	seen := make(map[types.ID]bool, len(ids))
	for _, d := range ids {
		if seen[d] {
			t.Errorf("duplicate driver ID %s", d)
		}
		seen[d] = true
	}
}

func containsID(ids []types.ID, want types.ID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
