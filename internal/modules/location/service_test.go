package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"rideflow/internal/types"
)

const (
	pickupLat = 28.61
	pickupLng = 77.20
)

func newMemoryService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryRegistry())
}

func mustUpdate(t *testing.T, svc *Service, id, class string, lat, lng float64) {
	t.Helper()
	if _, err := svc.UpdateDriverLocation(context.Background(), Update{
		DriverID:     types.ID(id),
		VehicleClass: class,
		Lat:          lat,
		Lng:          lng,
	}); err != nil {
		t.Fatalf("update %s: %v", id, err)
	}
}

func sortedIDs(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}

func TestFindCandidates_RadiusBoundary(t *testing.T) {
	svc := newMemoryService(t)
	const radius = 3.0
	const eps = 0.001

	mustUpdate(t, svc, "inside", "car", offsetNorth(pickupLat, radius-eps), pickupLng)
	mustUpdate(t, svc, "outside", "car", offsetNorth(pickupLat, radius+eps), pickupLng)

	ids, err := svc.FindCandidates(context.Background(), pickupLat, pickupLng, radius, types.VehicleCar)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := sortedIDs(ids)
	if len(got) != 1 || got[0] != "inside" {
		t.Fatalf("expected only the driver at R-eps, got %v", got)
	}
}

func TestFindCandidates_ClassFilterAndAlias(t *testing.T) {
	svc := newMemoryService(t)
	mustUpdate(t, svc, "car1", "car", offsetNorth(pickupLat, 1), pickupLng)
	mustUpdate(t, svc, "moto1", "moto", offsetNorth(pickupLat, 1), pickupLng)
	mustUpdate(t, svc, "moto2", "motorcycle", offsetNorth(pickupLat, 2), pickupLng)
	mustUpdate(t, svc, "auto1", "auto", offsetNorth(pickupLat, 0.5), pickupLng)

	ctx := context.Background()
	for _, class := range []types.VehicleClass{types.VehicleMoto, types.VehicleMotorcycle} {
		ids, err := svc.FindCandidates(ctx, pickupLat, pickupLng, 5, class)
		if err != nil {
			t.Fatalf("find %s: %v", class, err)
		}
		got := sortedIDs(ids)
		if fmt.Sprint(got) != "[moto1 moto2]" {
			t.Fatalf("class %s: got %v", class, got)
		}
	}

	if _, err := svc.FindCandidates(ctx, pickupLat, pickupLng, 5, "bus"); !errors.Is(err, types.ErrInvalidVehicleClass) {
		t.Fatalf("expected ErrInvalidVehicleClass, got %v", err)
	}
}

func TestFindCandidates_LastWriteWins(t *testing.T) {
	svc := newMemoryService(t)
	mustUpdate(t, svc, "d1", "car", offsetNorth(pickupLat, 1), pickupLng)
	// Driver moves far away and switches vehicle.
	mustUpdate(t, svc, "d1", "auto", offsetNorth(pickupLat, 50), pickupLng)

	ids, err := svc.FindCandidates(context.Background(), pickupLat, pickupLng, 5, types.VehicleCar)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected stale record to be overwritten, got %v", ids)
	}

	rec, err := svc.GetDriver(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.VehicleClass != types.VehicleAuto {
		t.Fatalf("expected auto, got %s", rec.VehicleClass)
	}
}

func TestRemoveDriver(t *testing.T) {
	svc := newMemoryService(t)
	mustUpdate(t, svc, "d1", "car", pickupLat, pickupLng)
	if err := svc.RemoveDriver(context.Background(), "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetDriver(context.Background(), "d1"); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound, got %v", err)
	}
}

func TestUpdateDriverLocation_Validation(t *testing.T) {
	svc := newMemoryService(t)
	ctx := context.Background()

	if _, err := svc.UpdateDriverLocation(ctx, Update{VehicleClass: "car"}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing driver id: got %v", err)
	}
	if _, err := svc.UpdateDriverLocation(ctx, Update{DriverID: "d", VehicleClass: "jet"}); !errors.Is(err, types.ErrInvalidVehicleClass) {
		t.Errorf("bad class: got %v", err)
	}
	if _, err := svc.UpdateDriverLocation(ctx, Update{DriverID: "d", VehicleClass: "car", Lat: 120}); !errors.Is(err, types.ErrInvalidPoint) {
		t.Errorf("bad lat: got %v", err)
	}

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	rec, err := svc.UpdateDriverLocation(ctx, Update{DriverID: "d", VehicleClass: "moto", Lat: 1, Lng: 2})
	if err != nil {
		t.Fatal(err)
	}
	if rec.VehicleClass != types.VehicleMotorcycle || !rec.UpdatedAt.Equal(fixed) {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestRedisRegistry_FindCandidates(t *testing.T) {
	redisAddr := os.Getenv("RIDEFLOW_TEST_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("RIDEFLOW_TEST_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	svc := NewService(NewRedisRegistry(rdb))
	ctx := context.Background()

	suffix := time.Now().UnixNano()
	inside := fmt.Sprintf("driver_in_%d", suffix)
	outside := fmt.Sprintf("driver_out_%d", suffix)
	other := fmt.Sprintf("driver_auto_%d", suffix)
	t.Cleanup(func() {
		for _, id := range []string{inside, outside, other} {
			_ = svc.RemoveDriver(ctx, types.ID(id))
		}
	})

	mustUpdate(t, svc, inside, "car", offsetNorth(pickupLat, 2.99), pickupLng)
	mustUpdate(t, svc, outside, "car", offsetNorth(pickupLat, 3.01), pickupLng)
	mustUpdate(t, svc, other, "auto", offsetNorth(pickupLat, 1), pickupLng)

	ids, err := svc.FindCandidates(ctx, pickupLat, pickupLng, 3, types.VehicleCar)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	found := map[types.ID]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[types.ID(inside)] || found[types.ID(outside)] || found[types.ID(other)] {
		t.Fatalf("unexpected candidates %v", ids)
	}

	rec, err := svc.GetDriver(ctx, types.ID(inside))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.VehicleClass != types.VehicleCar {
		t.Fatalf("expected car, got %s", rec.VehicleClass)
	}

	// Switching class moves the driver between per-class indexes.
	mustUpdate(t, svc, inside, "auto", offsetNorth(pickupLat, 1), pickupLng)
	ids, err = svc.FindCandidates(ctx, pickupLat, pickupLng, 3, types.VehicleCar)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if id == types.ID(inside) {
			t.Fatal("driver still indexed under old class")
		}
	}
}
