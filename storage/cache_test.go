package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"dispatch-board/domain"
	"dispatch-board/syncer"
)

type stubBackend struct {
	fetchWindowFn      func(ctx context.Context, site string, from, to domain.Date) (syncer.Window, error)
	fetchUnscheduledFn func(ctx context.Context, site string) ([]domain.Order, error)
	fetchTrucksFn      func(ctx context.Context, site string) ([]string, error)
	updateScheduleFn   func(ctx context.Context, site string, upd syncer.ScheduleUpdate) error
	saveRunFn          func(ctx context.Context, site string, run domain.Run, cell domain.CellKey) error
	saveRunSequenceFn  func(ctx context.Context, site string, run domain.Run) error
	deleteRunsFn       func(ctx context.Context, site string, runIDs []string) error
}

func (s *stubBackend) FetchWindow(ctx context.Context, site string, from, to domain.Date) (syncer.Window, error) {
	if s.fetchWindowFn == nil {
		return syncer.Window{}, errors.New("unexpected FetchWindow call")
	}
	return s.fetchWindowFn(ctx, site, from, to)
}

func (s *stubBackend) FetchUnscheduled(ctx context.Context, site string) ([]domain.Order, error) {
	if s.fetchUnscheduledFn == nil {
		return nil, errors.New("unexpected FetchUnscheduled call")
	}
	return s.fetchUnscheduledFn(ctx, site)
}

func (s *stubBackend) FetchTrucks(ctx context.Context, site string) ([]string, error) {
	if s.fetchTrucksFn == nil {
		return nil, errors.New("unexpected FetchTrucks call")
	}
	return s.fetchTrucksFn(ctx, site)
}

func (s *stubBackend) UpdateSchedule(ctx context.Context, site string, upd syncer.ScheduleUpdate) error {
	if s.updateScheduleFn == nil {
		return errors.New("unexpected UpdateSchedule call")
	}
	return s.updateScheduleFn(ctx, site, upd)
}

func (s *stubBackend) SaveRun(ctx context.Context, site string, run domain.Run, cell domain.CellKey) error {
	if s.saveRunFn == nil {
		return errors.New("unexpected SaveRun call")
	}
	return s.saveRunFn(ctx, site, run, cell)
}

func (s *stubBackend) SaveRunSequence(ctx context.Context, site string, run domain.Run) error {
	if s.saveRunSequenceFn == nil {
		return errors.New("unexpected SaveRunSequence call")
	}
	return s.saveRunSequenceFn(ctx, site, run)
}

func (s *stubBackend) DeleteRuns(ctx context.Context, site string, runIDs []string) error {
	if s.deleteRunsFn == nil {
		return errors.New("unexpected DeleteRuns call")
	}
	return s.deleteRunsFn(ctx, site, runIDs)
}

func testCacheDate(t *testing.T, s string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %s: %v", s, err)
	}
	return d
}

func testWindow(t *testing.T) syncer.Window {
	t.Helper()
	d := testCacheDate(t, "2025-01-15")
	return syncer.Window{
		Orders: []domain.Order{{ID: "so-a", Type: domain.SalesOrder, Quantity: decimal.NewFromInt(3), Date: &d}},
		Runs:   []domain.Run{},
		Cells: []domain.CellSnapshot{
			{Resource: "truck-1", Date: d, LooseOrderIDs: []string{"so-a"}},
		},
	}
}

func TestCacheFetchWindowMissThenHit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	site := "plant-7"
	from := testCacheDate(t, "2025-01-06")
	to := testCacheDate(t, "2025-01-27")
	expected := testWindow(t)

	var calls int
	cache := NewCache(&stubBackend{
		fetchWindowFn: func(ctx context.Context, st string, f, tt domain.Date) (syncer.Window, error) {
			calls++
			if st != site {
				t.Fatalf("unexpected site: %s", st)
			}
			return expected, nil
		},
	}, client, time.Minute)

	win, err := cache.FetchWindow(ctx, site, from, to)
	if err != nil {
		t.Fatalf("fetch window: %v", err)
	}
	if !reflect.DeepEqual(win, expected) {
		t.Fatalf("unexpected window: %#v", win)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(windowCacheKey(site)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchWindow(ctx, site, from, to)
	if err != nil {
		t.Fatalf("fetch cached window: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached window: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheFetchWindowBoundsMismatchRefetches(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	site := "plant-7"
	expected := testWindow(t)

	var calls int
	cache := NewCache(&stubBackend{
		fetchWindowFn: func(ctx context.Context, st string, f, tt domain.Date) (syncer.Window, error) {
			calls++
			return expected, nil
		},
	}, client, time.Minute)

	if _, err := cache.FetchWindow(ctx, site, testCacheDate(t, "2025-01-06"), testCacheDate(t, "2025-01-27")); err != nil {
		t.Fatalf("fetch window: %v", err)
	}
	// A cached entry for different bounds must not serve a widened window.
	if _, err := cache.FetchWindow(ctx, site, testCacheDate(t, "2025-01-06"), testCacheDate(t, "2025-02-10")); err != nil {
		t.Fatalf("fetch widened window: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected backend refetch on bounds change, calls=%d", calls)
	}
}

func TestCacheFetchUnscheduledMissThenHit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	site := "plant-7"
	expected := []domain.Order{{ID: "so-z", Type: domain.SalesOrder, Quantity: decimal.NewFromInt(2)}}

	var calls int
	cache := NewCache(&stubBackend{
		fetchUnscheduledFn: func(ctx context.Context, st string) ([]domain.Order, error) {
			calls++
			return append([]domain.Order(nil), expected...), nil
		},
	}, client, time.Minute)

	orders, err := cache.FetchUnscheduled(ctx, site)
	if err != nil {
		t.Fatalf("fetch unscheduled: %v", err)
	}
	if !reflect.DeepEqual(orders, expected) {
		t.Fatalf("unexpected orders: %#v", orders)
	}

	cached, err := cache.FetchUnscheduled(ctx, site)
	if err != nil {
		t.Fatalf("fetch cached unscheduled: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached orders: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheFetchTrucksMissThenHit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	site := "plant-7"
	expected := []string{"truck-1", "truck-2"}

	var calls int
	cache := NewCache(&stubBackend{
		fetchTrucksFn: func(ctx context.Context, st string) ([]string, error) {
			calls++
			return append([]string(nil), expected...), nil
		},
	}, client, time.Minute)

	if _, err := cache.FetchTrucks(ctx, site); err != nil {
		t.Fatalf("fetch trucks: %v", err)
	}
	trucks, err := cache.FetchTrucks(ctx, site)
	if err != nil {
		t.Fatalf("fetch cached trucks: %v", err)
	}
	if !reflect.DeepEqual(trucks, expected) {
		t.Fatalf("unexpected trucks: %#v", trucks)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheUpdateScheduleEvictsBoard(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	site := "plant-7"
	d := testCacheDate(t, "2025-01-15")

	var windowCalls int
	backend := &stubBackend{
		fetchWindowFn: func(ctx context.Context, st string, f, tt domain.Date) (syncer.Window, error) {
			windowCalls++
			return testWindow(t), nil
		},
		fetchUnscheduledFn: func(ctx context.Context, st string) ([]domain.Order, error) {
			return []domain.Order{}, nil
		},
		fetchTrucksFn: func(ctx context.Context, st string) ([]string, error) {
			return []string{"truck-1"}, nil
		},
		updateScheduleFn: func(ctx context.Context, st string, upd syncer.ScheduleUpdate) error {
			return nil
		},
	}
	cache := NewCache(backend, client, time.Minute)

	from, to := testCacheDate(t, "2025-01-06"), testCacheDate(t, "2025-01-27")
	if _, err := cache.FetchWindow(ctx, site, from, to); err != nil {
		t.Fatalf("fetch window: %v", err)
	}
	if _, err := cache.FetchUnscheduled(ctx, site); err != nil {
		t.Fatalf("fetch unscheduled: %v", err)
	}
	if _, err := cache.FetchTrucks(ctx, site); err != nil {
		t.Fatalf("fetch trucks: %v", err)
	}

	upd := syncer.ScheduleUpdate{OrderID: "so-a", OrderType: domain.SalesOrder, Date: &d, Resource: "truck-1"}
	if err := cache.UpdateSchedule(ctx, site, upd); err != nil {
		t.Fatalf("update schedule: %v", err)
	}

	if mr.Exists(windowCacheKey(site)) {
		t.Fatal("window cache should be evicted after a write")
	}
	if mr.Exists(poolCacheKey(site)) {
		t.Fatal("pool cache should be evicted after a write")
	}
	if !mr.Exists(trucksCacheKey(site)) {
		t.Fatal("trucks cache should survive scheduling writes")
	}

	if _, err := cache.FetchWindow(ctx, site, from, to); err != nil {
		t.Fatalf("refetch window: %v", err)
	}
	if windowCalls != 2 {
		t.Fatalf("expected refetch from backend after eviction, calls=%d", windowCalls)
	}
}

func TestCacheWriteFailureDoesNotEvict(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	site := "plant-7"
	boom := errors.New("table down")

	cache := NewCache(&stubBackend{
		fetchUnscheduledFn: func(ctx context.Context, st string) ([]domain.Order, error) {
			return []domain.Order{{ID: "so-z"}}, nil
		},
		updateScheduleFn: func(ctx context.Context, st string, upd syncer.ScheduleUpdate) error {
			return boom
		},
	}, client, time.Minute)

	if _, err := cache.FetchUnscheduled(ctx, site); err != nil {
		t.Fatalf("fetch unscheduled: %v", err)
	}
	if err := cache.UpdateSchedule(ctx, site, syncer.ScheduleUpdate{OrderID: "so-z"}); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !mr.Exists(poolCacheKey(site)) {
		t.Fatal("failed write must not evict the cache")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	site := "plant-7"
	if err := mr.Set(poolCacheKey(site), "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	var calls int
	cache := NewCache(&stubBackend{
		fetchUnscheduledFn: func(ctx context.Context, st string) ([]domain.Order, error) {
			calls++
			return []domain.Order{{ID: "so-z"}}, nil
		},
	}, client, time.Minute)

	orders, err := cache.FetchUnscheduled(ctx, site)
	if err != nil {
		t.Fatalf("fetch unscheduled: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "so-z" {
		t.Fatalf("unexpected orders: %#v", orders)
	}
	if calls != 1 {
		t.Fatalf("expected backend call past corrupt entry, calls=%d", calls)
	}
}

func TestCacheRedisDownFallsThrough(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	ctx := context.Background()
	cache := NewCache(&stubBackend{
		fetchTrucksFn: func(ctx context.Context, st string) ([]string, error) {
			return []string{"truck-1"}, nil
		},
	}, client, time.Minute)

	trucks, err := cache.FetchTrucks(ctx, "plant-7")
	if err != nil {
		t.Fatalf("fetch with redis down: %v", err)
	}
	if !reflect.DeepEqual(trucks, []string{"truck-1"}) {
		t.Fatalf("unexpected trucks: %#v", trucks)
	}
}
