package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fixedResult(host string, ports ...int) *PortResult {
	names := make(map[int]string)
	for _, p := range ports {
		if n, ok := ServiceName(p); ok {
			names[p] = n
		}
	}
	return &PortResult{Host: host, OpenPorts: ports, ServiceNames: names, ScannedAt: time.Now().UTC()}
}

func TestSingleFlight(t *testing.T) {
	cache := NewPortCache(nil, nil)

	var computes atomic.Int32
	compute := func() (*PortResult, error) {
		computes.Add(1)
		time.Sleep(50 * time.Millisecond)
		return fixedResult("10.0.0.1", 22), nil
	}

	const callers = 8
	results := make([]*PortResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := cache.GetOrCompute(context.Background(), "10.0.0.1", time.Hour, compute)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if n := computes.Load(); n != 1 {
		t.Fatalf("compute ran %d times, want exactly 1", n)
	}
	for i, res := range results {
		if res != results[0] {
			t.Errorf("caller %d received a different result object", i)
		}
	}
}

func TestCacheTTL(t *testing.T) {
	cache := NewPortCache(nil, nil)
	ctx := context.Background()

	var computes atomic.Int32
	compute := func() (*PortResult, error) {
		computes.Add(1)
		return fixedResult("10.0.0.1", 80), nil
	}

	ttl := 60 * time.Millisecond
	if _, err := cache.GetOrCompute(ctx, "10.0.0.1", ttl, compute); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetOrCompute(ctx, "10.0.0.1", ttl, compute); err != nil {
		t.Fatal(err)
	}
	if n := computes.Load(); n != 1 {
		t.Fatalf("compute ran %d times inside TTL, want 1", n)
	}

	time.Sleep(ttl + 20*time.Millisecond)

	if _, err := cache.GetOrCompute(ctx, "10.0.0.1", ttl, compute); err != nil {
		t.Fatal(err)
	}
	if n := computes.Load(); n != 2 {
		t.Fatalf("compute ran %d times after expiry, want 2", n)
	}
}

func TestComputeErrorNotCached(t *testing.T) {
	cache := NewPortCache(nil, nil)
	ctx := context.Background()
	boom := errors.New("sweep failed")

	var computes atomic.Int32
	failing := func() (*PortResult, error) {
		computes.Add(1)
		return nil, boom
	}

	if _, err := cache.GetOrCompute(ctx, "10.0.0.9", time.Hour, failing); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want sweep failure", err)
	}

	// Failure is not cached; the next caller computes again.
	if _, err := cache.GetOrCompute(ctx, "10.0.0.9", time.Hour, func() (*PortResult, error) {
		computes.Add(1)
		return fixedResult("10.0.0.9", 443), nil
	}); err != nil {
		t.Fatal(err)
	}
	if n := computes.Load(); n != 2 {
		t.Fatalf("computes = %d, want 2", n)
	}
}

func TestPeekReportsInFlight(t *testing.T) {
	cache := NewPortCache(nil, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = cache.GetOrCompute(context.Background(), "10.0.0.2", time.Hour, func() (*PortResult, error) {
			close(started)
			<-release
			return fixedResult("10.0.0.2"), nil
		})
	}()

	<-started
	if _, hit, inFlight := cache.Peek("10.0.0.2"); hit || !inFlight {
		t.Errorf("Peek during compute: hit=%v inFlight=%v, want false/true", hit, inFlight)
	}
	close(release)

	deadline := time.After(time.Second)
	for {
		if res, hit, inFlight := cache.Peek("10.0.0.2"); hit && !inFlight {
			if res.Host != "10.0.0.2" {
				t.Errorf("Peek result host = %q", res.Host)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("compute never landed in cache")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestInvalidateAndAge(t *testing.T) {
	cache := NewPortCache(nil, nil)
	ctx := context.Background()

	if _, err := cache.GetOrCompute(ctx, "10.0.0.3", time.Hour, func() (*PortResult, error) {
		return fixedResult("10.0.0.3", 22), nil
	}); err != nil {
		t.Fatal(err)
	}

	if age, ok := cache.Age("10.0.0.3"); !ok || age < 0 || age > time.Second {
		t.Errorf("Age = %v/%v, want small positive duration", age, ok)
	}

	cache.Invalidate("10.0.0.3")
	if _, ok := cache.Get("10.0.0.3"); ok {
		t.Error("entry survived Invalidate")
	}
	if _, ok := cache.Age("10.0.0.3"); ok {
		t.Error("Age reported for invalidated entry")
	}
}

// memStore is an in-memory Store for exercising the persistence path.
type memStore struct {
	mu      sync.Mutex
	data    map[string]*PortResult
	expiry  map[string]time.Time
	getErr  error
	puts    int
	deletes int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*PortResult), expiry: make(map[string]time.Time)}
}

func (s *memStore) Get(host string) (*PortResult, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, time.Time{}, s.getErr
	}
	res, ok := s.data[host]
	if !ok {
		return nil, time.Time{}, ErrNotCached
	}
	return res, s.expiry[host], nil
}

func (s *memStore) Put(host string, res *PortResult, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[host] = res
	s.expiry[host] = expiresAt
	s.puts++
	return nil
}

func (s *memStore) Delete(host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, host)
	delete(s.expiry, host)
	s.deletes++
	return nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*PortResult)
	s.expiry = make(map[string]time.Time)
	return nil
}

func TestPersistedReadThrough(t *testing.T) {
	store := newMemStore()
	persisted := fixedResult("10.0.0.4", 443)
	_ = store.Put("10.0.0.4", persisted, time.Now().Add(time.Hour))
	store.puts = 0

	cache := NewPortCache(store, nil)
	res, err := cache.GetOrCompute(context.Background(), "10.0.0.4", time.Hour, func() (*PortResult, error) {
		t.Error("compute ran despite live persisted entry")
		return nil, errors.New("unexpected")
	})
	if err != nil {
		t.Fatal(err)
	}
	if res != persisted {
		t.Error("expected the persisted result to be served")
	}
}

func TestPersistedWriteThrough(t *testing.T) {
	store := newMemStore()
	cache := NewPortCache(store, nil)

	if _, err := cache.GetOrCompute(context.Background(), "10.0.0.5", time.Hour, func() (*PortResult, error) {
		return fixedResult("10.0.0.5", 22), nil
	}); err != nil {
		t.Fatal(err)
	}
	if store.puts != 1 {
		t.Errorf("store puts = %d, want 1", store.puts)
	}

	cache.Invalidate("10.0.0.5")
	if store.deletes != 1 {
		t.Errorf("store deletes = %d, want 1", store.deletes)
	}
}

func TestEvictedDuringComputeNotPersisted(t *testing.T) {
	store := newMemStore()
	cache := NewPortCache(store, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = cache.GetOrCompute(context.Background(), "10.0.0.7", time.Hour, func() (*PortResult, error) {
			close(started)
			<-release
			return fixedResult("10.0.0.7", 22), nil
		})
	}()

	// Evict while the sweep is still running; its result must not be
	// re-persisted behind the operator's back.
	<-started
	cache.Invalidate("10.0.0.7")
	close(release)
	<-finished

	if store.puts != 0 {
		t.Errorf("store puts = %d after mid-compute invalidate, want 0", store.puts)
	}
	if _, ok := cache.Get("10.0.0.7"); ok {
		t.Error("invalidated entry reappeared")
	}
}

func TestCorruptStoreDegradesToMiss(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("unreadable payload")

	cache := NewPortCache(store, nil)
	var computes atomic.Int32
	res, err := cache.GetOrCompute(context.Background(), "10.0.0.6", time.Hour, func() (*PortResult, error) {
		computes.Add(1)
		return fixedResult("10.0.0.6", 80), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if computes.Load() != 1 {
		t.Error("corrupt store should fall through to a fresh compute")
	}
	if len(res.OpenPorts) != 1 || res.OpenPorts[0] != 80 {
		t.Errorf("unexpected result %+v", res)
	}
}
