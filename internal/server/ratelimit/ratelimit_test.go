package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func triggerConfig(limit, burst int) *Config {
	return &Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/triggers", Method: "POST", Limit: limit, Window: time.Minute, Burst: burst},
			{Path: "/users/", Method: "GET", Limit: 2, Window: time.Hour},
		},
	}
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := NewLimiter(triggerConfig(30, 3))
	defer l.Stop()

	for i := 0; i < 3; i++ {
		allowed, info := l.Allow("10.0.0.1", "/triggers", "POST")
		if !allowed {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
		if info.Limit != 30 {
			t.Errorf("expected limit 30, got %d", info.Limit)
		}
	}

	allowed, info := l.Allow("10.0.0.1", "/triggers", "POST")
	if allowed {
		t.Fatal("expected request past the burst to be denied")
	}
	if info.RetryAfter <= 0 || info.RetryAfter > 2*time.Second {
		t.Errorf("expected retry after about 2s, got %v", info.RetryAfter)
	}
}

func TestLimiter_DeniedRequestsDoNotConsume(t *testing.T) {
	// 600/min refills a token every 100ms
	l := NewLimiter(triggerConfig(600, 1))
	defer l.Stop()

	if ok, _ := l.Allow("c", "/triggers", "POST"); !ok {
		t.Fatal("expected first request to be allowed")
	}
	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow("c", "/triggers", "POST"); ok {
			t.Fatal("expected request to be denied")
		}
	}
	time.Sleep(150 * time.Millisecond)
	if ok, _ := l.Allow("c", "/triggers", "POST"); !ok {
		t.Error("expected a refilled token despite earlier denials")
	}
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l := NewLimiter(triggerConfig(30, 1))
	defer l.Stop()

	if ok, _ := l.Allow("a", "/triggers", "POST"); !ok {
		t.Fatal("expected client a to be allowed")
	}
	if ok, _ := l.Allow("b", "/triggers", "POST"); !ok {
		t.Error("expected client b to have its own bucket")
	}
}

func TestLimiter_PrefixSharesBucket(t *testing.T) {
	l := NewLimiter(triggerConfig(30, 1))
	defer l.Stop()

	l.Allow("a", "/users/1/runs", "GET")
	l.Allow("a", "/users/2/runs", "GET")
	if ok, _ := l.Allow("a", "/users/3/runs", "GET"); ok {
		t.Error("expected paths under /users/ to share one bucket")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(&Config{Enabled: false})
	defer l.Stop()

	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow("a", "/triggers", "POST"); !ok {
			t.Fatal("expected every request to pass when disabled")
		}
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	l := NewLimiter(triggerConfig(30, 1))
	defer l.Stop()

	l.Allow("a", "/triggers", "POST")
	l.cleanup(time.Now().Add(time.Second))

	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("expected idle buckets to be dropped, %d left", n)
	}
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	cfg := triggerConfig(30, 1)
	cfg.CleanupInterval = 5 * time.Millisecond
	l := NewLimiter(cfg)
	time.Sleep(15 * time.Millisecond)
	l.Stop()
	l.Stop()
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(triggerConfig(30, 5))
	defer l.Stop()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("a", "/triggers", "POST"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Errorf("expected exactly the burst of 5 to pass, got %d", allowed)
	}
}

func TestMatchEndpoint(t *testing.T) {
	configs := triggerConfig(30, 1).EndpointConfigs

	if ec := MatchEndpoint("/health", "GET", configs); ec == nil || ec.Limit != 0 {
		t.Error("expected /health to be unlimited")
	}
	if ec := MatchEndpoint("/metrics", "GET", configs); ec == nil || ec.Limit != 0 {
		t.Error("expected /metrics to be unlimited")
	}
	if ec := MatchEndpoint("/triggers", "POST", configs); ec == nil || ec.Limit != 30 {
		t.Error("expected exact match for POST /triggers")
	}
	if ec := MatchEndpoint("/triggers", "GET", configs); ec != nil {
		t.Error("expected no match for a different method")
	}
	if ec := MatchEndpoint("/users/42/runs", "GET", configs); ec == nil || ec.Path != "/users/" {
		t.Error("expected prefix match under /users/")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(100, 12, time.Minute)
	if !cfg.Enabled || cfg.DefaultLimit != 100 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	ec := MatchEndpoint("/triggers", "POST", cfg.EndpointConfigs)
	if ec == nil || ec.Limit != 12 || ec.Burst != 2 {
		t.Errorf("unexpected trigger limit: %+v", ec)
	}
}
