package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func startRedis(t *testing.T) (*miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, "redis://" + mr.Addr()
}

func mustClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := New(url)
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewWithConfig(t *testing.T) {
	_, live := startRedis(t)
	tuned := &ClientConfig{
		PoolSize:     8,
		MinIdleConns: 1,
		MaxConnAge:   time.Minute,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  time.Second,
	}

	tests := []struct {
		name    string
		url     string
		cfg     *ClientConfig
		wantErr bool
	}{
		{"defaults", live, nil, false},
		{"tuned pool", live, tuned, false},
		{"empty url", "", DefaultClientConfig(), true},
		{"bad scheme", "wallets://nowhere", nil, true},
		{"not a url", "not-a-valid-redis-url", tuned, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewWithConfig(tt.url, tt.cfg)
			if tt.wantErr {
				if err == nil || client != nil {
					t.Fatalf("expected error and nil client, got %v / %v", client, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected client, got %v", err)
			}
			defer client.Close()
			if err := client.Ping(context.Background()); err != nil {
				t.Errorf("expected ping to succeed, got %v", err)
			}
		})
	}
}

func TestNew_UsesDefaults(t *testing.T) {
	_, url := startRedis(t)
	client, err := New(url)
	if err != nil {
		t.Fatalf("expected client, got %v", err)
	}
	defer client.Close()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty url")
	}
	if got := client.PoolStats(); got == nil {
		t.Error("expected pool stats")
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	if cfg.MaxConnAge != 30*time.Minute {
		t.Errorf("expected max conn age 30m, got %v", cfg.MaxConnAge)
	}
	if cfg.PoolSize <= cfg.MinIdleConns {
		t.Errorf("expected pool size above idle floor, got %d <= %d", cfg.PoolSize, cfg.MinIdleConns)
	}
}

func TestClient_Get_Missing(t *testing.T) {
	_, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	value, err := client.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error for missing key, got %v", err)
	}
	if value != "" {
		t.Errorf("expected empty value, got %q", value)
	}
}

func TestClient_HGet(t *testing.T) {
	_, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	if err := client.HSet(ctx, "keys", "k1", "v1", "k2", "v2"); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	tests := []struct {
		key, field, want string
	}{
		{"keys", "k1", "v1"},
		{"keys", "k2", "v2"},
		{"keys", "k3", ""},
		{"missing", "k1", ""},
	}
	for _, tt := range tests {
		got, err := client.HGet(ctx, tt.key, tt.field)
		if err != nil {
			t.Errorf("HGet(%s, %s): unexpected error %v", tt.key, tt.field, err)
		}
		if got != tt.want {
			t.Errorf("HGet(%s, %s): expected %q, got %q", tt.key, tt.field, tt.want, got)
		}
	}
}

func TestClient_HIncrBy(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.HIncrBy(ctx, "counters:ad-1", "clicks", 2); err != nil {
			t.Fatalf("HIncrBy failed: %v", err)
		}
	}

	got := mr.HGet("counters:ad-1", "clicks")
	if got != "6" {
		t.Errorf("expected clicks=6, got %q", got)
	}
}

func TestClient_HIncrByFloat(t *testing.T) {
	_, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	if _, err := client.HIncrByFloat(ctx, "counters:ad-1", "spend", 1.25); err != nil {
		t.Fatalf("HIncrByFloat failed: %v", err)
	}
	total, err := client.HIncrByFloat(ctx, "counters:ad-1", "spend", 0.75)
	if err != nil {
		t.Fatalf("HIncrByFloat failed: %v", err)
	}
	if total != 2.0 {
		t.Errorf("expected spend 2.0, got %v", total)
	}

	all, err := client.HGetAll(ctx, "counters:ad-1")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if spend, err := strconv.ParseFloat(all["spend"], 64); err != nil || spend != 2.0 {
		t.Errorf("expected stored spend 2, got %q", all["spend"])
	}
}

func TestClient_Pipelined(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	err := client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, "counters:ad-1", "impressions", 1)
		pipe.HIncrBy(ctx, "counters:ad-1", "impressions", 1)
		pipe.HIncrBy(ctx, "counters:ad-2", "clicks", 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Pipelined failed: %v", err)
	}

	if got := mr.HGet("counters:ad-1", "impressions"); got != "2" {
		t.Errorf("expected impressions=2, got %q", got)
	}
	if got := mr.HGet("counters:ad-2", "clicks"); got != "1" {
		t.Errorf("expected clicks=1, got %q", got)
	}
}

func TestClient_Optimistic_Commit(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	mr.Set("balance", "10")

	err := client.Optimistic(ctx, func(tx *goredis.Tx) (func(goredis.Pipeliner) error, error) {
		current, err := tx.Get(ctx, "balance").Int()
		if err != nil {
			return nil, err
		}
		return func(p goredis.Pipeliner) error {
			p.Set(ctx, "balance", current-4, 0)
			return nil
		}, nil
	}, "balance")
	if err != nil {
		t.Fatalf("Optimistic failed: %v", err)
	}

	got, _ := mr.Get("balance")
	if got != "6" {
		t.Errorf("expected balance 6, got %q", got)
	}
}

func TestClient_Optimistic_Conflict(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	mr.Set("balance", "10")

	err := client.Optimistic(ctx, func(tx *goredis.Tx) (func(goredis.Pipeliner) error, error) {
		// concurrent writer touches the watched key
		if err := client.client.Set(ctx, "balance", "3", 0).Err(); err != nil {
			return nil, err
		}
		return func(p goredis.Pipeliner) error {
			p.Set(ctx, "balance", "0", 0)
			return nil
		}, nil
	}, "balance")

	if !errors.Is(err, ErrTxConflict) {
		t.Fatalf("expected ErrTxConflict, got %v", err)
	}

	got, _ := mr.Get("balance")
	if got != "3" {
		t.Errorf("expected concurrent value to survive, got %q", got)
	}
}

func TestClient_Optimistic_NoWrites(t *testing.T) {
	_, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	err := client.Optimistic(context.Background(), func(tx *goredis.Tx) (func(goredis.Pipeliner) error, error) {
		return nil, nil
	}, "anything")
	if err != nil {
		t.Errorf("expected nil error when no writes queued, got %v", err)
	}
}

func TestClient_Acquire(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	release, err := client.Acquire(ctx, "wallet:adv-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := client.Acquire(ctx, "wallet:adv-1", time.Second); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld for second acquire, got %v", err)
	}

	release()
	release()

	if mr.Exists("lock:wallet:adv-1") {
		t.Error("expected lock key to be deleted after release")
	}

	release2, err := client.Acquire(ctx, "wallet:adv-1", time.Second)
	if err != nil {
		t.Fatalf("expected re-acquire to succeed, got %v", err)
	}
	release2()
}

func TestClient_Acquire_ReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	release, err := client.Acquire(ctx, "wallet:adv-2", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// lock expired and was taken by someone else
	mr.Set("lock:wallet:adv-2", "foreign-token")
	release()

	got, _ := mr.Get("lock:wallet:adv-2")
	if got != "foreign-token" {
		t.Errorf("expected foreign lock to survive, got %q", got)
	}
}

func TestClient_ConcurrentIncrements(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.HIncrBy(ctx, "counters:ad-9", "impressions", 1)
		}()
	}
	wg.Wait()

	if got := mr.HGet("counters:ad-9", "impressions"); got != "20" {
		t.Errorf("expected 20 impressions, got %q", got)
	}
}

func TestClient_Ping_AfterServerClosed(t *testing.T) {
	mr, redisURL := startRedis(t)
	client := mustClient(t, redisURL)

	mr.Close()

	if err := client.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after server closed")
	}
}
