package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestLimiter(t *testing.T, db *bolt.DB, cfg *Config) *Limiter {
	t.Helper()

	limiter, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })

	return limiter
}

func TestNewLimiterDefaultConfig(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), nil)

	if limiter.config.FlushInterval != 10*time.Second {
		t.Errorf("FlushInterval = %v, want 10s", limiter.config.FlushInterval)
	}
}

func TestConfigEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want bool
	}{
		{"nil", nil, false},
		{"empty", &Config{}, false},
		{"zero values", &Config{Global: &LimitConfig{}}, false},
		{"global", &Config{Global: &LimitConfig{MessagesPerHour: 10}}, true},
		{"recipient domain", &Config{RecipientDomain: &LimitConfig{MessagesPerDay: 10}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllowGlobalLimit(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global: &LimitConfig{
			MessagesPerHour: 3,
			MessagesPerDay:  10,
		},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	req := &Request{Recipient: "reader@example.com"}

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, req)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	result, err := limiter.Allow(ctx, req)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if result.Allowed {
		t.Error("request 4 should be denied")
	}
	if result.DeniedBy != LevelGlobal {
		t.Errorf("DeniedBy = %s, want global", result.DeniedBy)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > time.Hour {
		t.Errorf("RetryAfter = %v, want within the hour", result.RetryAfter)
	}
}

func TestAllowRecipientDomainLimit(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		RecipientDomain: &LimitConfig{MessagesPerHour: 2},
		FlushInterval:   time.Hour,
	})

	ctx := context.Background()

	for _, to := range []string{"a@gmail.com", "b@GMAIL.com"} {
		result, _ := limiter.Allow(ctx, &Request{Recipient: to})
		if !result.Allowed {
			t.Errorf("%s should be allowed", to)
		}
	}

	result, _ := limiter.Allow(ctx, &Request{Recipient: "c@gmail.com"})
	if result.Allowed {
		t.Error("third gmail.com recipient should be denied")
	}
	if result.DeniedBy != LevelRecipient || result.DeniedKey != "recipient_domain:gmail.com" {
		t.Errorf("denied by %s/%s", result.DeniedBy, result.DeniedKey)
	}

	result, _ = limiter.Allow(ctx, &Request{Recipient: "d@example.org"})
	if !result.Allowed {
		t.Error("example.org has its own quota and should be allowed")
	}
}

func TestAllowDailyLimit(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{MessagesPerDay: 2},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	req := &Request{Recipient: "reader@example.com"}
	limiter.Allow(ctx, req)
	limiter.Allow(ctx, req)

	result, _ := limiter.Allow(ctx, req)
	if result.Allowed {
		t.Fatal("request 3 should be denied by the daily limit")
	}
	if result.RetryAfter <= time.Hour {
		t.Errorf("RetryAfter = %v, want close to a day", result.RetryAfter)
	}
}

func TestAllowDeniedDoesNotCount(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:          &LimitConfig{MessagesPerHour: 10},
		RecipientDomain: &LimitConfig{MessagesPerHour: 1},
		FlushInterval:   time.Hour,
	})

	ctx := context.Background()
	limiter.Allow(ctx, &Request{Recipient: "a@example.com"})
	limiter.Allow(ctx, &Request{Recipient: "b@example.com"}) // denied by domain

	stats, _ := limiter.GetStats(ctx, LevelGlobal, "global")
	if stats.HourlyCount != 1 {
		t.Errorf("global HourlyCount = %d, want 1", stats.HourlyCount)
	}
}

func TestWindowReset(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{MessagesPerHour: 1},
		FlushInterval: time.Hour,
	})

	now := time.Now()
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	req := &Request{Recipient: "reader@example.com"}
	limiter.Allow(ctx, req)

	if result, _ := limiter.Allow(ctx, req); result.Allowed {
		t.Fatal("second request in the same hour should be denied")
	}

	limiter.now = func() time.Time { return now.Add(61 * time.Minute) }
	if result, _ := limiter.Allow(ctx, req); !result.Allowed {
		t.Error("request in the next hour should be allowed")
	}
}

func TestCheck(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{MessagesPerHour: 2},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	req := &Request{Recipient: "reader@example.com"}

	for i := 0; i < 5; i++ {
		result, _ := limiter.Check(ctx, req)
		if !result.Allowed {
			t.Fatalf("Check %d should not consume quota", i+1)
		}
	}

	limiter.Allow(ctx, req)
	limiter.Allow(ctx, req)

	result, _ := limiter.Check(ctx, req)
	if result.Allowed {
		t.Error("Check should report the exhausted quota")
	}
}

func TestGetStatsNonExistent(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{FlushInterval: time.Hour})

	stats, err := limiter.GetStats(context.Background(), LevelRecipient, "nowhere.test")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.HourlyCount != 0 || stats.DailyCount != 0 {
		t.Errorf("stats = %+v, want zero counts", stats)
	}
}

func TestPersistence(t *testing.T) {
	db := setupTestDB(t)
	cfg := &Config{
		Global:        &LimitConfig{MessagesPerHour: 100},
		FlushInterval: time.Hour,
	}

	ctx := context.Background()
	limiter, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	for i := 0; i < 5; i++ {
		limiter.Allow(ctx, &Request{Recipient: "reader@example.com"})
	}
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	reopened := newTestLimiter(t, db, cfg)
	stats, _ := reopened.GetStats(ctx, LevelGlobal, "global")
	if stats.HourlyCount != 5 {
		t.Errorf("HourlyCount after reload = %d, want 5", stats.HourlyCount)
	}
}

func TestRecipientDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"reader@Example.COM", "example.com"},
		{" Reader <reader@example.com>", "example.com"},
		{"example.org", "example.org"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := RecipientDomain(tt.in); got != tt.want {
			t.Errorf("RecipientDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestZeroLimitsAllowEverything(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{},
		FlushInterval: time.Hour,
	})

	for i := 0; i < 50; i++ {
		result, _ := limiter.Allow(context.Background(), &Request{Recipient: "reader@example.com"})
		if !result.Allowed {
			t.Fatalf("request %d denied with zero limits", i+1)
		}
	}
}
