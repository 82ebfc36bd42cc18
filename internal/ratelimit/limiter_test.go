package ratelimit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/foxzi/disparos/internal/db"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/repository"
	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"
)

type fakeSettings struct {
	limits map[string]int
}

func (f *fakeSettings) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	limit, ok := f.limits[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &models.UserSettings{UserID: userID, DailyDispatchLimit: limit}, nil
}

// testClock returns a clock whose day can be moved forward
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClock() (*testClock, Clock) {
	tc := &testClock{now: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	return tc, Clock{Location: time.UTC, Now: tc.Now}
}

func setupBolt(t *testing.T) *bolt.DB {
	t.Helper()

	dir, err := os.MkdirTemp("", "ratelimit_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	database, err := bolt.Open(filepath.Join(dir, "test.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to open db: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(dir)
	})
	return database
}

type backend struct {
	name    string
	limiter Limiter
	clock   *testClock
}

// backends returns every limiter implementation with user u1 limited to 50
// and user u2 limited to the default
func backends(t *testing.T) []backend {
	t.Helper()
	var out []backend

	// sql
	{
		database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { database.Close() })
		if err := database.Migrate(); err != nil {
			t.Fatal(err)
		}
		repo := repository.NewSettingsRepository(database)
		ctx := context.Background()
		repo.Upsert(ctx, &models.UserSettings{UserID: "u1", DailyDispatchLimit: 50})
		repo.Upsert(ctx, &models.UserSettings{UserID: "u2", DailyDispatchLimit: 0})

		tc, clock := newTestClock()
		out = append(out, backend{"sql", NewSQLLimiter(repo, clock), tc})
	}

	settings := &fakeSettings{limits: map[string]int{"u1": 50, "u2": 0}}

	// redis
	{
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		tc, clock := newTestClock()
		out = append(out, backend{"redis", NewRedisLimiter(client, settings, clock), tc})
	}

	// bolt
	{
		tc, clock := newTestClock()
		l, err := NewBoltLimiter(setupBolt(t), settings, clock)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, backend{"bolt", l, tc})
	}

	return out
}

func TestCheckDoesNotIncrement(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				res, err := b.limiter.Check(ctx, "u1", 50)
				if err != nil {
					t.Fatalf("Check failed: %v", err)
				}
				if !res.Allowed || res.Used != 0 || res.Remaining != 50 || res.Limit != 50 {
					t.Errorf("Check %d = %+v", i, res)
				}
			}
		})
	}
}

func TestCheckDeniesOverLimit(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			if err := b.limiter.Confirm(ctx, "u1", 45); err != nil {
				t.Fatalf("Confirm failed: %v", err)
			}

			res, err := b.limiter.Check(ctx, "u1", 10)
			if err != nil {
				t.Fatal(err)
			}
			if res.Allowed {
				t.Error("expected 45+10 over 50 to be denied")
			}
			if res.Remaining != 5 {
				t.Errorf("Remaining = %d, want 5", res.Remaining)
			}

			res, _ = b.limiter.Check(ctx, "u1", 5)
			if !res.Allowed {
				t.Error("expected 45+5 to be allowed")
			}
		})
	}
}

func TestConfirmAccumulates(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			const n, c = 4, 7

			for i := 0; i < n; i++ {
				if err := b.limiter.Confirm(ctx, "u2", c); err != nil {
					t.Fatalf("Confirm failed: %v", err)
				}
			}

			res, err := b.limiter.Check(ctx, "u2", 1)
			if err != nil {
				t.Fatal(err)
			}
			if res.Used != n*c {
				t.Errorf("Used = %d, want %d", res.Used, n*c)
			}
			if res.Limit != models.DefaultDailyDispatchLimit {
				t.Errorf("Limit = %d, want default %d", res.Limit, models.DefaultDailyDispatchLimit)
			}
		})
	}
}

func TestConfirmConcurrent(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 10

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := b.limiter.Confirm(ctx, "u2", 2); err != nil {
						t.Errorf("Confirm failed: %v", err)
					}
				}()
			}
			wg.Wait()

			res, _ := b.limiter.Check(ctx, "u2", 1)
			if res.Used != workers*2 {
				t.Errorf("Used = %d, want %d", res.Used, workers*2)
			}
		})
	}
}

func TestCounterResetsOnNewDay(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			b.limiter.Confirm(ctx, "u1", 50)
			res, _ := b.limiter.Check(ctx, "u1", 1)
			if res.Allowed {
				t.Fatal("expected exhausted quota")
			}

			b.clock.advance(24 * time.Hour)

			res, err := b.limiter.Check(ctx, "u1", 1)
			if err != nil {
				t.Fatal(err)
			}
			if !res.Allowed || res.Used != 0 {
				t.Errorf("expected fresh quota on new day, got %+v", res)
			}

			b.limiter.Confirm(ctx, "u1", 3)
			res, _ = b.limiter.Check(ctx, "u1", 1)
			if res.Used != 3 {
				t.Errorf("Used = %d, want 3", res.Used)
			}
		})
	}
}

func TestUnknownUser(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			_, err := b.limiter.Check(context.Background(), "ghost", 1)
			if !errors.Is(err, repository.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestInvalidCount(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := b.limiter.Check(ctx, "u1", 0); !errors.Is(err, ErrInvalidCount) {
				t.Errorf("Check(0) error = %v", err)
			}
			if err := b.limiter.Confirm(ctx, "u1", -1); !errors.Is(err, ErrInvalidCount) {
				t.Errorf("Confirm(-1) error = %v", err)
			}
		})
	}
}

func TestClockToday(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*3600)
	instant := time.Date(2026, 10, 18, 1, 30, 0, 0, time.UTC)

	clock := Clock{Location: saoPaulo, Now: func() time.Time { return instant }}
	if got := clock.Today(); got != "2026-10-17" {
		t.Errorf("Today() = %s, want 2026-10-17", got)
	}

	clock.Location = time.UTC
	if got := clock.Today(); got != "2026-10-18" {
		t.Errorf("Today() = %s, want 2026-10-18", got)
	}

	// No location means the server zone
	clock.Location = nil
	if got, want := clock.Today(), instant.In(time.Local).Format("2006-01-02"); got != want {
		t.Errorf("Today() = %s, want %s", got, want)
	}
}

func TestRedisKeyExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, clock := newTestClock()
	l := NewRedisLimiter(client, &fakeSettings{limits: map[string]int{"u1": 50}}, clock)

	if err := l.Confirm(context.Background(), "u1", 5); err != nil {
		t.Fatal(err)
	}

	key := "disparos:dispatches:u1:2026-10-17"
	if ttl := mr.TTL(key); ttl != redisKeyTTL {
		t.Errorf("TTL = %v, want %v", ttl, redisKeyTTL)
	}

	mr.FastForward(redisKeyTTL + time.Second)
	if mr.Exists(key) {
		t.Error("expected key to expire")
	}
}
