package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/postersafari/postr-engine/errors"
)

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Name: "couchdb", Rate: 1, Burst: 3})
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if rl.Allow() {
		t.Error("call beyond burst should be rejected")
	}
	err := rl.Execute(func() error { return nil })
	if errors.CodeOf(err) != errors.ErrCodeRateLimited {
		t.Errorf("expected RATE_LIMITED, got %v", err)
	}
}

func TestRateLimiter_WaitBlocksUntilRefill(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 1})
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited < 5*time.Millisecond {
		t.Errorf("expected to wait for a token, waited %v", waited)
	}
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1})
	rl.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if tokens := rl.Tokens(); tokens < -0.01 {
		t.Errorf("canceled wait must give its token back, have %v", tokens)
	}
}
