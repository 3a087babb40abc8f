package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testLimiterConfig(burst int) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         burst,
		CleanupInterval:   time.Hour,
	}
}

func TestRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(3))
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("caller") {
			t.Fatalf("request %d of burst rejected", i+1)
		}
	}
	if rl.Allow("caller") {
		t.Error("request beyond burst allowed")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1))
	defer rl.Stop()

	if !rl.Allow("caller-a") {
		t.Fatal("first request for caller-a rejected")
	}
	if rl.Allow("caller-a") {
		t.Error("caller-a exceeded burst but was allowed")
	}
	if !rl.Allow("caller-b") {
		t.Error("caller-b rejected because of caller-a's bucket")
	}
}

func TestRateLimiter_TokensRefillOverTime(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 6000, // 100 tokens/sec so the test stays fast
		BurstSize:         1,
		CleanupInterval:   time.Hour,
	})
	defer rl.Stop()

	if !rl.Allow("caller") {
		t.Fatal("first request rejected")
	}
	if rl.Allow("caller") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)

	if !rl.Allow("caller") {
		t.Error("bucket did not refill after waiting")
	}
}

func TestRateLimiter_RemainingTokens(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5))
	defer rl.Stop()

	if got := rl.RemainingTokens("fresh"); got != 5 {
		t.Errorf("RemainingTokens for unseen key = %d, want full burst 5", got)
	}

	rl.Allow("caller")
	rl.Allow("caller")
	if got := rl.RemainingTokens("caller"); got != 3 {
		t.Errorf("RemainingTokens = %d, want 3", got)
	}
}

// ---------------------------------------------------------------------------
// Middleware behavior
// ---------------------------------------------------------------------------

func rateLimitedRouter(rl *RateLimiter, pre ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	for _, h := range pre {
		router.Use(h)
	}
	router.Use(RateLimitMiddleware(rl))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRateLimitMiddleware_Returns429WithHeaders(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(2))
	defer rl.Stop()
	router := rateLimitedRouter(rl)

	for i := 0; i < 2; i++ {
		if w := performRequest(router, "GET", "/ping", nil); w.Code != http.StatusOK {
			t.Fatalf("burst request %d: status %d", i+1, w.Code)
		}
	}

	w := performRequest(router, "GET", "/ping", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
	if w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("X-RateLimit-Remaining missing on 429")
	}
}

func TestRateLimitMiddleware_SuccessCarriesLimitHeaders(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5))
	defer rl.Stop()
	router := rateLimitedRouter(rl)

	w := performRequest(router, "GET", "/ping", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "60" {
		t.Errorf("X-RateLimit-Limit = %q, want 60", got)
	}
}

func TestRateLimitKey_PrefersAuthenticatedIdentity(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1))
	defer rl.Stop()

	// Pre-middleware simulates an auth layer that already identified the app.
	router := rateLimitedRouter(rl, func(c *gin.Context) {
		c.Set(ContextAppID, "app_abc123def456")
	})

	performRequest(router, "GET", "/ping", nil)
	if rl.RemainingTokens("app:app_abc123def456") != 0 {
		t.Error("request was not charged to the app bucket")
	}

	// Developer identity outranks app identity.
	router2 := rateLimitedRouter(rl, func(c *gin.Context) {
		c.Set(ContextDeveloperID, "dev-1")
		c.Set(ContextAppID, "app_abc123def456")
	})
	performRequest(router2, "GET", "/ping", nil)
	if rl.RemainingTokens("developer:dev-1") != 0 {
		t.Error("request was not charged to the developer bucket")
	}
}

func TestRateLimitKey_FallsBackToIP(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(3))
	defer rl.Stop()
	router := rateLimitedRouter(rl)

	performRequest(router, "GET", "/ping", nil)

	// httptest requests carry RemoteAddr 192.0.2.1.
	if got := rl.RemainingTokens("ip:192.0.2.1"); got != 2 {
		t.Errorf("ip bucket remaining = %d, want 2", got)
	}
}
