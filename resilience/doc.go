// Package resilience guards the engine's calls into external systems.
//
// Sources use Retry, CircuitBreaker and RateLimiter around document-store
// requests; plugin stages share a Bulkhead that bounds the number of
// subprocesses running at once:
//
//	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("couchdb"))
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{Name: "couchdb", Rate: 50, Burst: 10})
//
//	err := resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
//	    if err := rl.Wait(ctx); err != nil {
//	        return err
//	    }
//	    return cb.Execute(func() error { return send(ctx) })
//	})
//
// Errors are AppErrors. Retry only repeats errors marked retryable, so a
// lost claim or a missing document is returned at once while a refused
// connection is retried with backoff.
package resilience
