// Package httpclient is the HTTP transport used by remote sources. It adds
// authentication (basic, bearer or a signed JWT), default headers, JSON
// bodies and resilience (retry, circuit breaker, rate limiting) to
// net/http, and classifies failed responses into typed errors.
//
//	client, err := httpclient.New(httpclient.Config{
//	    BaseURL:        "http://couchdb:5984",
//	    Auth:           httpclient.BasicAuth("engine", "secret"),
//	    Retry:          httpclient.DefaultRetryConfig(),
//	    CircuitBreaker: httpclient.DefaultCircuitBreakerConfig("couchdb"),
//	})
//	resp, err := client.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: "/poster/p1"})
//	if httpclient.IsConflict(err) {
//	    // someone else updated the document first
//	}
package httpclient
