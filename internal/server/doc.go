// Package server hosts the Fiber HTTP service and the middleware chain that
// runs in front of the cache handler: panic recovery, request IDs, metrics,
// and the 3-digit code validation that rejects every other path with 400
// before any filesystem access. It also owns the shared upstream http.Client
// used for provider fetches. Keep exports narrow and accept explicit
// dependencies so tests can build several independent apps.
package server
