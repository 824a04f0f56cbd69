// Package server hosts the Fiber HTTP service, request middleware chain, and
// the origin descriptor that wires site/host resolution into the edge handler.
// It bootstraps Fiber, attaches recovery and request-ID middlewares, exposes
// the shared upstream http.Client, and defines the EdgeHandler contract that
// the router package implements. Keep exports narrow and accept explicit
// dependencies so main and tests can assemble the pieces directly.
package server
