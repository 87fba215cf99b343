/*
Package main is the AIWendy server entry point.

# Overview

cmd/aiwendy starts the roundtable HTTP API: session management, the
streamed multi-coach exchange endpoint (SSE and WebSocket), health probes
and a separate Prometheus metrics listener. Configuration comes from YAML
plus AIWENDY_* environment overrides.

# Core types

  - Server     wires store, provider, retriever and orchestrator, manages
    the HTTP and metrics listeners and graceful shutdown
  - Middleware is func(http.Handler) http.Handler, composed with Chain

# Capabilities

  - Subcommands: serve, version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders, RequestLogger,
    OTelTracing, Metrics, CORS, RateLimiter (per client IP)
  - Metrics listener: /metrics (Prometheus) on its own port
  - Graceful shutdown: signal, then HTTP, metrics, store, telemetry in order
  - Build injection: Version, BuildTime, GitCommit via ldflags
*/
package main
